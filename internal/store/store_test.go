package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/nvandessel/skillroute/internal/models"
)

type openFunc func(dir string) (Store, error)

var backends = map[string]openFunc{
	BackendJSON:   func(dir string) (Store, error) { return NewJSONStore(dir) },
	BackendSQLite: func(dir string) (Store, error) { return NewSQLiteStore(dir) },
}

// forEachBackend runs fn against a fresh store of every backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, s Store, dir string, open openFunc)) {
	t.Helper()
	for name, open := range backends {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			s, err := open(dir)
			if err != nil {
				t.Fatalf("open %s: %v", name, err)
			}
			t.Cleanup(func() { s.Close() })
			fn(t, s, dir, open)
		})
	}
}

func TestAddConversation_IDFormat(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string, _ openFunc) {
		ctx := context.Background()
		id1, err := s.AddConversation(ctx, "summarize this pdf", "gemini", "gemini 'summarize this pdf'")
		if err != nil {
			t.Fatalf("AddConversation() error = %v", err)
		}
		id2, err := s.AddConversation(ctx, "fix the bug", "aider", "aider 'fix the bug'")
		if err != nil {
			t.Fatalf("AddConversation() error = %v", err)
		}
		if id1 == id2 {
			t.Fatalf("ids collide: %s", id1)
		}
		for _, id := range []string{id1, id2} {
			if len(id) < len("conv_1_0") || id[:5] != "conv_" {
				t.Errorf("id %q does not look like conv_<unix>_<n>", id)
			}
		}

		conv, err := s.GetConversation(ctx, id1)
		if err != nil {
			t.Fatalf("GetConversation() error = %v", err)
		}
		if conv.Tool != "gemini" || conv.UserInput != "summarize this pdf" {
			t.Errorf("GetConversation() = %+v", conv)
		}
		if conv.HasFeedback() || conv.FollowUpAnalyzed {
			t.Errorf("new conversation should carry no feedback: %+v", conv)
		}
	})
}

func TestAddSatisfactionFeedback_ValidScores(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string, _ openFunc) {
		ctx := context.Background()
		for score := models.MinScore; score <= models.MaxScore; score++ {
			id, err := s.AddConversation(ctx, "q", "codex", "codex 'q'")
			if err != nil {
				t.Fatalf("AddConversation() error = %v", err)
			}
			if err := s.AddSatisfactionFeedback(ctx, id, score, "note"); err != nil {
				t.Fatalf("AddSatisfactionFeedback(%d) error = %v", score, err)
			}
			conv, err := s.GetConversation(ctx, id)
			if err != nil {
				t.Fatalf("GetConversation() error = %v", err)
			}
			if conv.SatisfactionScore == nil || *conv.SatisfactionScore != score {
				t.Errorf("score = %v, want %d", conv.SatisfactionScore, score)
			}
			if conv.FeedbackSource != models.FeedbackManual {
				t.Errorf("source = %q, want manual", conv.FeedbackSource)
			}
		}
		scores, err := s.FeedbackScores(ctx)
		if err != nil {
			t.Fatalf("FeedbackScores() error = %v", err)
		}
		if diff := cmp.Diff([]int{1, 2, 3, 4, 5}, scores); diff != "" {
			t.Errorf("FeedbackScores() mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestAddSatisfactionFeedback_InvalidScoreLeavesStoreUnchanged(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string, _ openFunc) {
		ctx := context.Background()
		id, err := s.AddConversation(ctx, "q", "codex", "codex 'q'")
		if err != nil {
			t.Fatalf("AddConversation() error = %v", err)
		}
		before, fbBefore, _ := s.Snapshot(ctx)

		for _, score := range []int{0, 6, -1} {
			err := s.AddSatisfactionFeedback(ctx, id, score, "")
			if !errors.Is(err, ErrInvalidScore) {
				t.Errorf("score %d: error = %v, want ErrInvalidScore", score, err)
			}
		}

		after, fbAfter, _ := s.Snapshot(ctx)
		if diff := cmp.Diff(before, after); diff != "" {
			t.Errorf("conversations changed (-before +after):\n%s", diff)
		}
		if len(fbBefore) != len(fbAfter) {
			t.Errorf("feedback count changed: %d -> %d", len(fbBefore), len(fbAfter))
		}
	})
}

func TestAddSatisfactionFeedback_Errors(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string, _ openFunc) {
		ctx := context.Background()
		if err := s.AddSatisfactionFeedback(ctx, "conv_0_99", 3, ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("unknown id: error = %v, want ErrNotFound", err)
		}

		id, _ := s.AddConversation(ctx, "q", "codex", "codex 'q'")
		if err := s.AddSatisfactionFeedback(ctx, id, 4, "good"); err != nil {
			t.Fatalf("first feedback: %v", err)
		}
		if err := s.AddSatisfactionFeedback(ctx, id, 1, "changed my mind"); !errors.Is(err, ErrAlreadyRated) {
			t.Errorf("second feedback: error = %v, want ErrAlreadyRated", err)
		}
	})
}

func TestAddAutoFeedback_CompareAndSwap(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string, _ openFunc) {
		ctx := context.Background()
		manual, _ := s.AddConversation(ctx, "a", "codex", "codex 'a'")
		auto, _ := s.AddConversation(ctx, "b", "gemini", "gemini 'b'")

		if err := s.AddSatisfactionFeedback(ctx, manual, 5, "great"); err != nil {
			t.Fatalf("AddSatisfactionFeedback() error = %v", err)
		}
		applied, err := s.AddAutoFeedback(ctx, manual, 1, "auto")
		if err != nil || applied {
			t.Errorf("auto over manual: applied=%v err=%v, want false nil", applied, err)
		}
		conv, _ := s.GetConversation(ctx, manual)
		if *conv.SatisfactionScore != 5 {
			t.Errorf("manual score overwritten: %d", *conv.SatisfactionScore)
		}

		applied, err = s.AddAutoFeedback(ctx, auto, 2, "auto-detected from follow-up")
		if err != nil || !applied {
			t.Fatalf("auto on fresh: applied=%v err=%v", applied, err)
		}
		conv, _ = s.GetConversation(ctx, auto)
		if !conv.FollowUpAnalyzed || conv.FeedbackSource != models.FeedbackAuto {
			t.Errorf("auto conversation = %+v", conv)
		}

		applied, _ = s.AddAutoFeedback(ctx, auto, 4, "again")
		if applied {
			t.Error("second auto feedback should lose the swap")
		}

		// Manual feedback may still replace the auto-detected score.
		if err := s.AddSatisfactionFeedback(ctx, auto, 4, "actually fine"); err != nil {
			t.Fatalf("manual over auto: %v", err)
		}
		conv, _ = s.GetConversation(ctx, auto)
		if *conv.SatisfactionScore != 4 || conv.FeedbackSource != models.FeedbackManual {
			t.Errorf("manual over auto = %+v", conv)
		}

		if _, err := s.AddAutoFeedback(ctx, "conv_0_99", 3, ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("unknown id: error = %v, want ErrNotFound", err)
		}
	})
}

func TestSharedDataDir_ManualFeedbackSurvivesOtherInstance(t *testing.T) {
	forEachBackend(t, func(t *testing.T, server Store, dir string, open openFunc) {
		ctx := context.Background()
		cli, err := open(dir)
		if err != nil {
			t.Fatalf("open second instance: %v", err)
		}
		defer cli.Close()

		id, err := server.AddConversation(ctx, "summarize this pdf", "gemini", "gemini 'summarize this pdf'")
		if err != nil {
			t.Fatalf("AddConversation() error = %v", err)
		}
		if err := cli.AddSatisfactionFeedback(ctx, id, 5, "great"); err != nil {
			t.Fatalf("AddSatisfactionFeedback() from second instance: %v", err)
		}
		cliID, err := cli.AddConversation(ctx, "fix the bug", "aider", "aider 'fix the bug'")
		if err != nil {
			t.Fatalf("AddConversation() from second instance: %v", err)
		}

		applied, err := server.AddAutoFeedback(ctx, id, 1, "auto")
		if err != nil {
			t.Fatalf("AddAutoFeedback() error = %v", err)
		}
		if applied {
			t.Error("auto feedback replaced a manual score written by another instance")
		}
		if _, err := server.AddAutoFeedback(ctx, cliID, 2, "auto"); err != nil {
			t.Errorf("conversation logged by another instance not visible: %v", err)
		}

		server.Close()
		reopened, err := open(dir)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		defer reopened.Close()

		conv, err := reopened.GetConversation(ctx, id)
		if err != nil {
			t.Fatalf("GetConversation() error = %v", err)
		}
		if conv.SatisfactionScore == nil || *conv.SatisfactionScore != 5 || conv.FeedbackSource != models.FeedbackManual {
			t.Errorf("conversation after reopen = %+v, want manual score 5", conv)
		}
		recent, _ := reopened.RecentConversations(ctx, -1)
		if len(recent) != 2 {
			t.Errorf("RecentConversations() = %d conversations, want 2", len(recent))
		}
		_, fb, _ := reopened.Snapshot(ctx)
		if len(fb) != 2 {
			t.Fatalf("feedback records = %d, want 2 (manual and one auto)", len(fb))
		}
		if fb[0].ConversationID != id || fb[0].Source != models.FeedbackManual {
			t.Errorf("first feedback record = %+v, want the manual score", fb[0])
		}
	})
}

func TestSharedDataDir_ConcurrentManualAndAuto(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a Store, dir string, open openFunc) {
		ctx := context.Background()
		b, err := open(dir)
		if err != nil {
			t.Fatalf("open second instance: %v", err)
		}
		defer b.Close()

		const n = 5
		ids := make([]string, n)
		for i := range ids {
			if ids[i], err = a.AddConversation(ctx, "q", "codex", "codex 'q'"); err != nil {
				t.Fatalf("AddConversation() error = %v", err)
			}
		}

		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(2)
			go func() {
				defer wg.Done()
				if err := b.AddSatisfactionFeedback(ctx, id, 5, "manual"); err != nil {
					t.Errorf("AddSatisfactionFeedback(%s) error = %v", id, err)
				}
			}()
			go func() {
				defer wg.Done()
				if _, err := a.AddAutoFeedback(ctx, id, 1, "auto"); err != nil {
					t.Errorf("AddAutoFeedback(%s) error = %v", id, err)
				}
			}()
		}
		wg.Wait()

		_, fb, err := a.Snapshot(ctx)
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		manual := make(map[string]int)
		auto := make(map[string]int)
		for _, f := range fb {
			if f.Source == models.FeedbackManual {
				manual[f.ConversationID]++
			} else {
				auto[f.ConversationID]++
			}
		}
		for _, id := range ids {
			conv, err := a.GetConversation(ctx, id)
			if err != nil {
				t.Fatalf("GetConversation() error = %v", err)
			}
			if *conv.SatisfactionScore != 5 || conv.FeedbackSource != models.FeedbackManual {
				t.Errorf("%s = score %d source %s, want manual 5", id, *conv.SatisfactionScore, conv.FeedbackSource)
			}
			if manual[id] != 1 || auto[id] > 1 {
				t.Errorf("%s records: manual=%d auto=%d", id, manual[id], auto[id])
			}
		}
	})
}

func TestQueries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string, _ openFunc) {
		ctx := context.Background()

		if _, ok, err := s.AverageSatisfaction(ctx); err != nil || ok {
			t.Errorf("AverageSatisfaction() on empty = ok %v err %v", ok, err)
		}

		ids := make([]string, 4)
		for i := range ids {
			ids[i], _ = s.AddConversation(ctx, "q", "codex", "codex 'q'")
		}
		_ = s.AddSatisfactionFeedback(ctx, ids[0], 5, "")
		_ = s.AddSatisfactionFeedback(ctx, ids[1], 2, "")
		_ = s.AddSatisfactionFeedback(ctx, ids[2], 3, "")

		avg, ok, err := s.AverageSatisfaction(ctx)
		if err != nil || !ok {
			t.Fatalf("AverageSatisfaction() = ok %v err %v", ok, err)
		}
		if avg < 3.333 || avg > 3.334 {
			t.Errorf("AverageSatisfaction() = %f, want 3.333", avg)
		}

		unsat, err := s.UnsatisfiedConversations(ctx)
		if err != nil {
			t.Fatalf("UnsatisfiedConversations() error = %v", err)
		}
		var got []string
		for _, c := range unsat {
			got = append(got, c.ID)
		}
		if diff := cmp.Diff([]string{ids[1], ids[3]}, got); diff != "" {
			t.Errorf("UnsatisfiedConversations() mismatch (-want +got):\n%s", diff)
		}

		recent, err := s.RecentConversations(ctx, 2)
		if err != nil {
			t.Fatalf("RecentConversations() error = %v", err)
		}
		if len(recent) != 2 || recent[0].ID != ids[3] || recent[1].ID != ids[2] {
			t.Errorf("RecentConversations(2) = %v", recent)
		}
		all, _ := s.RecentConversations(ctx, 10)
		if len(all) != 4 {
			t.Errorf("RecentConversations(10) len = %d, want 4", len(all))
		}

		trend, err := s.SatisfactionTrend(ctx)
		if err != nil {
			t.Fatalf("SatisfactionTrend() error = %v", err)
		}
		if len(trend) != 1 {
			t.Fatalf("SatisfactionTrend() = %v, want one day", trend)
		}
		for day, mean := range trend {
			if _, err := time.Parse("2006-01-02", day); err != nil {
				t.Errorf("trend key %q is not a date", day)
			}
			if mean < 3.333 || mean > 3.334 {
				t.Errorf("trend mean = %f", mean)
			}
		}
	})
}

func TestReopenPreservesContents(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, dir string, open openFunc) {
		ctx := context.Background()
		a, _ := s.AddConversation(ctx, "first", "gemini", "gemini 'first'")
		b, _ := s.AddConversation(ctx, "second", "codex", "codex 'second'")
		_ = s.AddSatisfactionFeedback(ctx, a, 4, "ok then")
		_, _ = s.AddAutoFeedback(ctx, b, 2, "auto")

		wantConvs, wantFb, err := s.Snapshot(ctx)
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		if err := s.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}

		reopened, err := open(dir)
		if err != nil {
			t.Fatalf("reopen: %v", err)
		}
		defer reopened.Close()

		gotConvs, gotFb, err := reopened.Snapshot(ctx)
		if err != nil {
			t.Fatalf("Snapshot() after reopen error = %v", err)
		}
		timeEq := cmpopts.EquateApproxTime(time.Millisecond)
		if diff := cmp.Diff(wantConvs, gotConvs, timeEq); diff != "" {
			t.Errorf("conversations mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(wantFb, gotFb, timeEq); diff != "" {
			t.Errorf("feedback mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestReplace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store, _ string, _ openFunc) {
		ctx := context.Background()
		_, _ = s.AddConversation(ctx, "old", "codex", "codex 'old'")

		score := 3
		text := "meh"
		ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		convs := []models.Conversation{{
			ID: "conv_1_0", Timestamp: ts, UserInput: "restored", Tool: "aider",
			Command: "aider 'restored'", Feedback: &text, SatisfactionScore: &score,
			FeedbackSource: models.FeedbackManual,
		}}
		fb := []models.Feedback{{
			ID: "f1", ConversationID: "conv_1_0", Score: 3, Text: text,
			Source: models.FeedbackManual, Timestamp: ts,
		}}
		if err := s.Replace(ctx, convs, fb); err != nil {
			t.Fatalf("Replace() error = %v", err)
		}
		gotConvs, gotFb, _ := s.Snapshot(ctx)
		if diff := cmp.Diff(convs, gotConvs, cmpopts.EquateApproxTime(0)); diff != "" {
			t.Errorf("conversations mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(fb, gotFb, cmpopts.EquateApproxTime(0)); diff != "" {
			t.Errorf("feedback mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestJSONStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConversationsFile), []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := NewJSONStore(dir)
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("NewJSONStore() error = %v, want PersistenceError", err)
	}
	if pe.Op != "decode" {
		t.Errorf("Op = %q, want decode", pe.Op)
	}
}

func TestJSONStore_FilesAreIndentedArrays(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddConversation(context.Background(), "q", "codex", "codex 'q'"); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, ConversationsFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(data) < 4 || string(data[:4]) != "[\n  " {
		t.Errorf("conversations.json not a 2-space indented array: %q", data)
	}
}

func TestOpen_UnknownBackend(t *testing.T) {
	if _, err := Open("postgres", t.TempDir()); err == nil {
		t.Error("Open() with unknown backend should fail")
	}
}

func TestEnsureGitignore(t *testing.T) {
	dir := t.TempDir()
	if err := EnsureGitignore(dir); err != nil {
		t.Fatalf("EnsureGitignore() error = %v", err)
	}
	custom := []byte("custom\n")
	path := filepath.Join(dir, ".gitignore")
	if err := os.WriteFile(path, custom, 0600); err != nil {
		t.Fatal(err)
	}
	if err := EnsureGitignore(dir); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != string(custom) {
		t.Errorf("EnsureGitignore overwrote user file: %q", got)
	}
}
