package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/nvandessel/skillroute/internal/store"
)

func createTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewJSONStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addTestData(t *testing.T, s store.Store) []string {
	t.Helper()
	ctx := context.Background()

	var ids []string
	for _, req := range []string{"summarize this pdf", "fix the bug", "plan a release"} {
		id, err := s.AddConversation(ctx, req, "codex", "codex '"+req+"'")
		if err != nil {
			t.Fatalf("AddConversation(%s) error = %v", req, err)
		}
		ids = append(ids, id)
	}
	if err := s.AddSatisfactionFeedback(ctx, ids[0], 5, "great"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddAutoFeedback(ctx, ids[1], 2, "auto"); err != nil {
		t.Fatal(err)
	}
	return ids
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	src := createTestStore(t)
	ids := addTestData(t, src)

	ctx := context.Background()
	backupPath := filepath.Join(t.TempDir(), "test-backup.json.gz")

	bf, err := Backup(ctx, src, backupPath, nil)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if bf.Version != FormatV2 {
		t.Errorf("Version = %d, want %d", bf.Version, FormatV2)
	}
	if len(bf.Conversations) != 3 {
		t.Errorf("Conversations = %d, want 3", len(bf.Conversations))
	}
	if len(bf.Feedback) != 2 {
		t.Errorf("Feedback = %d, want 2", len(bf.Feedback))
	}

	info, err := os.Stat(backupPath)
	if err != nil {
		t.Fatal("backup file was not created")
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("backup mode = %v, want 0600", info.Mode().Perm())
	}

	dst, err := store.NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer dst.Close()

	result, err := Restore(ctx, dst, backupPath, RestoreMerge)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.ConversationsRestored != 3 {
		t.Errorf("ConversationsRestored = %d, want 3", result.ConversationsRestored)
	}
	if result.FeedbackRestored != 2 {
		t.Errorf("FeedbackRestored = %d, want 2", result.FeedbackRestored)
	}

	conv, err := dst.GetConversation(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if conv.SatisfactionScore == nil || *conv.SatisfactionScore != 5 {
		t.Errorf("restored score = %v, want 5", conv.SatisfactionScore)
	}
}

func TestRestore_MergeMode(t *testing.T) {
	src := createTestStore(t)
	addTestData(t, src)

	ctx := context.Background()
	backupPath := filepath.Join(t.TempDir(), "test-backup.json.gz")
	if _, err := Backup(ctx, src, backupPath, nil); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	// Restoring into the source itself skips everything.
	result, err := Restore(ctx, src, backupPath, RestoreMerge)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if result.ConversationsSkipped != 3 || result.ConversationsRestored != 0 {
		t.Errorf("result = %+v, want 3 skipped", result)
	}
	if result.FeedbackSkipped != 2 {
		t.Errorf("FeedbackSkipped = %d, want 2", result.FeedbackSkipped)
	}

	convs, _, _ := src.Snapshot(ctx)
	if len(convs) != 3 {
		t.Errorf("conversations after merge = %d, want 3", len(convs))
	}
}

func TestRestore_ReplaceMode(t *testing.T) {
	src := createTestStore(t)
	addTestData(t, src)

	ctx := context.Background()
	backupPath := filepath.Join(t.TempDir(), "test-backup.json.gz")
	if _, err := Backup(ctx, src, backupPath, nil); err != nil {
		t.Fatal(err)
	}

	dst := createTestStore(t)
	if _, err := dst.AddConversation(ctx, "local only", "aider", "aider 'local only'"); err != nil {
		t.Fatal(err)
	}
	if _, err := Restore(ctx, dst, backupPath, RestoreReplace); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	convs, fb, _ := dst.Snapshot(ctx)
	if len(convs) != 3 || len(fb) != 2 {
		t.Errorf("after replace: %d conversations, %d feedback; want 3, 2", len(convs), len(fb))
	}
}

func TestRestore_UnknownMode(t *testing.T) {
	src := createTestStore(t)
	ctx := context.Background()
	backupPath := filepath.Join(t.TempDir(), "b.json.gz")
	if _, err := Backup(ctx, src, backupPath, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := Restore(ctx, src, backupPath, "overwrite"); err == nil {
		t.Error("Restore() with unknown mode should fail")
	}
}

func TestRotateBackups(t *testing.T) {
	dir := t.TempDir()

	for i := 0; i < 5; i++ {
		path := filepath.Join(dir, "skillroute-backup-2026020"+string(rune('1'+i))+"-120000.json.gz")
		if err := os.WriteFile(path, []byte("{}"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("keep me"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := RotateBackups(dir, 3); err != nil {
		t.Fatalf("RotateBackups() error = %v", err)
	}

	entries, _ := os.ReadDir(dir)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 4 {
		t.Fatalf("after rotation got %v, want 3 backups plus notes.txt", names)
	}
	if _, err := os.Stat(filepath.Join(dir, "skillroute-backup-20260201-120000.json.gz")); !os.IsNotExist(err) {
		t.Error("oldest backup should have been removed")
	}
}

func TestGenerateBackupPath(t *testing.T) {
	dir := "/tmp/backups"
	path := GenerateBackupPath(dir)

	if filepath.Dir(path) != dir {
		t.Errorf("dir = %s, want %s", filepath.Dir(path), dir)
	}
	if filepath.Ext(path) != ".gz" {
		t.Errorf("ext = %s, want .gz", filepath.Ext(path))
	}
}
