package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/nvandessel/skillroute/internal/models"
	"github.com/nvandessel/skillroute/internal/sanitize"
)

// File names of the two JSON collections and the lock guarding them.
const (
	ConversationsFile = "conversations.json"
	FeedbackFile      = "satisfaction_feedback.json"
	LockFile          = ".skillroute.lock"
)

const lockRetryDelay = 10 * time.Millisecond

// JSONStore rewrites the matching file wholesale on every mutation. Other
// processes (a CLI next to a long-running MCP server) may share the data
// directory, so every operation takes a file lock on it and reloads both
// collections from disk before looking at them. The mutex serializes
// goroutines, which share one lock handle.
type JSONStore struct {
	mu            sync.Mutex
	dir           string
	lock          *flock.Flock
	conversations []models.Conversation
	feedback      []models.Feedback
	now           func() time.Time
}

// NewJSONStore opens (or creates) the JSON ledger in dir.
func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, &PersistenceError{Op: "mkdir", Path: dir, Err: err}
	}
	s := &JSONStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, LockFile), flock.SetPermissions(0600)),
		now:  time.Now,
	}

	if err := s.read(context.Background(), func() error { return nil }); err != nil {
		s.lock.Close()
		return nil, err
	}
	return s, nil
}

func (s *JSONStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

// read runs fn under a shared lock with freshly loaded collections.
func (s *JSONStore) read(ctx context.Context, fn func() error) error {
	return s.locked(ctx, false, fn)
}

// write runs fn under an exclusive lock with freshly loaded collections.
func (s *JSONStore) write(ctx context.Context, fn func() error) error {
	return s.locked(ctx, true, fn)
}

func (s *JSONStore) locked(ctx context.Context, exclusive bool, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	try := s.lock.TryRLockContext
	if exclusive {
		try = s.lock.TryLockContext
	}
	ok, err := try(ctx, lockRetryDelay)
	if err != nil {
		return &PersistenceError{Op: "lock", Path: s.lock.Path(), Err: err}
	}
	if !ok {
		return &PersistenceError{Op: "lock", Path: s.lock.Path(), Err: ctx.Err()}
	}
	defer s.lock.Unlock()

	if err := s.reload(); err != nil {
		return err
	}
	return fn()
}

// reload replaces the in-memory collections with what is on disk.
// Caller holds the file lock.
func (s *JSONStore) reload() error {
	var (
		convs []models.Conversation
		fb    []models.Feedback
	)
	if err := readJSON(s.path(ConversationsFile), &convs); err != nil {
		return err
	}
	if err := readJSON(s.path(FeedbackFile), &fb); err != nil {
		return err
	}
	s.conversations = convs
	s.feedback = fb
	return nil
}

// AddConversation implements Store.
func (s *JSONStore) AddConversation(ctx context.Context, userInput, tool, command string) (string, error) {
	var id string
	err := s.write(ctx, func() error {
		now := s.now()
		ordinal := len(s.conversations)
		id = conversationID(now, ordinal)
		for s.indexOf(id) >= 0 {
			ordinal++
			id = conversationID(now, ordinal)
		}

		conv := models.Conversation{
			ID:        id,
			Timestamp: now,
			UserInput: sanitize.SanitizeUserText(userInput),
			Tool:      tool,
			Command:   command,
		}

		next := append(append([]models.Conversation(nil), s.conversations...), conv)
		if err := writeJSON(s.path(ConversationsFile), next); err != nil {
			return err
		}
		s.conversations = next
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// AddSatisfactionFeedback implements Store.
func (s *JSONStore) AddSatisfactionFeedback(ctx context.Context, conversationID string, score int, text string) error {
	if !models.ValidScore(score) {
		return fmt.Errorf("%w: got %d", ErrInvalidScore, score)
	}

	return s.write(ctx, func() error {
		i := s.indexOf(conversationID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		if s.conversations[i].HasManualFeedback() {
			return fmt.Errorf("%w: %s", ErrAlreadyRated, conversationID)
		}
		return s.applyFeedback(i, score, text, models.FeedbackManual)
	})
}

// AddAutoFeedback implements Store.
func (s *JSONStore) AddAutoFeedback(ctx context.Context, conversationID string, score int, text string) (bool, error) {
	if !models.ValidScore(score) {
		return false, fmt.Errorf("%w: got %d", ErrInvalidScore, score)
	}

	applied := false
	err := s.write(ctx, func() error {
		i := s.indexOf(conversationID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		if s.conversations[i].HasFeedback() {
			return nil
		}
		if err := s.applyFeedback(i, score, text, models.FeedbackAuto); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// applyFeedback mutates conversation i and appends a feedback record,
// persisting both collections. Caller holds the exclusive lock.
func (s *JSONStore) applyFeedback(i, score int, text string, source models.FeedbackSource) error {
	now := s.now()
	text = sanitize.SanitizeUserText(text)

	convs := make([]models.Conversation, len(s.conversations))
	copy(convs, s.conversations)
	conv := cloneConversation(convs[i])
	conv.SatisfactionScore = &score
	conv.Feedback = &text
	conv.FeedbackSource = source
	if source == models.FeedbackAuto {
		conv.FollowUpAnalyzed = true
	}
	convs[i] = conv

	fb := append(append([]models.Feedback(nil), s.feedback...), models.Feedback{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Score:          score,
		Text:           text,
		Source:         source,
		Timestamp:      now,
	})

	// Feedback first: a crash in between leaves an orphan record rather than
	// a scored conversation with no history behind it.
	if err := writeJSON(s.path(FeedbackFile), fb); err != nil {
		return err
	}
	if err := writeJSON(s.path(ConversationsFile), convs); err != nil {
		return err
	}
	s.conversations = convs
	s.feedback = fb
	return nil
}

// GetConversation implements Store.
func (s *JSONStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.read(ctx, func() error {
		i := s.indexOf(conversationID)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, conversationID)
		}
		c = cloneConversation(s.conversations[i])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// RecentConversations implements Store.
func (s *JSONStore) RecentConversations(ctx context.Context, n int) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.read(ctx, func() error {
		convs = s.copyConversations()
		return nil
	})
	if err != nil {
		return nil, err
	}

	newestFirst(convs)
	if n >= 0 && n < len(convs) {
		convs = convs[:n]
	}
	return convs, nil
}

// UnsatisfiedConversations implements Store.
func (s *JSONStore) UnsatisfiedConversations(ctx context.Context) ([]models.Conversation, error) {
	var out []models.Conversation
	err := s.read(ctx, func() error {
		for i := range s.conversations {
			if isUnsatisfied(&s.conversations[i]) {
				out = append(out, cloneConversation(s.conversations[i]))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AverageSatisfaction implements Store.
func (s *JSONStore) AverageSatisfaction(ctx context.Context) (float64, bool, error) {
	scores, err := s.FeedbackScores(ctx)
	if err != nil {
		return 0, false, err
	}
	if len(scores) == 0 {
		return 0, false, nil
	}
	total := 0
	for _, score := range scores {
		total += score
	}
	return float64(total) / float64(len(scores)), true, nil
}

// SatisfactionTrend implements Store.
func (s *JSONStore) SatisfactionTrend(ctx context.Context) (map[string]float64, error) {
	var means map[string]float64
	err := s.read(ctx, func() error {
		means = dailyMeans(s.feedback)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return means, nil
}

// FeedbackScores implements Store.
func (s *JSONStore) FeedbackScores(ctx context.Context) ([]int, error) {
	var scores []int
	err := s.read(ctx, func() error {
		scores = make([]int, len(s.feedback))
		for i, f := range s.feedback {
			scores[i] = f.Score
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return scores, nil
}

// Snapshot implements Store.
func (s *JSONStore) Snapshot(ctx context.Context) ([]models.Conversation, []models.Feedback, error) {
	var (
		convs []models.Conversation
		fb    []models.Feedback
	)
	err := s.read(ctx, func() error {
		convs = s.copyConversations()
		fb = append([]models.Feedback(nil), s.feedback...)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return convs, fb, nil
}

// Replace implements Store.
func (s *JSONStore) Replace(ctx context.Context, conversations []models.Conversation, feedback []models.Feedback) error {
	return s.write(ctx, func() error {
		convs := append([]models.Conversation{}, conversations...)
		fb := append([]models.Feedback{}, feedback...)
		if err := writeJSON(s.path(FeedbackFile), fb); err != nil {
			return err
		}
		if err := writeJSON(s.path(ConversationsFile), convs); err != nil {
			return err
		}
		s.conversations = convs
		s.feedback = fb
		return nil
	})
}

// Close implements Store. Every mutation is already on disk; Close only
// releases the lock file handle.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Close()
}

func (s *JSONStore) indexOf(id string) int {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *JSONStore) copyConversations() []models.Conversation {
	out := make([]models.Conversation, len(s.conversations))
	for i, c := range s.conversations {
		out[i] = cloneConversation(c)
	}
	return out
}

// readJSON decodes path into v. A missing or empty file leaves v untouched.
func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return &PersistenceError{Op: "read", Path: path, Err: err}
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &PersistenceError{Op: "decode", Path: path, Err: err}
	}
	return nil
}

// writeJSON rewrites path with indented JSON via a temp file and rename.
func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode", Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return &PersistenceError{Op: "write", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &PersistenceError{Op: "write", Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &PersistenceError{Op: "write", Path: path, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		return &PersistenceError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
