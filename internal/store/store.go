// Package store defines the satisfaction ledger: the durable record of
// classified conversations and the feedback scored against them.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nvandessel/skillroute/internal/models"
)

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

var (
	// ErrInvalidScore is returned when a score is outside [1, 5].
	ErrInvalidScore = errors.New("satisfaction score must be between 1 and 5")

	// ErrNotFound is returned for an unknown conversation id.
	ErrNotFound = errors.New("conversation not found")

	// ErrAlreadyRated is returned when a conversation already carries manual feedback.
	ErrAlreadyRated = errors.New("conversation already has manual feedback")
)

// PersistenceError reports a failed read or write of the backing files.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store is the satisfaction ledger. Implementations serialize all writes;
// automatic feedback is applied with compare-and-swap semantics so a
// manual score is never overwritten.
type Store interface {
	// AddConversation records a classified request and returns its id.
	AddConversation(ctx context.Context, userInput, tool, command string) (string, error)

	// AddSatisfactionFeedback records an explicit user score.
	// It may replace an auto-detected score but never a manual one.
	AddSatisfactionFeedback(ctx context.Context, conversationID string, score int, text string) error

	// AddAutoFeedback records an inferred score only if the conversation has
	// no feedback yet. applied is false when the swap lost.
	AddAutoFeedback(ctx context.Context, conversationID string, score int, text string) (applied bool, err error)

	// GetConversation returns a copy of the conversation or ErrNotFound.
	GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error)

	// RecentConversations returns up to n conversations, newest first.
	RecentConversations(ctx context.Context, n int) ([]models.Conversation, error)

	// UnsatisfiedConversations returns conversations scored <= 2 or not scored at all.
	UnsatisfiedConversations(ctx context.Context) ([]models.Conversation, error)

	// AverageSatisfaction returns the mean of all feedback scores; ok is false when empty.
	AverageSatisfaction(ctx context.Context) (avg float64, ok bool, err error)

	// SatisfactionTrend returns the mean score per calendar day (YYYY-MM-DD, UTC).
	SatisfactionTrend(ctx context.Context) (map[string]float64, error)

	// FeedbackScores returns every feedback score in chronological order.
	FeedbackScores(ctx context.Context) ([]int, error)

	// Snapshot returns copies of both collections in stored order.
	Snapshot(ctx context.Context) ([]models.Conversation, []models.Feedback, error)

	// Replace overwrites both collections.
	Replace(ctx context.Context, conversations []models.Conversation, feedback []models.Feedback) error

	Close() error
}

// Open creates the store for the named backend rooted at dataDir.
func Open(backend, dataDir string) (Store, error) {
	switch backend {
	case "", BackendJSON:
		return NewJSONStore(dataDir)
	case BackendSQLite:
		return NewSQLiteStore(dataDir)
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// conversationID formats the id for the conversation created at t as the
// ordinal-th record.
func conversationID(t time.Time, ordinal int) string {
	return fmt.Sprintf("conv_%d_%d", t.Unix(), ordinal)
}

// dayKey is the calendar-day bucket used by SatisfactionTrend.
func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// newestFirst sorts conversations time-descending; later insertion wins ties.
func newestFirst(convs []models.Conversation) {
	idx := make(map[string]int, len(convs))
	for i, c := range convs {
		idx[c.ID] = i
	}
	sort.SliceStable(convs, func(i, j int) bool {
		if !convs[i].Timestamp.Equal(convs[j].Timestamp) {
			return convs[i].Timestamp.After(convs[j].Timestamp)
		}
		return idx[convs[i].ID] > idx[convs[j].ID]
	})
}

// dailyMeans averages feedback scores per dayKey.
func dailyMeans(fb []models.Feedback) map[string]float64 {
	sums := make(map[string]int)
	counts := make(map[string]int)
	for _, f := range fb {
		day := dayKey(f.Timestamp)
		sums[day] += f.Score
		counts[day]++
	}
	means := make(map[string]float64, len(sums))
	for day, sum := range sums {
		means[day] = float64(sum) / float64(counts[day])
	}
	return means
}

func isUnsatisfied(c *models.Conversation) bool {
	return c.SatisfactionScore == nil || *c.SatisfactionScore <= 2
}

func cloneConversation(c models.Conversation) models.Conversation {
	if c.Feedback != nil {
		f := *c.Feedback
		c.Feedback = &f
	}
	if c.SatisfactionScore != nil {
		s := *c.SatisfactionScore
		c.SatisfactionScore = &s
	}
	return c
}
