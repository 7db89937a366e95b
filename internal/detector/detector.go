// Package detector buffers follow-up messages per conversation and turns
// them into auto-detected satisfaction scores.
package detector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/skillroute/internal/metrics"
	"github.com/nvandessel/skillroute/internal/models"
	"github.com/nvandessel/skillroute/internal/sanitize"
	"github.com/nvandessel/skillroute/internal/sentiment"
	"github.com/nvandessel/skillroute/internal/store"
)

// Config tunes the detector.
type Config struct {
	// Workers bounds concurrent analyses in AnalyzeAll.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns the stock detector settings.
func DefaultConfig() Config {
	return Config{Workers: 4}
}

// Status classifies an analysis outcome.
type Status string

const (
	StatusScored       Status = "scored"
	StatusInconclusive Status = "inconclusive"
	StatusSkipped      Status = "skipped"
	StatusEmpty        Status = "empty"
	StatusBuffered     Status = "buffered"
)

// Outcome reports what Analyze did for one conversation.
type Outcome struct {
	ConversationID string `json:"conversation_id"`
	Status         Status `json:"status"`
	Score          int    `json:"score,omitempty"`
	Messages       int    `json:"messages"`
}

// Detector holds the in-memory follow-up buffers. It is safe for
// concurrent use; the buffers are lost when the process exits.
type Detector struct {
	cfg    Config
	store  store.Store
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string][]string
}

// New returns a detector writing to st.
func New(cfg Config, st store.Store, logger *zap.Logger) *Detector {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		cfg:     cfg,
		store:   st,
		logger:  logger.Named("detector"),
		pending: make(map[string][]string),
	}
}

// RegisterFollowUp appends text to the conversation's buffer.
func (d *Detector) RegisterFollowUp(conversationID, text string) {
	text = sanitize.SanitizeUserText(text)
	if text == "" {
		return
	}
	d.mu.Lock()
	d.pending[conversationID] = append(d.pending[conversationID], text)
	n := len(d.pending)
	d.mu.Unlock()

	metrics.PendingFollowUps.Set(float64(n))
}

// Pending returns the number of buffered messages per conversation.
func (d *Detector) Pending() map[string]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int, len(d.pending))
	for id, msgs := range d.pending {
		out[id] = len(msgs)
	}
	return out
}

// Analyze scores one conversation's buffered follow-ups. Conversations that
// already carry feedback are skipped and their buffer dropped. Inconclusive
// buffers are kept so later follow-ups can accumulate.
func (d *Detector) Analyze(ctx context.Context, conversationID string) (Outcome, error) {
	out := Outcome{ConversationID: conversationID}

	d.mu.Lock()
	msgs := append([]string(nil), d.pending[conversationID]...)
	d.mu.Unlock()
	out.Messages = len(msgs)

	if len(msgs) == 0 {
		out.Status = StatusEmpty
		return out, nil
	}

	conv, err := d.store.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			d.consume(conversationID, len(msgs))
		}
		return out, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv.HasFeedback() {
		d.consume(conversationID, len(msgs))
		out.Status = StatusSkipped
		return out, nil
	}

	score, ok := sentiment.DetectFromFlow(msgs)
	if !ok {
		out.Status = StatusInconclusive
		return out, nil
	}

	text := fmt.Sprintf("auto-detected from %d follow-up message(s)", len(msgs))
	applied, err := d.store.AddAutoFeedback(ctx, conversationID, score, text)
	if err != nil {
		return out, fmt.Errorf("failed to record auto feedback: %w", err)
	}
	d.consume(conversationID, len(msgs))

	if !applied {
		// Manual feedback landed between the check and the write.
		out.Status = StatusSkipped
		return out, nil
	}

	metrics.FeedbackRecorded.WithLabelValues(string(models.FeedbackAuto), strconv.Itoa(score)).Inc()
	d.logger.Debug("auto feedback recorded",
		zap.String("conversation_id", conversationID),
		zap.Int("score", score),
		zap.Int("messages", len(msgs)))

	out.Status = StatusScored
	out.Score = score
	return out, nil
}

// AnalyzeAll runs Analyze for every buffered conversation, in id order.
// Unknown conversations are logged and dropped without failing the sweep.
func (d *Detector) AnalyzeAll(ctx context.Context) ([]Outcome, error) {
	d.mu.Lock()
	ids := make([]string, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	d.mu.Unlock()
	sort.Strings(ids)

	outcomes := make([]Outcome, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)
	for i, id := range ids {
		g.Go(func() error {
			out, err := d.Analyze(gctx, id)
			outcomes[i] = out
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					d.logger.Warn("dropping follow-ups for unknown conversation", zap.String("conversation_id", id))
					return nil
				}
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return outcomes, err
	}
	return outcomes, nil
}

// Flush analyzes everything still buffered. Call it at shutdown.
func (d *Detector) Flush(ctx context.Context) error {
	outcomes, err := d.AnalyzeAll(ctx)
	scored := 0
	for _, o := range outcomes {
		if o.Status == StatusScored {
			scored++
		}
	}
	d.logger.Info("follow-ups flushed",
		zap.Int("conversations", len(outcomes)),
		zap.Int("scored", scored),
		zap.Int("still_pending", len(d.Pending())))
	return err
}

// consume drops the first n buffered messages, keeping any that arrived
// while they were being analyzed.
func (d *Detector) consume(conversationID string, n int) {
	d.mu.Lock()
	msgs := d.pending[conversationID]
	if n >= len(msgs) {
		delete(d.pending, conversationID)
	} else {
		d.pending[conversationID] = append([]string(nil), msgs[n:]...)
	}
	size := len(d.pending)
	d.mu.Unlock()

	metrics.PendingFollowUps.Set(float64(size))
}
