// Package recommend is the adaptive recommendation facade. A Router owns
// the ledger, classifier, adjuster, detector, and executor for one process.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/nvandessel/skillroute/internal/adjust"
	"github.com/nvandessel/skillroute/internal/catalog"
	"github.com/nvandessel/skillroute/internal/classify"
	"github.com/nvandessel/skillroute/internal/config"
	"github.com/nvandessel/skillroute/internal/detector"
	"github.com/nvandessel/skillroute/internal/executor"
	"github.com/nvandessel/skillroute/internal/metrics"
	"github.com/nvandessel/skillroute/internal/models"
	"github.com/nvandessel/skillroute/internal/sanitize"
	"github.com/nvandessel/skillroute/internal/store"
)

// ErrEmptyRequest is returned for a request with no text after sanitizing.
var ErrEmptyRequest = errors.New("request is empty")

// RunResult is an adaptive recommendation and the outcome of executing it.
type RunResult struct {
	adjust.Adjusted
	Execution executor.FallbackResult `json:"execution"`
}

// Router composes the pipeline. Peek never writes; every other
// recommendation call logs a Conversation.
type Router struct {
	store      store.Store
	classifier *classify.Classifier
	adjuster   *adjust.Adjuster
	detector   *detector.Detector
	executor   *executor.Executor
	logger     *zap.Logger
}

// New wires a Router from already-built components.
func New(st store.Store, cls *classify.Classifier, adj *adjust.Adjuster, det *detector.Detector, exe *executor.Executor, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		store:      st,
		classifier: cls,
		adjuster:   adj,
		detector:   det,
		executor:   exe,
		logger:     logger,
	}
}

// Open builds every component from cfg. cat may be a catalog.Watcher for
// hot reload; nil loads cfg.CatalogPath once.
func Open(cfg *config.Config, cat catalog.Source, logger *zap.Logger) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cat == nil {
		loaded, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		cat = loaded
	}

	st, err := store.Open(cfg.Store.Backend, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	cls := classify.NewFromPrefix(cfg.Classifier, cat, cfg.ModelPrefix, logger)
	return New(
		st,
		cls,
		adjust.New(cfg.Adjuster, st, cat, cls, logger),
		detector.New(cfg.Detector, st, logger),
		executor.New(cfg.Executor, logger),
		logger,
	), nil
}

// Store returns the ledger.
func (r *Router) Store() store.Store { return r.store }

// Detector returns the follow-up detector.
func (r *Router) Detector() *detector.Detector { return r.detector }

// Classifier returns the classifier.
func (r *Router) Classifier() *classify.Classifier { return r.classifier }

// Peek classifies request without logging a conversation.
func (r *Router) Peek(request string) (models.Recommendation, error) {
	request = sanitize.SanitizeUserText(request)
	if request == "" {
		return models.Recommendation{}, ErrEmptyRequest
	}
	return r.classifier.Recommendation(request), nil
}

// Recommend classifies request and logs it as a new conversation.
func (r *Router) Recommend(ctx context.Context, request string) (models.Recommendation, error) {
	rec, err := r.Peek(request)
	if err != nil {
		return rec, err
	}
	id, err := r.store.AddConversation(ctx, sanitize.SanitizeUserText(request), rec.Primary.Tool, rec.Primary.Command)
	if err != nil {
		return rec, fmt.Errorf("failed to log conversation: %w", err)
	}
	rec.ConversationID = id

	r.logger.Debug("conversation logged",
		zap.String("conversation_id", id),
		zap.String("tool", rec.Primary.Tool),
		zap.Float64("confidence", rec.Confidence))
	return rec, nil
}

// Adaptive is Recommend followed by the history adjustments.
func (r *Router) Adaptive(ctx context.Context, request string) (adjust.Adjusted, error) {
	rec, err := r.Recommend(ctx, request)
	if err != nil {
		return adjust.Adjusted{}, err
	}
	return r.adjuster.Adjust(ctx, sanitize.SanitizeUserText(request), rec)
}

// Run produces an adaptive recommendation and executes it with fallback.
func (r *Router) Run(ctx context.Context, request string) (RunResult, error) {
	adj, err := r.Adaptive(ctx, request)
	if err != nil {
		return RunResult{}, err
	}
	res := r.executor.ExecuteWithFallback(ctx, adj.Recommendation)
	return RunResult{Adjusted: adj, Execution: res}, nil
}

// SubmitFeedback records an explicit score for a conversation.
func (r *Router) SubmitFeedback(ctx context.Context, conversationID string, score int, text string) error {
	if err := r.store.AddSatisfactionFeedback(ctx, conversationID, score, text); err != nil {
		return err
	}
	metrics.FeedbackRecorded.WithLabelValues(string(models.FeedbackManual), strconv.Itoa(score)).Inc()
	return nil
}

// FollowUp buffers a follow-up message and, when analyze is set, scores
// the conversation right away.
func (r *Router) FollowUp(ctx context.Context, conversationID, text string, analyze bool) (detector.Outcome, error) {
	if _, err := r.store.GetConversation(ctx, conversationID); err != nil {
		return detector.Outcome{ConversationID: conversationID}, err
	}
	r.detector.RegisterFollowUp(conversationID, text)
	if !analyze {
		return detector.Outcome{
			ConversationID: conversationID,
			Status:         detector.StatusBuffered,
			Messages:       r.detector.Pending()[conversationID],
		}, nil
	}
	return r.detector.Analyze(ctx, conversationID)
}

// Close flushes pending follow-ups and closes the ledger.
func (r *Router) Close(ctx context.Context) error {
	flushErr := r.detector.Flush(ctx)
	if err := r.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return flushErr
}
