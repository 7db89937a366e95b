// Package scheduler runs the periodic follow-up sweep for long-running
// processes such as the MCP server.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nvandessel/skillroute/internal/detector"
	"github.com/nvandessel/skillroute/internal/logging"
)

// Analyzer scores buffered follow-ups; detector.Detector satisfies it.
type Analyzer interface {
	AnalyzeAll(ctx context.Context) ([]detector.Outcome, error)
}

// Scheduler manages the cron job that drains the follow-up buffer.
type Scheduler struct {
	cron     *cron.Cron
	analyzer Analyzer
	timeout  time.Duration
	logger   *zap.Logger

	// sweeps never overlap
	mu sync.Mutex
}

// New schedules a sweep on spec, a standard cron expression or a
// descriptor such as "@every 1m".
func New(spec string, analyzer Analyzer, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:     cron.New(),
		analyzer: analyzer,
		timeout:  30 * time.Second,
		logger:   logging.OrNop(logger).Named("scheduler"),
	}
	if _, err := s.cron.AddFunc(spec, func() { s.Sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid analyze schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start starts the scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep analyzes every buffered conversation once and returns how many
// were scored.
func (s *Scheduler) Sweep(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	outcomes, err := s.analyzer.AnalyzeAll(ctx)
	if err != nil {
		s.logger.Warn("follow-up sweep failed", zap.Error(err))
	}
	scored := 0
	for _, o := range outcomes {
		if o.Status == detector.StatusScored {
			scored++
		}
	}
	if len(outcomes) > 0 {
		s.logger.Debug("follow-up sweep finished",
			zap.Int("conversations", len(outcomes)),
			zap.Int("scored", scored))
	}
	return scored
}
