package recommend

import (
	"context"
	"fmt"

	"github.com/nvandessel/skillroute/internal/adjust"
	"github.com/nvandessel/skillroute/internal/classify"
)

// Stats summarizes the ledger.
type Stats struct {
	Conversations int                `json:"conversations"`
	Rated         int                `json:"rated"`
	AutoDetected  int                `json:"auto_detected"`
	Unsatisfied   int                `json:"unsatisfied"`
	Average       *float64           `json:"average_satisfaction"`
	Daily         map[string]float64 `json:"daily_trend"`
	History       adjust.History     `json:"history"`

	// Classifier is the path new requests take: trained or rules.
	Classifier classify.Path `json:"classifier"`
}

// Stats reads the ledger's aggregate figures.
func (r *Router) Stats(ctx context.Context) (Stats, error) {
	convs, _, err := r.store.Snapshot(ctx)
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Conversations: len(convs), Classifier: classify.PathRules}
	if r.classifier.Trained() {
		s.Classifier = classify.PathTrained
	}
	for _, c := range convs {
		if c.HasFeedback() {
			s.Rated++
			if !c.HasManualFeedback() {
				s.AutoDetected++
			}
		}
	}

	unsat, err := r.store.UnsatisfiedConversations(ctx)
	if err != nil {
		return Stats{}, err
	}
	s.Unsatisfied = len(unsat)

	avg, ok, err := r.store.AverageSatisfaction(ctx)
	if err != nil {
		return Stats{}, err
	}
	if ok {
		s.Average = &avg
	}

	if s.Daily, err = r.store.SatisfactionTrend(ctx); err != nil {
		return Stats{}, err
	}
	if s.History, err = r.adjuster.History(ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to compute history: %w", err)
	}
	return s, nil
}
