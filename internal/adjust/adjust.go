// Package adjust reshapes a base recommendation using the satisfaction
// history recorded in the store.
package adjust

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/nvandessel/skillroute/internal/catalog"
	"github.com/nvandessel/skillroute/internal/metrics"
	"github.com/nvandessel/skillroute/internal/models"
	"github.com/nvandessel/skillroute/internal/store"
)

// Rule names an adjustment that fired.
type Rule string

const (
	RuleVariants       Rule = "low_history_variants"
	RuleDecliningTrend Rule = "declining_trend"
	RuleBoost          Rule = "high_history_boost"
)

// Explanation suffixes appended by the trend and boost rules.
const (
	DecliningSuffix = " Recent satisfaction is declining; double-check the result."
	BoostSuffix     = " Confidence raised: past recommendations were well received."
)

// CommandBuilder synthesizes tool commands; classify.Classifier satisfies it.
type CommandBuilder interface {
	Command(tool string, skills []string, request string, extraFlags ...string) string
	Tools() []string
}

// Adjusted is an adapted recommendation with the inputs that shaped it.
type Adjusted struct {
	Recommendation models.Recommendation `json:"recommendation"`
	History        History               `json:"history"`
	Rules          []Rule                `json:"rules"`
}

// Adjuster applies the history rules.
type Adjuster struct {
	cfg      Config
	store    store.Store
	catalog  catalog.Source
	commands CommandBuilder
	logger   *zap.Logger
}

// New returns an Adjuster reading history from st.
func New(cfg Config, st store.Store, cat catalog.Source, commands CommandBuilder, logger *zap.Logger) *Adjuster {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adjuster{cfg: cfg, store: st, catalog: cat, commands: commands, logger: logger.Named("adjust")}
}

// History reads the current satisfaction history.
func (a *Adjuster) History(ctx context.Context) (History, error) {
	scores, err := a.store.FeedbackScores(ctx)
	if err != nil {
		return History{}, fmt.Errorf("failed to read feedback scores: %w", err)
	}
	return ComputeHistory(scores, a.cfg), nil
}

// Adjust applies the rules to rec for request using the stored history.
func (a *Adjuster) Adjust(ctx context.Context, request string, rec models.Recommendation) (Adjusted, error) {
	hist, err := a.History(ctx)
	if err != nil {
		return Adjusted{}, err
	}
	out, rules := a.Apply(request, rec, hist)
	for _, r := range rules {
		metrics.Adjustments.WithLabelValues(string(r)).Inc()
	}
	if len(rules) > 0 {
		a.logger.Debug("recommendation adjusted",
			zap.String("conversation_id", rec.ConversationID),
			zap.Float64("mean", hist.Mean),
			zap.Float64("trend", hist.Trend),
			zap.Any("rules", rules))
	}
	return Adjusted{Recommendation: out, History: hist, Rules: rules}, nil
}

// Apply runs the three rules in order against hist. The rules are
// independent; each may fire on the same call. rec is not modified.
func (a *Adjuster) Apply(request string, rec models.Recommendation, hist History) (models.Recommendation, []Rule) {
	rules := []Rule{}
	rec.Alternatives = append(make([]models.ToolChoice, 0, len(rec.Alternatives)), rec.Alternatives...)

	if hist.Mean < a.cfg.LowThreshold {
		rec.Alternatives = a.variants(request, rec.Primary, hist.Mean)
		rules = append(rules, RuleVariants)
	}

	if hist.Trend < a.cfg.TrendThreshold {
		rec.Explanation += DecliningSuffix
		rec.Primary.Explanation += DecliningSuffix
		rec.ConfidenceExplanation = fmt.Sprintf(
			"Satisfaction dropped by %.2f over the last %d rating(s); confidence is unchanged but less reliable.",
			-hist.Trend, hist.Window)
		rules = append(rules, RuleDecliningTrend)
	}

	if hist.Mean > a.cfg.HighThreshold {
		boosted := models.ClampConfidence(rec.Primary.Confidence + a.cfg.ConfidenceBoost)
		rec.Primary.Confidence = boosted
		rec.Confidence = boosted
		rec.Explanation += BoostSuffix
		rec.Primary.Explanation += BoostSuffix
		rules = append(rules, RuleBoost)
	}

	return rec, rules
}

// variants builds flag-augmented commands for every tool but the primary.
func (a *Adjuster) variants(request string, primary models.ToolChoice, mean float64) []models.ToolChoice {
	flags, bucket := bucketFlags(request)
	cat := a.catalog.Current()

	out := []models.ToolChoice{}
	for _, tool := range a.commands.Tools() {
		if tool == primary.Tool {
			continue
		}
		if len(out) >= a.cfg.MaxVariants {
			break
		}
		toolFlags := cat.FilterFlags(tool, flags)
		desc := "default flags"
		if len(toolFlags) > 0 {
			desc = strings.Join(toolFlags, " ")
		}
		out = append(out, models.ToolChoice{
			Tool:       tool,
			Confidence: a.cfg.DegradedConfidence,
			Skills:     primary.Skills,
			Command:    a.commands.Command(tool, primary.Skills, request, toolFlags...),
			Reason: fmt.Sprintf("satisfaction is low (%.1f); %s variant of %s with %s",
				mean, bucket, tool, desc),
		})
	}
	return out
}

// bucketFlags maps the request to a coarse intent and its extra flags.
func bucketFlags(request string) ([]string, string) {
	lower := strings.ToLower(request)
	switch {
	case containsAny(lower, "debug", "troubleshoot"):
		return []string{"--debug", "--verbose"}, "debugging"
	case containsAny(lower, "write", "report"):
		return []string{"--format", "markdown"}, "writing"
	case containsAny(lower, "analyze", "analyse", "research"):
		return []string{"--research", "--comprehensive"}, "research"
	default:
		return nil, "general"
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
