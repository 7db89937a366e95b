// Package classify maps a free-form request to a CLI tool, the skills it
// touches, and a runnable command line.
//
// Two strategies exist. When trained artifacts are present the request is
// TF-IDF vectorized and scored by the fitted model; otherwise, or whenever
// the model fails, keyword rules decide. Callers never see a model failure.
package classify

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/nvandessel/skillroute/internal/catalog"
	"github.com/nvandessel/skillroute/internal/metrics"
	"github.com/nvandessel/skillroute/internal/models"
)

// Path names the strategy that produced a Result.
type Path string

const (
	PathTrained Path = "trained"
	PathRules   Path = "rules"
)

// alternativeDecay shrinks each successive alternative's confidence.
const alternativeDecay = 0.8

// Result is a single classification.
type Result struct {
	Tool        string
	Confidence  float64
	Skills      []string
	Command     string
	Explanation string
	Path        Path

	// Scores holds per-tool class probabilities (trained path) or keyword
	// hit counts (rule path).
	Scores map[string]float64
}

// Classifier is safe for concurrent use.
type Classifier struct {
	cfg     Config
	catalog catalog.Source
	model   *Model
	logger  *zap.Logger
}

// New returns a classifier. A nil model selects the rule path permanently.
func New(cfg Config, cat catalog.Source, model *Model, logger *zap.Logger) *Classifier {
	if cat == nil {
		cat = catalog.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{cfg: cfg, catalog: cat, model: model, logger: logger.Named("classify")}
}

// NewFromPrefix loads trained artifacts at prefix if they exist. Missing
// artifacts select the rule path silently; unreadable ones are logged.
func NewFromPrefix(cfg Config, cat catalog.Source, prefix string, logger *zap.Logger) *Classifier {
	c := New(cfg, cat, nil, logger)
	model, err := LoadModel(prefix)
	switch {
	case err == nil:
		c.model = model
		c.logger.Info("trained model loaded",
			zap.String("prefix", prefix),
			zap.String("kind", model.Classifier.Kind),
			zap.Strings("classes", model.Classifier.Classes))
	case errors.Is(err, ErrNoModel):
		c.logger.Debug("no trained model, using rules", zap.String("prefix", prefix))
	default:
		c.logger.Warn("trained model unusable, using rules", zap.Error(err))
	}
	return c
}

// Trained reports whether the trained path is active.
func (c *Classifier) Trained() bool {
	return c.model != nil
}

// Classify picks a tool, skills, and command for request.
func (c *Classifier) Classify(request string) Result {
	lower := strings.ToLower(request)

	var res Result
	if c.model != nil {
		var err error
		res, err = c.classifyTrained(request)
		if err != nil {
			metrics.ClassifierFaults.Inc()
			c.logger.Warn("trained path failed, falling back to rules", zap.Error(err))
			res = c.classifyRules(lower)
		}
	} else {
		res = c.classifyRules(lower)
	}

	res.Skills = c.matchSkills(lower)
	res.Command = c.Command(res.Tool, res.Skills, request)
	if len(res.Skills) > 0 {
		res.Explanation += "; skills: " + strings.Join(res.Skills, ", ")
	}

	metrics.Classifications.WithLabelValues(string(res.Path), res.Tool).Inc()
	return res
}

func (c *Classifier) classifyTrained(request string) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panicked: %v", r)
		}
	}()

	probs, err := c.model.Predict(request)
	if err != nil {
		return Result{}, err
	}

	classes := make([]string, 0, len(probs))
	for class := range probs {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	best, bestP := "", -1.0
	for _, class := range classes {
		if probs[class] > bestP {
			best, bestP = class, probs[class]
		}
	}
	if best == "" || math.IsNaN(bestP) {
		return Result{}, fmt.Errorf("model produced no usable probability")
	}

	return Result{
		Tool:        best,
		Confidence:  models.ClampConfidence(bestP),
		Path:        PathTrained,
		Scores:      probs,
		Explanation: fmt.Sprintf("Trained model selected %s with probability %.2f", best, bestP),
	}, nil
}

func (c *Classifier) classifyRules(lower string) Result {
	hits := keywordHits(lower, toolKeywords)
	scores := make(map[string]float64, len(hits))
	for tool, n := range hits {
		scores[tool] = float64(n)
	}

	res := Result{
		Confidence: c.cfg.RuleConfidence,
		Path:       PathRules,
		Scores:     scores,
	}
	if tool, n, ok := bestTool(hits); ok {
		res.Tool = tool
		res.Explanation = fmt.Sprintf("Matched %d %s keyword(s)", n, tool)
	} else {
		res.Tool = c.cfg.DefaultTool
		res.Explanation = fmt.Sprintf("No tool keywords matched; using default tool %s", res.Tool)
	}
	return res
}

// matchSkills scans the built-in skill table in order, then any catalog
// skills it does not cover, in name order.
func (c *Classifier) matchSkills(lower string) []string {
	skills := []string{}
	seen := make(map[string]bool)
	for _, rule := range skillTable {
		seen[rule.name] = true
		for _, kw := range rule.keywords {
			if containsWord(lower, kw) {
				skills = append(skills, rule.name)
				break
			}
		}
	}
	for _, name := range c.catalog.Current().SkillNames() {
		if seen[name] {
			continue
		}
		for _, kw := range skillKeywords(strings.ToLower(name)) {
			if containsWord(lower, kw) {
				skills = append(skills, name)
				break
			}
		}
	}
	return skills
}

// Tools returns every tool the classifier may choose, sorted.
func (c *Classifier) Tools() []string {
	set := map[string]bool{c.cfg.DefaultTool: true, c.cfg.Orchestrator: true}
	for tool := range toolKeywords {
		set[tool] = true
	}
	for _, tool := range c.catalog.Current().ToolNames() {
		set[tool] = true
	}
	if c.model != nil {
		for _, class := range c.model.Classifier.Classes {
			set[class] = true
		}
	}
	tools := make([]string, 0, len(set))
	for tool := range set {
		tools = append(tools, tool)
	}
	sort.Strings(tools)
	return tools
}

// Alternatives ranks up to n tools other than primary.Tool, best first.
// Each confidence is alternativeDecay times the one before it, so it is
// strictly below its predecessor unless the primary confidence is 0, in
// which case every alternative is 0 too.
func (c *Classifier) Alternatives(request string, primary Result, n int) []models.ToolChoice {
	if n <= 0 {
		return []models.ToolChoice{}
	}
	hits := keywordHits(strings.ToLower(request), toolKeywords)

	var candidates []string
	for _, tool := range c.Tools() {
		if tool != primary.Tool {
			candidates = append(candidates, tool)
		}
	}
	trained := primary.Path == PathTrained
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if trained && primary.Scores[a] != primary.Scores[b] {
			return primary.Scores[a] > primary.Scores[b]
		}
		if hits[a] != hits[b] {
			return hits[a] > hits[b]
		}
		return a < b
	})
	if len(candidates) > n {
		candidates = candidates[:n]
	}

	alts := make([]models.ToolChoice, 0, len(candidates))
	conf := primary.Confidence
	for _, tool := range candidates {
		conf *= alternativeDecay
		var reason string
		switch {
		case trained:
			reason = fmt.Sprintf("model probability %.2f", primary.Scores[tool])
		case hits[tool] > 0:
			reason = fmt.Sprintf("matched %d %s keyword(s)", hits[tool], tool)
		default:
			reason = "general-purpose fallback"
		}
		alts = append(alts, models.ToolChoice{
			Tool:       tool,
			Confidence: conf,
			Skills:     primary.Skills,
			Command:    c.Command(tool, primary.Skills, request),
			Reason:     reason,
		})
	}
	return alts
}

// Recommendation classifies request into an unlogged recommendation.
func (c *Classifier) Recommendation(request string) models.Recommendation {
	res := c.Classify(request)
	return models.Recommendation{
		Primary: models.ToolChoice{
			Tool:        res.Tool,
			Confidence:  res.Confidence,
			Skills:      res.Skills,
			Command:     res.Command,
			Explanation: res.Explanation,
		},
		Alternatives: c.Alternatives(request, res, c.cfg.MaxAlternatives),
		Confidence:   res.Confidence,
		Explanation:  res.Explanation,
	}
}
