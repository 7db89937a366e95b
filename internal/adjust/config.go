package adjust

import "fmt"

// Config holds the adjustment thresholds and confidence nudges.
type Config struct {
	// LowThreshold: a mean below it regenerates alternatives as variants.
	LowThreshold float64 `yaml:"low_threshold"`

	// HighThreshold: a mean above it boosts the primary's confidence.
	HighThreshold float64 `yaml:"high_threshold"`

	// TrendThreshold: a trend below it flags declining satisfaction.
	TrendThreshold float64 `yaml:"trend_threshold"`

	ConfidenceBoost    float64 `yaml:"confidence_boost"`
	DegradedConfidence float64 `yaml:"degraded_confidence"`
	MaxVariants        int     `yaml:"max_variants"`

	// TrendWindow is the most recent scores compared against the rest.
	TrendWindow int `yaml:"trend_window"`

	// DefaultMean stands in for the mean when there is no feedback yet.
	DefaultMean float64 `yaml:"default_mean"`
}

// DefaultConfig returns the stock adjuster settings.
func DefaultConfig() Config {
	return Config{
		LowThreshold:       3.0,
		HighThreshold:      4.0,
		TrendThreshold:     -0.5,
		ConfidenceBoost:    0.1,
		DegradedConfidence: 0.4,
		MaxVariants:        5,
		TrendWindow:        5,
		DefaultMean:        3.0,
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if c.LowThreshold > c.HighThreshold {
		return fmt.Errorf("low_threshold %v exceeds high_threshold %v", c.LowThreshold, c.HighThreshold)
	}
	if c.DegradedConfidence < 0 || c.DegradedConfidence > 1 {
		return fmt.Errorf("degraded_confidence must be within [0, 1], got %v", c.DegradedConfidence)
	}
	if c.ConfidenceBoost < 0 {
		return fmt.Errorf("confidence_boost must not be negative")
	}
	if c.MaxVariants < 0 {
		return fmt.Errorf("max_variants must not be negative")
	}
	if c.TrendWindow < 1 {
		return fmt.Errorf("trend_window must be at least 1")
	}
	return nil
}
