package classify

import "fmt"

// Config holds the classifier's policy knobs.
type Config struct {
	// RuleConfidence is reported for every rule-path decision.
	RuleConfidence float64 `yaml:"rule_confidence"`

	// DefaultTool is chosen when no keyword matches.
	DefaultTool string `yaml:"default_tool"`

	// Orchestrator names the generic tool that takes run/ask subcommands.
	Orchestrator string `yaml:"orchestrator"`

	// MaxAlternatives bounds the base recommendation's alternatives.
	MaxAlternatives int `yaml:"max_alternatives"`

	// DefaultFlags are placed before the quoted request when a named tool
	// is invoked without a skill.
	DefaultFlags map[string][]string `yaml:"default_flags"`
}

// DefaultConfig returns the stock classifier settings.
func DefaultConfig() Config {
	return Config{
		RuleConfidence:  0.7,
		DefaultTool:     "orchestrator",
		Orchestrator:    "orchestrator",
		MaxAlternatives: 3,
		DefaultFlags: map[string][]string{
			"gemini": {"-p"},
			"codex":  {"exec"},
			"aider":  {"--yes", "--message"},
		},
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if c.RuleConfidence < 0 || c.RuleConfidence > 1 {
		return fmt.Errorf("rule_confidence must be within [0, 1], got %v", c.RuleConfidence)
	}
	if c.DefaultTool == "" {
		return fmt.Errorf("default_tool is required")
	}
	if c.Orchestrator == "" {
		return fmt.Errorf("orchestrator is required")
	}
	if c.MaxAlternatives < 0 {
		return fmt.Errorf("max_alternatives must not be negative")
	}
	return nil
}
