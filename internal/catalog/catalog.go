// Package catalog describes the CLI tools and skills the router knows about:
// which flags each tool accepts and what each skill is for.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/nvandessel/skillroute/internal/sanitize"
)

// Catalog is the static tool/skill document.
type Catalog struct {
	// Tools maps a tool name to the flags it accepts. An empty list means
	// the accepted flags are unknown and nothing is filtered.
	Tools map[string][]string `json:"tools"`

	// Skills maps a skill name to a free-text description.
	Skills map[string]string `json:"skills"`
}

// Source yields the catalog currently in effect.
type Source interface {
	Current() *Catalog
}

// Current makes a loaded Catalog its own static Source.
func (c *Catalog) Current() *Catalog { return c }

// Default returns the built-in catalog used when no document is configured.
func Default() *Catalog {
	return &Catalog{
		Tools: map[string][]string{
			"orchestrator": {"--skill", "--verbose", "--debug", "--format"},
			"gemini":       {"--skill", "--research", "--comprehensive", "--format", "--verbose"},
			"codex":        {"--skill", "--debug", "--verbose", "--format", "--full-auto"},
			"aider":        {"--skill", "--debug", "--verbose", "--yes", "--no-auto-commits"},
		},
		Skills: map[string]string{
			"pdf":            "Extract, merge, and fill PDF documents",
			"xlsx":           "Read and build spreadsheets with formulas",
			"docx":           "Create and edit Word documents",
			"pptx":           "Build slide decks",
			"webapp-testing": "Drive a browser to test local web apps",
			"mcp-builder":    "Scaffold Model Context Protocol servers",
		},
	}
}

// Load reads the catalog at path. An empty path or a missing file yields
// Default; a malformed document is an error.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	// Names end up as bare words in synthesized commands.
	out := &Catalog{
		Tools:  make(map[string][]string, len(c.Tools)),
		Skills: make(map[string]string, len(c.Skills)),
	}
	for name, flags := range c.Tools {
		if clean := sanitize.SanitizeName(name); clean != "" {
			out.Tools[clean] = flags
		}
	}
	for name, desc := range c.Skills {
		if clean := sanitize.SanitizeName(name); clean != "" {
			out.Skills[clean] = desc
		}
	}
	return out, nil
}

// ToolNames returns the catalog's tools sorted by name.
func (c *Catalog) ToolNames() []string {
	return sortedKeys(c.Tools)
}

// SkillNames returns the catalog's skills sorted by name.
func (c *Catalog) SkillNames() []string {
	return sortedKeys(c.Skills)
}

// FilterFlags keeps the flags tool is known to accept. Tools that are
// absent from the catalog, or list no flags, accept everything.
func (c *Catalog) FilterFlags(tool string, flags []string) []string {
	accepted, ok := c.Tools[tool]
	if !ok || len(accepted) == 0 {
		return flags
	}
	set := make(map[string]bool, len(accepted))
	for _, f := range accepted {
		set[f] = true
	}
	var out []string
	for i := 0; i < len(flags); i++ {
		f := flags[i]
		if !strings.HasPrefix(f, "-") {
			continue // value of a dropped flag
		}
		if !set[f] {
			// Skip the flag's value too.
			if i+1 < len(flags) && !strings.HasPrefix(flags[i+1], "-") {
				i++
			}
			continue
		}
		out = append(out, f)
		if i+1 < len(flags) && !strings.HasPrefix(flags[i+1], "-") {
			out = append(out, flags[i+1])
			i++
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
