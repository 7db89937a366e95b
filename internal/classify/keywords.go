package classify

import (
	"sort"
	"strings"
)

// toolKeywords is the rule path's tool table.
var toolKeywords = map[string][]string{
	"orchestrator": {"plan", "workflow", "orchestrate", "coordinate", "pipeline", "multi-step", "multiple"},
	"gemini":       {"research", "search", "analyze", "analyse", "summarize", "summarise", "explain", "compare", "report"},
	"codex":        {"code", "implement", "function", "refactor", "test", "tests", "script", "build", "write"},
	"aider":        {"edit", "fix", "bug", "debug", "patch", "commit", "repo", "repository"},
}

type skillRule struct {
	name     string
	keywords []string
}

// skillTable is scanned in order; the first match picks the command template.
var skillTable = []skillRule{
	{"pdf", []string{"pdf", "pdfs"}},
	{"xlsx", []string{"xlsx", "excel", "spreadsheet", "spreadsheets", "csv"}},
	{"docx", []string{"docx", "word document", "word doc"}},
	{"pptx", []string{"pptx", "powerpoint", "slides", "slide deck", "presentation"}},
	{"webapp-testing", []string{"webapp", "web app", "playwright", "browser test", "e2e"}},
	{"mcp-builder", []string{"mcp", "mcp server", "model context protocol"}},
}

// containsWord reports whether kw occurs in text bounded by non-word
// characters on both sides. Both are expected lowercase.
func containsWord(text, kw string) bool {
	if kw == "" {
		return false
	}
	for start := 0; ; {
		i := strings.Index(text[start:], kw)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(kw)
		if (i == 0 || !isWordByte(text[i-1])) && (end == len(text) || !isWordByte(text[end])) {
			return true
		}
		start = i + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

// keywordHits counts the distinct keywords of each tool present in text.
func keywordHits(text string, table map[string][]string) map[string]int {
	hits := make(map[string]int, len(table))
	for tool, kws := range table {
		n := 0
		for _, kw := range kws {
			if containsWord(text, kw) {
				n++
			}
		}
		hits[tool] = n
	}
	return hits
}

// bestTool returns the tool with the most hits, breaking ties by name.
// ok is false when nothing matched.
func bestTool(hits map[string]int) (tool string, n int, ok bool) {
	names := make([]string, 0, len(hits))
	for name := range hits {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if hits[name] > n {
			tool, n = name, hits[name]
		}
	}
	return tool, n, n > 0
}

// skillKeywords derives match terms for a catalog skill that has no entry
// in skillTable: the name itself and its hyphen-free spelling.
func skillKeywords(name string) []string {
	kws := []string{name}
	if spaced := strings.NewReplacer("-", " ", "_", " ").Replace(name); spaced != name {
		kws = append(kws, spaced)
	}
	return kws
}
