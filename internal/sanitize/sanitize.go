// Package sanitize normalizes free text and identifiers before they are
// stored in the satisfaction ledger or embedded into synthesized commands.
// It strips control characters, collapses runaway whitespace, and enforces
// length limits while preserving the meaning of the text.
package sanitize

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxInputLength is the maximum allowed length for request and follow-up text.
const MaxInputLength = 4000

// MaxNameLength is the maximum allowed length for tool and skill names.
const MaxNameLength = 64

var (
	// reExcessiveNewlines matches 3 or more consecutive newlines.
	reExcessiveNewlines = regexp.MustCompile(`\n{3,}`)

	// reRunOfSpaces matches runs of spaces or tabs.
	reRunOfSpaces = regexp.MustCompile(`[ \t]{2,}`)

	// reRepeatedHyphens matches 2 or more consecutive hyphens.
	reRepeatedHyphens = regexp.MustCompile(`-{2,}`)

	// reRepeatedUnderscores matches 2 or more consecutive underscores.
	reRepeatedUnderscores = regexp.MustCompile(`_{2,}`)
)

// SanitizeUserText cleans a request or follow-up utterance for storage.
//
// The pipeline runs in this order:
//  1. Strip null bytes and ASCII control characters (except \n, \t)
//  2. Collapse runs of spaces/tabs to a single space
//  3. Collapse excessive newlines (3+ -> 2)
//  4. Trim leading/trailing whitespace
//  5. Truncate to MaxInputLength
func SanitizeUserText(input string) string {
	if input == "" {
		return ""
	}

	s := stripControlChars(input)
	s = reRunOfSpaces.ReplaceAllString(s, " ")
	s = reExcessiveNewlines.ReplaceAllString(s, "\n\n")
	s = strings.TrimSpace(s)

	// Rune-safe to avoid splitting multi-byte UTF-8 chars.
	if utf8.RuneCountInString(s) > MaxInputLength {
		runes := []rune(s)
		s = string(runes[:MaxInputLength]) + "..."
	}

	return s
}

// SanitizeName normalizes a tool or skill identifier, keeping only
// [a-z0-9-_.] after lower-casing and enforcing MaxNameLength.
// Repeated hyphens and underscores are collapsed to single instances.
func SanitizeName(input string) string {
	if input == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(input))
	for _, r := range strings.ToLower(input) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			b.WriteRune(r)
		}
	}
	s := b.String()

	s = reRepeatedHyphens.ReplaceAllString(s, "-")
	s = reRepeatedUnderscores.ReplaceAllString(s, "_")

	if len(s) > MaxNameLength {
		s = s[:MaxNameLength]
	}

	return s
}

// SanitizeFilePath cleans path traversal sequences and strips control
// characters. Used for the data directory and artifact paths from config.
func SanitizeFilePath(input string) string {
	if input == "" {
		return ""
	}
	s := stripControlChars(input)
	return filepath.Clean(s)
}

// stripControlChars removes ASCII control characters (0x00-0x1F) and DEL (0x7F) from
// the string, except for newline (0x0A) and tab (0x09) which are preserved.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r < 0x20 || r == 0x7F) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
