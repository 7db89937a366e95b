// Package sentiment infers a satisfaction score from a user's follow-up
// messages using ordered phrase patterns.
package sentiment

import (
	"math"
	"regexp"
	"strings"
)

// Inconclusive is the reason reported when no pattern matched.
const Inconclusive = "inconclusive"

// Verdict is the outcome of analyzing one message. Score is 0 when the
// message carries no signal; 0 is never a neutral rating.
type Verdict struct {
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

// Conclusive reports whether the verdict carries a score.
func (v Verdict) Conclusive() bool {
	return v.Score != 0
}

type pattern struct {
	re     *regexp.Regexp
	reason string
}

func compile(reason, expr string) pattern {
	return pattern{re: regexp.MustCompile(expr), reason: reason}
}

// Dissatisfaction patterns, evaluated in order.
var dissatisfaction = []pattern{
	compile("explicit negative", `\b(not|doesn't|does not|didn't|did not|isn't|is not|won't|can't)\s+(work|working|right|correct|help|helpful|what i)`),
	compile("explicit negative", `\b(wrong|broken|useless|terrible|awful|horrible|failed|fails|failing|hate|bad)\b`),
	compile("error reported", `\b(errors?|bugs?|exceptions?|crash(ed|es|ing)?|traceback|stack trace|segfault)\b`),
	compile("modification requested", `\b(try again|retry|redo|modify|change (it|that|this)|instead|fix|rerun)\b`),
	compile("close but not right", `\b(almost|close but|not quite|nearly|but still|partially|kind of works)\b`),
}

var strongNegative = regexp.MustCompile(`\b(broken|not working|doesn't work|does not work|terrible|useless|awful|hate|errors?|fix|failed|crash(ed)?)\b`)

var satisfaction = []pattern{
	compile("thanks", `\b(thanks|thank you|thx|ty)\b`),
	compile("success", `\b(perfect|works|worked|working now|excellent|awesome|exactly|great|nice|good job|well done|love it|helpful|solved)\b`),
}

var strongPositive = regexp.MustCompile(`\b(thank you|thanks|perfect|works|worked|excellent|exactly|awesome|love it)\b`)

var adjustment = []pattern{
	compile("parameter change requested", `\b(add|pass|include|set)\s+(a|an|the)?\s*(parameter|flag|option|argument|switch)\b`),
	compile("different choice requested", `\buse\s+(a\s+)?different\b`),
	compile("output change requested", `\b(more|less)\s+(verbose|detail|detailed|output)\b`),
	compile("flag requested", `(^|\s)--?[a-z][\w-]*`),
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'")

// AnalyzeFollowUp scores a single follow-up message: 1 or 2 for
// dissatisfaction (1 when strong negative words appear), 4 or 5 for
// satisfaction (5 with a strong positive cue), 2 for a requested command
// adjustment, or an inconclusive Verdict.
func AnalyzeFollowUp(text string) Verdict {
	lower := apostrophes.Replace(strings.ToLower(strings.TrimSpace(text)))
	if lower == "" {
		return Verdict{Reason: Inconclusive}
	}

	for _, p := range dissatisfaction {
		if p.re.MatchString(lower) {
			if strongNegative.MatchString(lower) {
				return Verdict{Score: 1, Reason: "strong dissatisfaction: " + p.reason}
			}
			return Verdict{Score: 2, Reason: "dissatisfaction: " + p.reason}
		}
	}

	for _, p := range satisfaction {
		if p.re.MatchString(lower) {
			if strongPositive.MatchString(lower) {
				return Verdict{Score: 5, Reason: "strong satisfaction: " + p.reason}
			}
			return Verdict{Score: 4, Reason: "satisfaction: " + p.reason}
		}
	}

	for _, p := range adjustment {
		if p.re.MatchString(lower) {
			return Verdict{Score: 2, Reason: "command adjustment: " + p.reason}
		}
	}

	return Verdict{Reason: Inconclusive}
}

// DetectFromFlow aggregates a conversation's follow-ups. Inconclusive
// messages are ignored; ok is false when none scored. Any score of 1
// forces the aggregate to 1, otherwise the mean is rounded half to even.
func DetectFromFlow(messages []string) (score int, ok bool) {
	sum, n := 0, 0
	for _, msg := range messages {
		v := AnalyzeFollowUp(msg)
		if !v.Conclusive() {
			continue
		}
		if v.Score == 1 {
			return 1, true
		}
		sum += v.Score
		n++
	}
	if n == 0 {
		return 0, false
	}
	return int(math.RoundToEven(float64(sum) / float64(n))), true
}
