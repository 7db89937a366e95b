// Package models defines the records that flow between the classifier,
// the satisfaction ledger, and the feedback loop.
package models

import (
	"time"
)

// FeedbackSource records who produced a satisfaction score.
type FeedbackSource string

const (
	// FeedbackManual is an explicit score submitted by the user.
	FeedbackManual FeedbackSource = "manual"

	// FeedbackAuto is a score inferred from follow-up utterances.
	FeedbackAuto FeedbackSource = "auto-detected"
)

// Score bounds for satisfaction feedback.
const (
	MinScore = 1
	MaxScore = 5
)

// Conversation is one classified user request plus its eventual outcome.
type Conversation struct {
	// Unique identifier, conv_<unix>_<ordinal>
	ID string `json:"id"`

	// When the request was classified
	Timestamp time.Time `json:"timestamp"`

	// Raw request text (sanitized)
	UserInput string `json:"user_input"`

	// Tool and command that were recommended
	Tool    string `json:"tool"`
	Command string `json:"command"`

	// Outcome, nil until feedback arrives
	Feedback          *string `json:"feedback"`
	SatisfactionScore *int    `json:"satisfaction_score"`

	// Set once the detector has written an inferred score
	FollowUpAnalyzed bool `json:"follow_up_analyzed"`

	FeedbackSource FeedbackSource `json:"feedback_source,omitempty"`
}

// HasFeedback reports whether any score has been recorded.
func (c *Conversation) HasFeedback() bool {
	return c.SatisfactionScore != nil
}

// HasManualFeedback reports whether the user scored this conversation directly.
func (c *Conversation) HasManualFeedback() bool {
	return c.HasFeedback() && c.FeedbackSource != FeedbackAuto
}

// Feedback is an append-only satisfaction record.
type Feedback struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Score          int            `json:"score"`
	Text           string         `json:"text"`
	Source         FeedbackSource `json:"source"`
	Timestamp      time.Time      `json:"timestamp"`
}

// ValidScore reports whether score is inside [MinScore, MaxScore].
func ValidScore(score int) bool {
	return score >= MinScore && score <= MaxScore
}
