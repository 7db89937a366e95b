package models

// ToolChoice is a single ranked tool invocation.
type ToolChoice struct {
	Tool        string   `json:"tool"`
	Confidence  float64  `json:"confidence"`
	Skills      []string `json:"skills"`
	Command     string   `json:"command"`
	Explanation string   `json:"explanation,omitempty"`

	// Reason is set on alternatives to say why they were offered
	Reason string `json:"reason,omitempty"`
}

// Recommendation is the primary choice plus its ranked fallbacks.
type Recommendation struct {
	// ConversationID is empty for previews that were not logged
	ConversationID string `json:"conversation_id"`

	Primary      ToolChoice   `json:"primary"`
	Alternatives []ToolChoice `json:"alternatives"`

	Confidence            float64 `json:"confidence"`
	Explanation           string  `json:"explanation"`
	ConfidenceExplanation string  `json:"confidence_explanation,omitempty"`
}

// ClampConfidence bounds c to [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
