package domain

import "time"

// UsageRecord is emitted once per LLM call for external cost
// accounting. The engine never computes costs itself.
type UsageRecord struct {
	Operation    string    `json:"operation"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Estimated    bool      `json:"estimated"`
	At           time.Time `json:"at"`
}
