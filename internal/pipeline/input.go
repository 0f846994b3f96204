package pipeline

import (
	"fmt"
	"strings"

	"github.com/dorohq/doro/internal/domain"
)

// Input is the immutable unit of work one pipeline run consumes. The
// orchestrator assembles it once per batch; stages only read it.
type Input struct {
	Batch      domain.Batch
	History    []domain.Message
	Lead       *domain.LeadProfile
	Heuristics HeuristicSignals
}

// historyTranscript renders the conversation history for prompts,
// oldest first, capped at limit lines.
func historyTranscript(history []domain.Message, limit int) string {
	if limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	var b strings.Builder
	for _, m := range history {
		role := "Lead"
		if m.Sender == domain.SenderBot {
			role = "Doro"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, m.Text)
	}
	return b.String()
}
