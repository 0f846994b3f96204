package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dorohq/doro/internal/domain"
	"github.com/dorohq/doro/internal/llm"
)

// Analyzer is layer 1: it reads the lead's communication style,
// resistance, urgency, and appointment readiness from the batch and
// conversation history.
type Analyzer struct {
	client llm.Client
	logger *slog.Logger
}

func NewAnalyzer(client llm.Client, logger *slog.Logger) *Analyzer {
	return &Analyzer{client: client, logger: logger}
}

const psychologySystem = `You are the psychology analyst of a Singapore real-estate
lead-qualification assistant. Analyze the lead's latest messages against the
conversation history. Respond ONLY with a JSON object:
{
  "communication_style": "direct|analytical|expressive|cautious",
  "resistance_level": "low|medium|high",
  "urgency_score": 0.0,
  "appointment_readiness": "not_ready|warming_up|ready|very_ready",
  "conversation_stage": "initial|exploring|qualifying|committed",
  "topics_discussed": ["..."],
  "questions_asked": ["..."],
  "repetition_risk": false
}`

type psychologyResponse struct {
	CommunicationStyle   string   `json:"communication_style"`
	ResistanceLevel      string   `json:"resistance_level"`
	UrgencyScore         float64  `json:"urgency_score"`
	AppointmentReadiness string   `json:"appointment_readiness"`
	ConversationStage    string   `json:"conversation_stage"`
	TopicsDiscussed      []string `json:"topics_discussed"`
	QuestionsAsked       []string `json:"questions_asked"`
	RepetitionRisk       bool     `json:"repetition_risk"`
}

func (a *Analyzer) Run(ctx context.Context, in Input) (domain.PsychologyResult, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Conversation so far:\n%s\n", historyTranscript(in.History, 20))
	fmt.Fprintf(&prompt, "New messages from the lead:\n%s\n\n", in.Batch.CombinedText())
	fmt.Fprintf(&prompt, "Deterministic signals: kind=%s topics=%v urgency_hint=%.2f questions=%d\n",
		in.Heuristics.Kind, in.Heuristics.Topics, in.Heuristics.UrgencyHint, in.Heuristics.QuestionCount)

	resp, err := a.client.Complete(ctx, llm.Request{
		Stage:       domain.StagePsychology,
		Operation:   "psychology_analysis",
		System:      psychologySystem,
		Prompt:      prompt.String(),
		Temperature: 0.2,
		MaxTokens:   400,
		JSONMode:    true,
	})
	if err != nil {
		return domain.PsychologyResult{}, err
	}

	var wire psychologyResponse
	if err := llm.DecodeJSON(domain.StagePsychology, resp.Text, &wire); err != nil {
		return domain.PsychologyResult{}, err
	}

	return a.normalize(wire), nil
}

// normalize validates the wire values, falling back field by field to
// the conservative defaults rather than rejecting the whole result.
func (a *Analyzer) normalize(wire psychologyResponse) domain.PsychologyResult {
	res := domain.PsychologyResult{
		CommunicationStyle:   domain.StyleCautious,
		ResistanceLevel:      domain.ResistanceMedium,
		AppointmentReadiness: domain.ReadinessNotReady,
		Stage:                domain.StageInitial,
		Continuity: domain.ConversationContinuity{
			TopicsDiscussed: wire.TopicsDiscussed,
			QuestionsAsked:  wire.QuestionsAsked,
			RepetitionRisk:  wire.RepetitionRisk,
		},
	}

	switch s := domain.CommunicationStyle(wire.CommunicationStyle); s {
	case domain.StyleDirect, domain.StyleAnalytical, domain.StyleExpressive, domain.StyleCautious:
		res.CommunicationStyle = s
	}
	switch r := domain.ResistanceLevel(wire.ResistanceLevel); r {
	case domain.ResistanceLow, domain.ResistanceMedium, domain.ResistanceHigh:
		res.ResistanceLevel = r
	}
	switch r := domain.AppointmentReadiness(wire.AppointmentReadiness); r {
	case domain.ReadinessNotReady, domain.ReadinessWarmingUp, domain.ReadinessReady, domain.ReadinessVeryReady:
		res.AppointmentReadiness = r
	}
	switch s := domain.ConversationStage(wire.ConversationStage); s {
	case domain.StageInitial, domain.StageExploring, domain.StageQualifying, domain.StageCommitted:
		res.Stage = s
	}

	res.UrgencyScore = clamp01(wire.UrgencyScore)
	return res
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
