package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dorohq/doro/internal/domain"
	"github.com/dorohq/doro/internal/llm"
)

// Validator is layer 5: it re-scores the draft for quality, cultural
// fit, and appointment intent, and is the sole arbiter of the text
// that exits the pipeline. It may flag a consultant briefing when the
// lead warrants human follow-up.
type Validator struct {
	client  llm.Client
	persona string
	logger  *slog.Logger
}

func NewValidator(client llm.Client, persona string, logger *slog.Logger) *Validator {
	return &Validator{client: client, persona: persona, logger: logger}
}

const synthesisSystemTemplate = `You are the quality gate for %s, a Singapore
real-estate WhatsApp assistant. Review the draft reply against the lead
psychology and strategy. You may lightly edit the draft; do not change its
meaning. Respond ONLY with a JSON object:
{
  "final_message": "the approved reply",
  "quality_score": 0.0,
  "cultural_fit_score": 0.0,
  "appointment_intent": false,
  "consultant_briefing": ""
}
Set consultant_briefing to a short handover note only when the lead is hot
enough that a human consultant should step in.`

type synthesisResponse struct {
	FinalMessage       string  `json:"final_message"`
	QualityScore       float64 `json:"quality_score"`
	CulturalFitScore   float64 `json:"cultural_fit_score"`
	AppointmentIntent  bool    `json:"appointment_intent"`
	ConsultantBriefing string  `json:"consultant_briefing"`
}

func (v *Validator) Run(ctx context.Context, in Input, psych domain.PsychologyResult, intel domain.IntelligenceResult, strategy domain.StrategyResult, draft domain.ContentResult) (domain.SynthesisResult, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Lead psychology: resistance=%s readiness=%s urgency=%.2f\n",
		psych.ResistanceLevel, psych.AppointmentReadiness, psych.UrgencyScore)
	fmt.Fprintf(&prompt, "Strategy: appointment=%s goal=%s alignment=%.2f\n",
		strategy.AppointmentStrategy, strategy.ConversationGoal, strategy.AlignmentScore)
	fmt.Fprintf(&prompt, "Fact-check confidence: %.2f\n", intel.FactCheckConfidence)
	fmt.Fprintf(&prompt, "Latest lead messages:\n%s\n\n", in.Batch.CombinedText())
	fmt.Fprintf(&prompt, "Draft reply (tone=%s):\n%s\n", draft.Tone, draft.Text)

	resp, err := v.client.Complete(ctx, llm.Request{
		Stage:       domain.StageSynthesis,
		Operation:   "synthesis_validation",
		System:      fmt.Sprintf(synthesisSystemTemplate, v.persona),
		Prompt:      prompt.String(),
		Temperature: 0.2,
		MaxTokens:   500,
		JSONMode:    true,
	})
	if err != nil {
		return domain.SynthesisResult{}, err
	}

	var wire synthesisResponse
	if err := llm.DecodeJSON(domain.StageSynthesis, resp.Text, &wire); err != nil {
		return domain.SynthesisResult{}, err
	}

	text := strings.TrimSpace(wire.FinalMessage)
	if text == "" {
		// An empty approval means the validator gave us nothing better
		// than the draft.
		text = draft.Text
	}

	return domain.SynthesisResult{
		Text:               text,
		QualityScore:       clamp01(wire.QualityScore),
		CulturalFitScore:   clamp01(wire.CulturalFitScore),
		AppointmentIntent:  wire.AppointmentIntent || strategy.AppointmentStrategy.Rank() >= domain.StrategyDirectOffer.Rank(),
		ConsultantBriefing: strings.TrimSpace(wire.ConsultantBriefing),
	}, nil
}
