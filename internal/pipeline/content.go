package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dorohq/doro/internal/domain"
	"github.com/dorohq/doro/internal/llm"
)

// Generator is layer 4: it drafts the reply text following the
// strategy and the fixed persona.
type Generator struct {
	client  llm.Client
	persona string
	logger  *slog.Logger
}

func NewGenerator(client llm.Client, persona string, logger *slog.Logger) *Generator {
	return &Generator{client: client, persona: persona, logger: logger}
}

const contentSystemTemplate = `You are %s, a friendly and knowledgeable Singapore
real-estate consultant chatting on WhatsApp. Write naturally, use at most one
question, never mention being an AI, and keep claims grounded in the data
provided. Respond ONLY with a JSON object:
{
  "message": "the WhatsApp reply",
  "tone": "warm|professional|enthusiastic|reassuring",
  "appointment_call_strength": 0.0,
  "include_floor_plans": false
}`

type contentResponse struct {
	Message                 string  `json:"message"`
	Tone                    string  `json:"tone"`
	AppointmentCallStrength float64 `json:"appointment_call_strength"`
	IncludeFloorPlans       bool    `json:"include_floor_plans"`
}

func (g *Generator) Run(ctx context.Context, in Input, psych domain.PsychologyResult, intel domain.IntelligenceResult, strategy domain.StrategyResult) (domain.ContentResult, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Conversation so far:\n%s\n", historyTranscript(in.History, 12))
	fmt.Fprintf(&prompt, "New messages from the lead:\n%s\n\n", in.Batch.CombinedText())
	fmt.Fprintf(&prompt, "Lead profile: style=%s resistance=%s readiness=%s\n",
		psych.CommunicationStyle, psych.ResistanceLevel, psych.AppointmentReadiness)
	fmt.Fprintf(&prompt, "Strategy: %s (goal=%s, appointment=%s)\n",
		strategy.Approach, strategy.ConversationGoal, strategy.AppointmentStrategy)
	if len(strategy.ObjectionHandling) > 0 {
		fmt.Fprintf(&prompt, "Objections to address: %v\n", strategy.ObjectionHandling)
	}
	if len(intel.Properties) > 0 {
		prompt.WriteString("Verified listings you may reference:\n")
		for _, p := range intel.Properties {
			fmt.Fprintf(&prompt, "- %s, %s, %d BR, %d sqft, S$%d (%s)\n",
				p.Name, p.District, p.Bedrooms, p.SizeSqft, p.PriceSGD, p.Tenure)
		}
		fmt.Fprintf(&prompt, "Fact-check confidence: %.2f\n", intel.FactCheckConfidence)
	}
	for _, s := range intel.MarketSnippets {
		fmt.Fprintf(&prompt, "Market note: %s\n", s)
	}

	resp, err := g.client.Complete(ctx, llm.Request{
		Stage:       domain.StageContent,
		Operation:   "content_generation",
		System:      fmt.Sprintf(contentSystemTemplate, g.persona),
		Prompt:      prompt.String(),
		Temperature: 0.7,
		MaxTokens:   500,
		JSONMode:    true,
	})
	if err != nil {
		return domain.ContentResult{}, err
	}

	var wire contentResponse
	if err := llm.DecodeJSON(domain.StageContent, resp.Text, &wire); err != nil {
		return domain.ContentResult{}, err
	}
	if strings.TrimSpace(wire.Message) == "" {
		return domain.ContentResult{}, domain.NewStageError(
			domain.StageContent, domain.FailureMalformed,
			fmt.Errorf("content layer returned empty message"))
	}

	res := domain.ContentResult{
		Text:                    strings.TrimSpace(wire.Message),
		Tone:                    domain.ToneWarm,
		AppointmentCallStrength: clamp01(wire.AppointmentCallStrength),
	}
	switch t := domain.Tone(wire.Tone); t {
	case domain.ToneWarm, domain.ToneProfessional, domain.ToneEnthusiastic, domain.ToneReassuring:
		res.Tone = t
	}
	if wire.IncludeFloorPlans {
		res.FloorPlans = intel.FloorPlans
	}
	return res, nil
}
