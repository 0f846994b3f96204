package domain

import "time"

// ConversationContinuity carries what the conversation has already
// covered so later layers avoid repeating themselves.
type ConversationContinuity struct {
	TopicsDiscussed []string `json:"topics_discussed"`
	QuestionsAsked  []string `json:"questions_asked"`
	RepetitionRisk  bool     `json:"repetition_risk"`
}

// PsychologyResult is the layer-1 read of the lead. Degraded is set
// when the result came from the static fallback rather than the model.
type PsychologyResult struct {
	CommunicationStyle   CommunicationStyle     `json:"communication_style"`
	ResistanceLevel      ResistanceLevel        `json:"resistance_level"`
	UrgencyScore         float64                `json:"urgency_score"`
	AppointmentReadiness AppointmentReadiness   `json:"appointment_readiness"`
	Stage                ConversationStage      `json:"conversation_stage"`
	Continuity           ConversationContinuity `json:"continuity"`
	Degraded             bool                   `json:"degraded"`
}

// FallbackPsychology is the static substitute used when layer 1 fails:
// a neutral read that biases every downstream decision conservative.
func FallbackPsychology() PsychologyResult {
	return PsychologyResult{
		CommunicationStyle:   StyleCautious,
		ResistanceLevel:      ResistanceMedium,
		UrgencyScore:         0.3,
		AppointmentReadiness: ReadinessNotReady,
		Stage:                StageInitial,
		Degraded:             true,
	}
}

// IntelligenceResult is the layer-2 grounding data for the batch.
type IntelligenceResult struct {
	Properties          []Property     `json:"properties"`
	FactCheckConfidence float64        `json:"fact_check_confidence"`
	MarketSnippets      []string       `json:"market_snippets"`
	FloorPlans          []FloorPlanRef `json:"floor_plans"`
	Degraded            bool           `json:"degraded"`
}

// FallbackIntelligence is the empty-but-valid substitute for layer 2.
func FallbackIntelligence() IntelligenceResult {
	return IntelligenceResult{FactCheckConfidence: 0, Degraded: true}
}

// StrategyResult is the layer-3 plan. AlignmentScore records how well
// the chosen tier matches the psychology read; it is always populated
// so downstream layers and tests can audit the decision.
type StrategyResult struct {
	Approach            string              `json:"approach"`
	ConversationGoal    ConversationGoal    `json:"conversation_goal"`
	AppointmentStrategy AppointmentStrategy `json:"appointment_strategy"`
	ObjectionHandling   []string            `json:"objection_handling"`
	AlignmentScore      float64             `json:"alignment_score"`
	Refined             bool                `json:"refined"`
	FromRuleTable       bool                `json:"from_rule_table"`
	Degraded            bool                `json:"degraded"`
}

// ContentResult is the layer-4 draft reply.
type ContentResult struct {
	Text                    string         `json:"text"`
	Tone                    Tone           `json:"tone"`
	AppointmentCallStrength float64        `json:"appointment_call_strength"`
	FloorPlans              []FloorPlanRef `json:"floor_plans"`
	Degraded                bool           `json:"degraded"`
}

// FallbackContent is the static draft used when layer 4 fails. It is
// deliberately generic and commits to nothing.
func FallbackContent() ContentResult {
	return ContentResult{
		Text:     "Thanks for your message! Let me check on that for you. Could you share a bit more about what you're looking for in the meantime?",
		Tone:     ToneWarm,
		Degraded: true,
	}
}

// FallbackSynthesis passes the draft through unvalidated when layer 5
// fails, with a conservative quality score.
func FallbackSynthesis(draft ContentResult) SynthesisResult {
	return SynthesisResult{
		Text:         draft.Text,
		QualityScore: 0.5,
		Degraded:     true,
	}
}

// SynthesisResult is the layer-5 verdict on the draft.
type SynthesisResult struct {
	Text               string  `json:"text"`
	QualityScore       float64 `json:"quality_score"`
	CulturalFitScore   float64 `json:"cultural_fit_score"`
	AppointmentIntent  bool    `json:"appointment_intent"`
	ConsultantBriefing string  `json:"consultant_briefing,omitempty"`
	Degraded           bool    `json:"degraded"`
}

// FinalResponse is the single artifact the pipeline hands to delivery.
type FinalResponse struct {
	BatchID            string    `json:"batch_id"`
	SenderID           string    `json:"sender_id"`
	Text               string    `json:"text"`
	QualityScore       float64   `json:"quality_score"`
	AppointmentIntent  bool      `json:"appointment_intent"`
	ConsultantBriefing string    `json:"consultant_briefing,omitempty"`
	Degraded           bool      `json:"degraded"`
	Synthesized        bool      `json:"synthesized"`
	CreatedAt          time.Time `json:"created_at"`
}
