// Package domain provides the canonical types shared by the response
// pipeline, the batch orchestrator, and the supporting services.
package domain

import (
	"strings"
	"time"
)

// Sender identifies which side of the conversation authored a message.
type Sender string

const (
	SenderLead Sender = "lead"
	SenderBot  Sender = "bot"
)

// Message is a single WhatsApp message. Messages are immutable once
// stored and are ordered by Timestamp.
type Message struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Batch is an ordered run of messages from one sender collected within
// the orchestrator's debounce window. A batch never changes after it
// has been handed to the pipeline.
type Batch struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

// CombinedText joins the batch messages in arrival order, one per line.
func (b *Batch) CombinedText() string {
	parts := make([]string, 0, len(b.Messages))
	for _, m := range b.Messages {
		parts = append(parts, m.Text)
	}
	return strings.Join(parts, "\n")
}

// LastMessage returns the most recent message of the batch. The
// orchestrator's degraded path processes only this message.
func (b *Batch) LastMessage() Message {
	if len(b.Messages) == 0 {
		return Message{}
	}
	return b.Messages[len(b.Messages)-1]
}

// ConversationStage is the coarse position of a lead in the funnel.
type ConversationStage string

const (
	StageInitial    ConversationStage = "initial"
	StageExploring  ConversationStage = "exploring"
	StageQualifying ConversationStage = "qualifying"
	StageCommitted  ConversationStage = "committed"
)

// CommunicationStyle classifies how the lead writes.
type CommunicationStyle string

const (
	StyleDirect     CommunicationStyle = "direct"
	StyleAnalytical CommunicationStyle = "analytical"
	StyleExpressive CommunicationStyle = "expressive"
	StyleCautious   CommunicationStyle = "cautious"
)

// ResistanceLevel is how strongly the lead pushes back on engagement.
type ResistanceLevel string

const (
	ResistanceLow    ResistanceLevel = "low"
	ResistanceMedium ResistanceLevel = "medium"
	ResistanceHigh   ResistanceLevel = "high"
)

// AppointmentReadiness is the lead's inferred readiness to book a
// viewing, ordered from least to most ready.
type AppointmentReadiness string

const (
	ReadinessNotReady  AppointmentReadiness = "not_ready"
	ReadinessWarmingUp AppointmentReadiness = "warming_up"
	ReadinessReady     AppointmentReadiness = "ready"
	ReadinessVeryReady AppointmentReadiness = "very_ready"
)

// Rank orders readiness values so strategy selection can compare them.
func (r AppointmentReadiness) Rank() int {
	switch r {
	case ReadinessNotReady:
		return 0
	case ReadinessWarmingUp:
		return 1
	case ReadinessReady:
		return 2
	case ReadinessVeryReady:
		return 3
	default:
		return 0
	}
}

// AppointmentStrategy is the tier of booking push the bot applies,
// ordered from no push to hardest push.
type AppointmentStrategy string

const (
	StrategyNone          AppointmentStrategy = "none"
	StrategySoftMention   AppointmentStrategy = "soft_mention"
	StrategyDirectOffer   AppointmentStrategy = "direct_offer"
	StrategyUrgentBooking AppointmentStrategy = "urgent_booking"
)

// Rank orders strategy tiers by aggressiveness.
func (s AppointmentStrategy) Rank() int {
	switch s {
	case StrategyNone:
		return 0
	case StrategySoftMention:
		return 1
	case StrategyDirectOffer:
		return 2
	case StrategyUrgentBooking:
		return 3
	default:
		return 0
	}
}

// ConversationGoal is the commitment level the bot is working toward,
// monotonically associated with the strategy tier.
type ConversationGoal string

const (
	GoalBuildRapport    ConversationGoal = "build_rapport"
	GoalQualifyLead     ConversationGoal = "qualify_lead"
	GoalProvideInfo     ConversationGoal = "provide_info"
	GoalBookAppointment ConversationGoal = "book_appointment"
)

// Rank orders goals by commitment.
func (g ConversationGoal) Rank() int {
	switch g {
	case GoalBuildRapport:
		return 0
	case GoalQualifyLead:
		return 1
	case GoalProvideInfo:
		return 2
	case GoalBookAppointment:
		return 3
	default:
		return 0
	}
}

// Tone is the voice the content layer writes in.
type Tone string

const (
	ToneWarm         Tone = "warm"
	ToneProfessional Tone = "professional"
	ToneEnthusiastic Tone = "enthusiastic"
	ToneReassuring   Tone = "reassuring"
)

// Property is a listing candidate surfaced by knowledge retrieval.
type Property struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	District string `json:"district"`
	Bedrooms int    `json:"bedrooms"`
	PriceSGD int64  `json:"price_sgd"`
	SizeSqft int    `json:"size_sqft"`
	Tenure   string `json:"tenure"`
	Verified bool   `json:"verified"`
}

// FloorPlanRef points at a floor-plan asset that can accompany a reply.
type FloorPlanRef struct {
	PropertyID string `json:"property_id"`
	Name       string `json:"name"`
	URL        string `json:"url"`
}

// FactCheckResult is the verdict of the external fact checker for one
// property. Confidence is in [0,1].
type FactCheckResult struct {
	Confidence      float64           `json:"confidence"`
	CorrectedFields map[string]string `json:"corrected_fields,omitempty"`
}

// LeadProfile is the per-sender state snapshot the engine emits to
// persistence after every batch.
type LeadProfile struct {
	SenderID     string            `json:"sender_id"`
	DisplayName  string            `json:"display_name"`
	Stage        ConversationStage `json:"stage"`
	UrgencyScore float64           `json:"urgency_score"`
	Intent       string            `json:"intent"`
	UpdatedAt    time.Time         `json:"updated_at"`
}
