package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dorohq/doro/internal/config"
	"github.com/dorohq/doro/internal/domain"
	"github.com/dorohq/doro/internal/llm"
)

// Planner is layer 3: it chooses the conversation strategy and gates
// it against the psychology read. A candidate that fails the alignment
// gate gets exactly one refinement attempt; after that the
// deterministic rule table decides.
type Planner struct {
	client llm.Client
	rubric config.AlignmentConfig
	logger *slog.Logger
}

func NewPlanner(client llm.Client, rubric config.AlignmentConfig, logger *slog.Logger) *Planner {
	return &Planner{client: client, rubric: rubric, logger: logger}
}

const strategySystem = `You plan the next conversational move for a Singapore
real-estate assistant. Choose a strategy consistent with the lead psychology.
Respond ONLY with a JSON object:
{
  "approach": "one sentence describing the move",
  "conversation_goal": "build_rapport|qualify_lead|provide_info|book_appointment",
  "appointment_strategy": "none|soft_mention|direct_offer|urgent_booking",
  "objection_handling": ["..."]
}`

type strategyResponse struct {
	Approach            string   `json:"approach"`
	ConversationGoal    string   `json:"conversation_goal"`
	AppointmentStrategy string   `json:"appointment_strategy"`
	ObjectionHandling   []string `json:"objection_handling"`
}

func (p *Planner) Run(ctx context.Context, in Input, psych domain.PsychologyResult, intel domain.IntelligenceResult) (domain.StrategyResult, error) {
	candidate, err := p.request(ctx, in, psych, intel, "")
	if err != nil {
		p.logger.WarnContext(ctx, "strategy generation failed, using rule table",
			slog.String("error", err.Error()))
		return p.Fallback(psych), nil
	}

	candidate.AlignmentScore = p.alignmentScore(candidate, psych)
	if candidate.AlignmentScore >= p.rubric.Threshold {
		return candidate, nil
	}

	// One bounded refinement, constrained by the mismatch. Never loop.
	p.logger.InfoContext(ctx, "strategy failed alignment gate, refining",
		slog.Float64("score", candidate.AlignmentScore),
		slog.String("strategy", string(candidate.AppointmentStrategy)))

	refined, err := p.request(ctx, in, psych, intel, p.mismatchHint(candidate, psych))
	if err == nil {
		refined.AlignmentScore = p.alignmentScore(refined, psych)
		refined.Refined = true
		if refined.AlignmentScore >= p.rubric.Threshold {
			return refined, nil
		}
	}

	return p.Fallback(psych), nil
}

func (p *Planner) request(ctx context.Context, in Input, psych domain.PsychologyResult, intel domain.IntelligenceResult, constraint string) (domain.StrategyResult, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Lead psychology: style=%s resistance=%s urgency=%.2f readiness=%s stage=%s\n",
		psych.CommunicationStyle, psych.ResistanceLevel, psych.UrgencyScore,
		psych.AppointmentReadiness, psych.Stage)
	fmt.Fprintf(&prompt, "Topics already discussed: %v\n", psych.Continuity.TopicsDiscussed)
	fmt.Fprintf(&prompt, "Matching properties: %d (fact-check confidence %.2f)\n",
		len(intel.Properties), intel.FactCheckConfidence)
	fmt.Fprintf(&prompt, "Latest messages:\n%s\n", in.Batch.CombinedText())
	if constraint != "" {
		fmt.Fprintf(&prompt, "\nConstraint from the previous rejected plan: %s\n", constraint)
	}

	resp, err := p.client.Complete(ctx, llm.Request{
		Stage:       domain.StageStrategy,
		Operation:   "strategy_planning",
		System:      strategySystem,
		Prompt:      prompt.String(),
		Temperature: 0.3,
		MaxTokens:   300,
		JSONMode:    true,
	})
	if err != nil {
		return domain.StrategyResult{}, err
	}

	var wire strategyResponse
	if err := llm.DecodeJSON(domain.StageStrategy, resp.Text, &wire); err != nil {
		return domain.StrategyResult{}, err
	}

	res := domain.StrategyResult{
		Approach:          wire.Approach,
		ObjectionHandling: wire.ObjectionHandling,
	}
	switch g := domain.ConversationGoal(wire.ConversationGoal); g {
	case domain.GoalBuildRapport, domain.GoalQualifyLead, domain.GoalProvideInfo, domain.GoalBookAppointment:
		res.ConversationGoal = g
	default:
		res.ConversationGoal = domain.GoalQualifyLead
	}
	switch s := domain.AppointmentStrategy(wire.AppointmentStrategy); s {
	case domain.StrategyNone, domain.StrategySoftMention, domain.StrategyDirectOffer, domain.StrategyUrgentBooking:
		res.AppointmentStrategy = s
	default:
		res.AppointmentStrategy = domain.StrategySoftMention
	}
	return res, nil
}

// mismatchHint tells the refinement call what was wrong with the
// rejected candidate.
func (p *Planner) mismatchHint(candidate domain.StrategyResult, psych domain.PsychologyResult) string {
	var hints []string
	expected := expectedTier(psych)
	if candidate.AppointmentStrategy.Rank() > expected.Rank() {
		hints = append(hints, fmt.Sprintf(
			"the lead is %s with %s resistance; do not push harder than %q",
			psych.AppointmentReadiness, psych.ResistanceLevel, expected))
	}
	if candidate.AppointmentStrategy.Rank() < expected.Rank() {
		hints = append(hints, fmt.Sprintf(
			"the lead is %s; an appointment strategy of at least %q is warranted",
			psych.AppointmentReadiness, expected))
	}
	if diff := candidate.ConversationGoal.Rank() - candidate.AppointmentStrategy.Rank(); diff > 1 || diff < -1 {
		hints = append(hints, "keep the conversation goal consistent with the appointment strategy")
	}
	if len(hints) == 0 {
		hints = append(hints, "pick a strategy tier that matches the lead's readiness and resistance")
	}
	return strings.Join(hints, "; ")
}

// alignmentScore applies the point-weighted rubric between the chosen
// strategy tier and the psychology signals. The weights come from
// configuration; the defaults put readiness at 0.3 and the other three
// axes at 0.2, with a penalty for pushing a high-resistance lead.
func (p *Planner) alignmentScore(s domain.StrategyResult, psych domain.PsychologyResult) float64 {
	score := 0.0

	// Readiness vs tier: full credit for the expected tier, half for
	// one tier off.
	expected := expectedTier(psych)
	switch diff := abs(s.AppointmentStrategy.Rank() - expected.Rank()); diff {
	case 0:
		score += p.rubric.ReadinessWeight
	case 1:
		score += p.rubric.ReadinessWeight / 2
	}

	// Resistance vs tier: the higher the resistance, the lower the
	// acceptable push.
	maxTier := 3
	switch psych.ResistanceLevel {
	case domain.ResistanceHigh:
		maxTier = 1
	case domain.ResistanceMedium:
		maxTier = 2
	}
	if s.AppointmentStrategy.Rank() <= maxTier {
		score += p.rubric.ResistanceWeight
	} else if s.AppointmentStrategy.Rank() == maxTier+1 {
		score += p.rubric.ResistanceWeight / 2
	}

	// Urgency vs tier.
	urgentTier := 1
	switch {
	case psych.UrgencyScore >= 0.7:
		urgentTier = 3
	case psych.UrgencyScore >= 0.4:
		urgentTier = 2
	}
	switch diff := abs(s.AppointmentStrategy.Rank() - urgentTier); diff {
	case 0:
		score += p.rubric.UrgencyWeight
	case 1:
		score += p.rubric.UrgencyWeight / 2
	}

	// Goal/strategy consistency: "none" with "book_appointment" (and
	// the inverse) is exactly what this term catches.
	switch diff := abs(s.ConversationGoal.Rank() - s.AppointmentStrategy.Rank()); diff {
	case 0:
		score += p.rubric.GoalWeight
	case 1:
		score += p.rubric.GoalWeight / 2
	}

	// Hard penalty: aggressive booking push against a high-resistance
	// lead.
	if psych.ResistanceLevel == domain.ResistanceHigh && s.AppointmentStrategy.Rank() >= domain.StrategyDirectOffer.Rank() {
		score -= p.rubric.HighResistancePenalty
	}

	if score < 0 {
		score = 0
	}
	return score
}

// expectedTier is the rubric's ideal strategy tier for a psychology
// read, also used by the rule-table fallback.
func expectedTier(psych domain.PsychologyResult) domain.AppointmentStrategy {
	tier := rolePush(psych.AppointmentReadiness)

	// Resistance caps the push regardless of readiness.
	switch psych.ResistanceLevel {
	case domain.ResistanceHigh:
		if tier.Rank() > 1 {
			tier = domain.StrategySoftMention
		}
	case domain.ResistanceMedium:
		if tier.Rank() > 2 {
			tier = domain.StrategyDirectOffer
		}
	}
	return tier
}

func rolePush(r domain.AppointmentReadiness) domain.AppointmentStrategy {
	switch r {
	case domain.ReadinessVeryReady:
		return domain.StrategyUrgentBooking
	case domain.ReadinessReady:
		return domain.StrategyDirectOffer
	case domain.ReadinessWarmingUp:
		return domain.StrategySoftMention
	default:
		return domain.StrategyNone
	}
}

// Fallback is the deterministic (readiness x resistance) rule table.
// Goal commitment always matches the strategy tier, so the result is
// alignment-consistent by construction.
func (p *Planner) Fallback(psych domain.PsychologyResult) domain.StrategyResult {
	tier := expectedTier(psych)

	goal := domain.GoalBuildRapport
	switch tier {
	case domain.StrategySoftMention:
		goal = domain.GoalQualifyLead
	case domain.StrategyDirectOffer:
		goal = domain.GoalProvideInfo
	case domain.StrategyUrgentBooking:
		goal = domain.GoalBookAppointment
	}

	res := domain.StrategyResult{
		Approach:            "answer the lead's question directly and keep the conversation moving",
		ConversationGoal:    goal,
		AppointmentStrategy: tier,
		FromRuleTable:       true,
		Degraded:            true,
	}
	res.AlignmentScore = p.alignmentScore(res, psych)
	return res
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
