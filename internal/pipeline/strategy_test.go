package pipeline

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dorohq/doro/internal/domain"
)

func testPlanner(model *scriptedLLM) *Planner {
	return NewPlanner(model, defaultRubric(), slog.New(slog.DiscardHandler))
}

func TestPlanner_RefinementAccepted(t *testing.T) {
	model := newScriptedLLM()
	model.script("strategy_planning",
		strategyAggressiveJSON,
		`{
			"approach": "answer the question, no booking talk yet",
			"conversation_goal": "build_rapport",
			"appointment_strategy": "none",
			"objection_handling": []
		}`)

	psych := domain.PsychologyResult{
		CommunicationStyle:   domain.StyleCautious,
		ResistanceLevel:      domain.ResistanceHigh,
		UrgencyScore:         0.1,
		AppointmentReadiness: domain.ReadinessNotReady,
		Stage:                domain.StageInitial,
	}

	res, err := testPlanner(model).Run(context.Background(), Input{Batch: testBatch("Hi")}, psych, domain.IntelligenceResult{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Refined {
		t.Error("expected the refined candidate, not the original")
	}
	if res.FromRuleTable {
		t.Error("refined candidate passed the gate; rule table should not fire")
	}
	if res.AppointmentStrategy != domain.StrategyNone {
		t.Errorf("expected none, got %s", res.AppointmentStrategy)
	}
	if len(model.callsFor("strategy_planning")) != 2 {
		t.Error("expected exactly two planning calls")
	}
}

func TestPlanner_ErrorFallsBackToRuleTable(t *testing.T) {
	model := newScriptedLLM()
	model.failAll = true

	psych := domain.PsychologyResult{
		ResistanceLevel:      domain.ResistanceLow,
		UrgencyScore:         0.8,
		AppointmentReadiness: domain.ReadinessVeryReady,
	}

	res, err := testPlanner(model).Run(context.Background(), Input{Batch: testBatch("can we view today?")}, psych, domain.IntelligenceResult{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.FromRuleTable || !res.Degraded {
		t.Error("expected a degraded rule-table result")
	}
	if res.AppointmentStrategy != domain.StrategyUrgentBooking {
		t.Errorf("very_ready/low resistance should map to urgent_booking, got %s", res.AppointmentStrategy)
	}
	if res.AlignmentScore < 0.6 {
		t.Errorf("rule-table results are aligned by construction, score %v", res.AlignmentScore)
	}
}

// A lead who is ready with low resistance must never end up with no
// appointment move at all: "none" has to fail the gate so refinement
// or the rule table replaces it.
func TestAlignmentScore_ReadyLeadRejectsNone(t *testing.T) {
	p := testPlanner(newScriptedLLM())

	for _, readiness := range []domain.AppointmentReadiness{domain.ReadinessReady, domain.ReadinessVeryReady} {
		for _, urgency := range []float64{0.0, 0.3, 0.5, 0.9} {
			psych := domain.PsychologyResult{
				ResistanceLevel:      domain.ResistanceLow,
				UrgencyScore:         urgency,
				AppointmentReadiness: readiness,
			}
			for _, goal := range []domain.ConversationGoal{
				domain.GoalBuildRapport, domain.GoalQualifyLead,
				domain.GoalProvideInfo, domain.GoalBookAppointment,
			} {
				s := domain.StrategyResult{
					ConversationGoal:    goal,
					AppointmentStrategy: domain.StrategyNone,
				}
				if score := p.alignmentScore(s, psych); score >= p.rubric.Threshold {
					t.Errorf("none passed the gate for readiness=%s urgency=%v goal=%s (score %v)",
						readiness, urgency, goal, score)
				}
			}
		}
	}
}

func TestAlignmentScore_HighResistancePenalty(t *testing.T) {
	p := testPlanner(newScriptedLLM())

	psych := domain.PsychologyResult{
		ResistanceLevel:      domain.ResistanceHigh,
		UrgencyScore:         0.9,
		AppointmentReadiness: domain.ReadinessVeryReady,
	}
	s := domain.StrategyResult{
		ConversationGoal:    domain.GoalBookAppointment,
		AppointmentStrategy: domain.StrategyUrgentBooking,
	}
	if score := p.alignmentScore(s, psych); score >= p.rubric.Threshold {
		t.Errorf("urgent_booking against high resistance must fail the gate, score %v", score)
	}
}

func TestExpectedTier(t *testing.T) {
	cases := []struct {
		readiness  domain.AppointmentReadiness
		resistance domain.ResistanceLevel
		want       domain.AppointmentStrategy
	}{
		{domain.ReadinessNotReady, domain.ResistanceLow, domain.StrategyNone},
		{domain.ReadinessWarmingUp, domain.ResistanceLow, domain.StrategySoftMention},
		{domain.ReadinessReady, domain.ResistanceLow, domain.StrategyDirectOffer},
		{domain.ReadinessVeryReady, domain.ResistanceLow, domain.StrategyUrgentBooking},
		{domain.ReadinessVeryReady, domain.ResistanceMedium, domain.StrategyDirectOffer},
		{domain.ReadinessVeryReady, domain.ResistanceHigh, domain.StrategySoftMention},
		{domain.ReadinessReady, domain.ResistanceHigh, domain.StrategySoftMention},
		{domain.ReadinessNotReady, domain.ResistanceHigh, domain.StrategyNone},
	}
	for _, tc := range cases {
		psych := domain.PsychologyResult{
			AppointmentReadiness: tc.readiness,
			ResistanceLevel:      tc.resistance,
		}
		if got := expectedTier(psych); got != tc.want {
			t.Errorf("expectedTier(%s, %s) = %s, want %s", tc.readiness, tc.resistance, got, tc.want)
		}
	}
}
