package remediation

import (
	"context"
	"errors"
	"testing"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/reasoner"
)

func TestPlannerParsesReasonerPlan(t *testing.T) {
	out := "Plan follows.\n" + `{
  "immediate_actions": [{"action": "Restart payments", "command": "docker restart payments", "risk": "low"}],
  "corrective_actions": [{"action": "Raise pool", "command": "webhook scale payments", "risk": "medium", "reversible": false}],
  "preventive_measures": ["Alert on pool usage"],
  "estimated_duration": "15 minutes",
  "success_criteria": ["cpu < 70"]
}`
	planner := NewPlanner(reasoner.Func(func(context.Context, reasoner.Prompt) (string, error) { return out, nil }), nil, nil)
	plan := planner.Plan(context.Background(), models.Incident{ID: "INC-1"}, &models.InvestigationRecord{RootCause: "pool"})

	if plan.Source != SourceReasoner {
		t.Fatalf("expected reasoner plan, got %s", plan.Source)
	}
	if len(plan.ImmediateActions) != 1 || !plan.ImmediateActions[0].Reversible {
		t.Fatalf("missing reversible flag should default to reversible: %+v", plan.ImmediateActions)
	}
	if plan.CorrectiveActions[0].Reversible {
		t.Fatalf("explicit reversible=false must be kept")
	}
	if AssessRisk(plan) != models.RiskHigh {
		t.Fatalf("irreversible action should grade the plan high")
	}
}

func TestPlannerFallsBack(t *testing.T) {
	cases := map[string]reasoner.Reasoner{
		"error":   reasoner.Func(func(context.Context, reasoner.Prompt) (string, error) { return "", errors.New("down") }),
		"garbage": reasoner.Func(func(context.Context, reasoner.Prompt) (string, error) { return "restart it", nil }),
		"empty":   reasoner.Func(func(context.Context, reasoner.Prompt) (string, error) { return "{}", nil }),
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			plan := NewPlanner(r, nil, nil).Plan(context.Background(), models.Incident{ID: "INC-1"}, nil)
			if plan.Source != SourceFallback {
				t.Fatalf("expected fallback plan, got %+v", plan)
			}
			a := plan.ImmediateActions[0]
			if a.Description != "Manual intervention required" || a.Command != "N/A" || a.Risk != models.RiskHigh || a.Reversible {
				t.Fatalf("unexpected fallback action %+v", a)
			}
			if plan.EstimatedDuration != "Unknown" || plan.SuccessCriteria[0] != "Issue resolved" {
				t.Fatalf("unexpected fallback plan %+v", plan)
			}
		})
	}
}
