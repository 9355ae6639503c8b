package remediation

import (
	"testing"

	"github.com/miradorstack/mirador-incident/internal/models"
)

func action(desc string, risk models.Risk, reversible bool) models.Action {
	return models.Action{Description: desc, Command: "webhook " + desc, Risk: risk, Reversible: reversible}
}

func TestAssessRisk(t *testing.T) {
	cases := []struct {
		name string
		plan models.RemediationPlan
		want models.Risk
	}{
		{name: "empty", plan: models.RemediationPlan{}, want: models.RiskLow},
		{name: "all low", plan: models.RemediationPlan{ImmediateActions: []models.Action{action("a", models.RiskLow, true)}}, want: models.RiskLow},
		{name: "any medium", plan: models.RemediationPlan{
			ImmediateActions:  []models.Action{action("a", models.RiskLow, true)},
			CorrectiveActions: []models.Action{action("b", models.RiskMedium, true)},
		}, want: models.RiskMedium},
		{name: "unknown risk counts as medium", plan: models.RemediationPlan{ImmediateActions: []models.Action{action("a", "", true)}}, want: models.RiskMedium},
		{name: "irreversible low is high", plan: models.RemediationPlan{CorrectiveActions: []models.Action{action("a", models.RiskLow, false)}}, want: models.RiskHigh},
		{name: "any high", plan: models.RemediationPlan{ImmediateActions: []models.Action{action("a", models.RiskHigh, true), action("b", models.RiskLow, true)}}, want: models.RiskHigh},
		{name: "critical action grades high", plan: models.RemediationPlan{
			ImmediateActions:  []models.Action{action("a", models.RiskCritical, true)},
			CorrectiveActions: []models.Action{action("b", models.RiskMedium, true)},
		}, want: models.RiskHigh},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := AssessRisk(tc.plan); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestSafetyCheck(t *testing.T) {
	if ok, _ := SafetyCheck(FallbackPlan()); ok {
		t.Fatalf("fallback plan must fail the safety check")
	}
	plan := models.RemediationPlan{ImmediateActions: []models.Action{action("restart", models.RiskHigh, true), action("log", models.RiskLow, false)}}
	if ok, reason := SafetyCheck(plan); !ok {
		t.Fatalf("reversible high and irreversible low are allowed: %s", reason)
	}
}
