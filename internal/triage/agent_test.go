package triage

import (
	"context"
	"errors"
	"testing"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/reasoner"
)

func fixedReasoner(out string, err error) reasoner.Reasoner {
	return reasoner.Func(func(context.Context, reasoner.Prompt) (string, error) {
		return out, err
	})
}

func testIncident() models.Incident {
	return models.Incident{
		ID:               "INC-1",
		Title:            "Checkout latency",
		Description:      "p99 above 2s",
		AffectedServices: []string{"checkout"},
	}
}

func TestAssessParsesReasonerOutput(t *testing.T) {
	agent := NewAgent(fixedReasoner("```json\n{\"severity\":\"high\",\"routing\":\"investigate\",\"reasoning\":\"latency spike\",\"next_steps\":[\"check db\"],\"urgency_score\":7}\n```", nil), true, nil)

	got := agent.Assess(context.Background(), testIncident())
	if got.Fallback {
		t.Fatalf("unexpected fallback: %+v", got)
	}
	if got.Severity != models.SeverityHigh || got.Routing != models.RoutingInvestigate {
		t.Fatalf("unexpected triage: %+v", got)
	}
	if got.Urgency != 7 || len(got.NextSteps) != 1 {
		t.Fatalf("unexpected details: %+v", got)
	}
}

func TestAssessFallsBackOnMalformedOutput(t *testing.T) {
	cases := map[string]reasoner.Reasoner{
		"error":            fixedReasoner("", errors.New("timeout")),
		"no json":          fixedReasoner("I think it is bad", nil),
		"unknown severity": fixedReasoner(`{"severity":"sev1","routing":"escalate","reasoning":"x"}`, nil),
	}
	for name, r := range cases {
		t.Run(name, func(t *testing.T) {
			got := NewAgent(r, true, nil).Assess(context.Background(), testIncident())
			if !got.Fallback || got.Severity != models.SeverityMedium || got.Routing != models.RoutingInvestigate {
				t.Fatalf("expected medium/investigate fallback, got %+v", got)
			}
		})
	}
}

func TestAssessEscalatesCritical(t *testing.T) {
	out := `{"severity":"critical","routing":"investigate","reasoning":"full outage"}`

	got := NewAgent(fixedReasoner(out, nil), true, nil).Assess(context.Background(), testIncident())
	if got.Routing != models.RoutingEscalate {
		t.Fatalf("critical should force escalate, got %s", got.Routing)
	}

	got = NewAgent(fixedReasoner(out, nil), false, nil).Assess(context.Background(), testIncident())
	if got.Routing != models.RoutingInvestigate {
		t.Fatalf("routing should be kept when forcing is disabled, got %s", got.Routing)
	}
}

func TestAssessUnknownRoutingInvestigates(t *testing.T) {
	out := `{"severity":"low","routing":"wait","reasoning":"cosmetic"}`
	got := NewAgent(fixedReasoner(out, nil), true, nil).Assess(context.Background(), testIncident())
	if got.Routing != models.RoutingInvestigate || got.Severity != models.SeverityLow {
		t.Fatalf("unexpected triage: %+v", got)
	}
}

func TestAssessFallbackKeepsReportedCritical(t *testing.T) {
	inc := testIncident()
	inc.Severity = models.SeverityCritical

	got := NewAgent(fixedReasoner("", errors.New("reasoner down")), true, nil).Assess(context.Background(), inc)
	if !got.Fallback {
		t.Fatalf("expected fallback, got %+v", got)
	}
	if got.Severity != models.SeverityCritical || got.Routing != models.RoutingEscalate {
		t.Fatalf("reported critical should escalate on fallback, got %+v", got)
	}

	inc.Severity = models.SeverityHigh
	got = NewAgent(fixedReasoner("not json", nil), true, nil).Assess(context.Background(), inc)
	if got.Severity != models.SeverityHigh || got.Routing != models.RoutingInvestigate {
		t.Fatalf("reported high should be kept and investigated, got %+v", got)
	}
}
