package verification

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/tools"
)

type fakeTools struct {
	values    map[string]float64
	errors    int
	errorsFor map[string]int
	health  string
	failAll bool
}

func (f *fakeTools) Metrics(_ context.Context, service, metric string) (tools.MetricsResult, models.Observation) {
	if f.failAll {
		return tools.MetricsResult{}, models.Observation{Status: tools.StatusCircuitOpen, Summary: "Circuit breaker open for metrics_api"}
	}
	v, ok := f.values[metric]
	if !ok {
		return tools.MetricsResult{Service: service, Metric: metric}, models.Observation{Status: tools.StatusSuccess}
	}
	return tools.MetricsResult{
		Service: service,
		Metric:  metric,
		Points:  []tools.MetricPoint{{Value: v + 40}, {Value: v}},
		Count:   2,
	}, models.Observation{Status: tools.StatusSuccess}
}

func (f *fakeTools) Logs(_ context.Context, service, _ string) (tools.LogsResult, models.Observation) {
	if f.failAll {
		return tools.LogsResult{}, models.Observation{Status: tools.StatusError, Summary: "logs down"}
	}
	count := f.errors
	if n, ok := f.errorsFor[service]; ok {
		count = n
	}
	return tools.LogsResult{Service: service, EventCount: count}, models.Observation{Status: tools.StatusSuccess}
}

func (f *fakeTools) Health(_ context.Context, service string) (tools.HealthResult, models.Observation) {
	if f.failAll {
		return tools.HealthResult{}, models.Observation{Status: tools.StatusError, Summary: "health down"}
	}
	return tools.HealthResult{Service: service, Status: f.health}, models.Observation{Status: tools.StatusSuccess}
}

func fixedClock() time.Time { return time.Unix(1_700_000_000, 0).UTC() }

func baseIncident(baseline int) models.Incident {
	inc := models.Incident{
		ID:               "INC-1",
		Severity:         models.SeverityHigh,
		AffectedServices: []string{"checkout"},
	}
	if baseline >= 0 {
		inc.Investigation = &models.InvestigationRecord{Context: map[string]models.Observation{
			tools.ActionErrorLogs: {Tool: tools.ActionErrorLogs, Status: tools.StatusSuccess, Data: map[string]any{"event_count": float64(baseline)}},
		}}
	}
	return inc
}

func TestVerifyAllChecksPass(t *testing.T) {
	ft := &fakeTools{values: map[string]float64{"cpu": 40, "memory": 55, "error_rate": 1}, errors: 2, health: tools.HealthHealthy}
	inc := baseIncident(50)
	inc.Plan = &models.RemediationPlan{SuccessCriteria: []string{"CPU < 60%", "errors <= 5", "Service responds normally"}}

	result := NewVerifier(ft, 0, fixedClock, nil).Verify(context.Background(), inc)
	if result.TotalChecks != 4 || result.PassedChecks != 4 {
		t.Fatalf("expected 4/4 checks, got %d/%d: %+v", result.PassedChecks, result.TotalChecks, result.Checks)
	}
	if !result.Verified || result.Confidence != 100 {
		t.Fatalf("expected verified with 100%% confidence, got %+v", result)
	}
	if result.Summary != "Incident resolution VERIFIED - 4/4 checks passed" {
		t.Fatalf("unexpected summary %q", result.Summary)
	}
	if result.Recommendation != "Resolution confirmed. Safe to close incident." {
		t.Fatalf("unexpected recommendation %q", result.Recommendation)
	}
}

func TestVerifyUsesLatestSampleAgainstSeverityThreshold(t *testing.T) {
	// high severity caps cpu at 60
	ft := &fakeTools{values: map[string]float64{"cpu": 65, "memory": 50, "error_rate": 1}, health: tools.HealthHealthy}
	result := NewVerifier(ft, 0, fixedClock, nil).Verify(context.Background(), baseIncident(0))

	check := result.Checks[models.CheckMetrics]
	if check.Passed {
		t.Fatalf("cpu 65 must breach the high-severity limit: %+v", check)
	}
	if check.Message != "2/3 metrics within normal range" {
		t.Fatalf("unexpected message %q", check.Message)
	}
	if result.TotalChecks != 3 || result.PassedChecks != 2 {
		t.Fatalf("expected 2/3, got %d/%d", result.PassedChecks, result.TotalChecks)
	}
	if result.Verified {
		t.Fatalf("66%% confidence must not verify")
	}
	if !strings.HasPrefix(result.Summary, "Incident resolution UNCERTAIN - Only 2/3") {
		t.Fatalf("unexpected summary %q", result.Summary)
	}
}

func TestErrorLogReduction(t *testing.T) {
	cases := []struct {
		name     string
		baseline int
		current  int
		passed   bool
	}{
		{name: "no baseline", baseline: 0, current: 12, passed: true},
		{name: "eighty percent", baseline: 50, current: 10, passed: true},
		{name: "insufficient", baseline: 50, current: 11, passed: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ft := &fakeTools{errors: tc.current, health: tools.HealthHealthy}
			result := NewVerifier(ft, 0, fixedClock, nil).Verify(context.Background(), baseIncident(tc.baseline))
			if got := result.Checks[models.CheckErrorLogs].Passed; got != tc.passed {
				t.Fatalf("expected passed=%v, got %+v", tc.passed, result.Checks[models.CheckErrorLogs])
			}
		})
	}
}

func errorLogStep(service string, count int) models.InvestigationStep {
	return models.InvestigationStep{
		Action: models.ToolAction{Type: tools.ActionErrorLogs, Parameters: map[string]any{"service": service}},
		Observation: &models.Observation{
			Tool:   tools.ActionErrorLogs,
			Status: tools.StatusSuccess,
			Data:   map[string]any{"service": service, "event_count": count},
		},
	}
}

func TestErrorLogReductionComparesBaselinedServices(t *testing.T) {
	services := []string{"checkout", "cart", "search", "auth", "catalog", "payments"}
	inc := models.Incident{ID: "INC-3", Severity: models.SeverityHigh, AffectedServices: services}
	inc.Investigation = &models.InvestigationRecord{Steps: []models.InvestigationStep{errorLogStep("checkout", 50)}}

	ft := &fakeTools{errors: 2, health: tools.HealthHealthy}
	check := NewVerifier(ft, 0, fixedClock, nil).Verify(context.Background(), inc).Checks[models.CheckErrorLogs]
	if !check.Passed {
		t.Fatalf("checkout dropped 50 -> 2, expected pass: %+v", check)
	}
	if check.Details["baseline_errors"] != 50 || check.Details["error_count"] != 2 {
		t.Fatalf("expected only checkout compared, got %+v", check.Details)
	}

	inc.Investigation.Steps = append(inc.Investigation.Steps, errorLogStep("cart", 20), errorLogStep("checkout", 40))
	ft = &fakeTools{errorsFor: map[string]int{"checkout": 4, "cart": 6, "search": 100}, health: tools.HealthHealthy}
	check = NewVerifier(ft, 0, fixedClock, nil).Verify(context.Background(), inc).Checks[models.CheckErrorLogs]
	// latest checkout baseline is 40: (40+20) -> (4+6); search has no baseline
	if !check.Passed || check.Details["baseline_errors"] != 60 || check.Details["error_count"] != 10 {
		t.Fatalf("unexpected comparison: %+v", check)
	}
}

func TestVerifyWithoutServices(t *testing.T) {
	inc := models.Incident{ID: "INC-2", Severity: models.SeverityLow}
	result := NewVerifier(&fakeTools{}, 0, fixedClock, nil).Verify(context.Background(), inc)
	if !result.Verified || result.PassedChecks != 3 {
		t.Fatalf("incident without services must verify trivially, got %+v", result)
	}
}

func TestToolFailuresFailChecks(t *testing.T) {
	ft := &fakeTools{failAll: true, values: map[string]float64{"cpu": 10}}
	inc := baseIncident(10)
	inc.Plan = &models.RemediationPlan{SuccessCriteria: []string{"cpu < 50"}}
	result := NewVerifier(ft, 0, fixedClock, nil).Verify(context.Background(), inc)
	if result.PassedChecks != 0 || result.Verified {
		t.Fatalf("expected every check to fail, got %+v", result.Checks)
	}
	if result.Recommendation != "Resolution verification failed. Manual investigation required." {
		t.Fatalf("unexpected recommendation %q", result.Recommendation)
	}
}

func TestFreeTextCriteriaRequireHealthyServices(t *testing.T) {
	ft := &fakeTools{health: tools.HealthDegraded}
	inc := baseIncident(0)
	inc.Plan = &models.RemediationPlan{SuccessCriteria: []string{"Users can check out again"}}
	result := NewVerifier(ft, 0, fixedClock, nil).Verify(context.Background(), inc)
	if result.Checks[models.CheckSuccessCriteria].Passed {
		t.Fatalf("free-text criterion must fail while a service is degraded")
	}
}

func TestParseCriterion(t *testing.T) {
	c, ok := parseCriterion("Memory usage <= 75%")
	if !ok || c.metric != "memory" || c.op != "<=" || c.value != 75 {
		t.Fatalf("unexpected criterion %+v ok=%v", c, ok)
	}
	if _, ok := parseCriterion("throughput > 10"); ok {
		t.Fatalf("unknown metric must not parse")
	}
	if _, ok := parseCriterion("everything is fine"); ok {
		t.Fatalf("free text must not parse")
	}
}

func TestRecommendationBands(t *testing.T) {
	cases := map[float64]string{
		100: "Resolution confirmed. Safe to close incident.",
		75:  "Resolution likely successful. Monitor for 24 hours before closing.",
		50:  "Resolution uncertain. Continue monitoring and consider additional remediation.",
		25:  "Resolution verification failed. Manual investigation required.",
	}
	for confidence, want := range cases {
		if got := Recommendation(confidence); got != want {
			t.Fatalf("confidence %.0f: got %q", confidence, got)
		}
	}
}
