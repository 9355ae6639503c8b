package remediation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-incident/internal/models"
)

type stubVerifier struct {
	ok    bool
	err   error
	calls int
}

func (s *stubVerifier) Verify(context.Context, string) (bool, error) {
	s.calls++
	return s.ok, s.err
}

// scriptRunner fails every command listed in fail.
type scriptRunner struct {
	fail map[string]bool
	ran  []string
}

func (s *scriptRunner) Name() string { return "script" }

func (s *scriptRunner) CanRun(c string) bool { return strings.HasPrefix(c, "webhook ") }

func (s *scriptRunner) Run(_ context.Context, a models.Action) (string, error) {
	s.ran = append(s.ran, a.Description)
	if s.fail[a.Description] {
		return "", errors.New("boom")
	}
	return "ok", nil
}

func fixedClock() time.Time { return time.Unix(1_700_000_000, 0).UTC() }

func newTestExecutor(runner Runner, verifier ApprovalVerifier) *Executor {
	return NewExecutor(NewRegistry(false, runner), verifier, fixedClock, nil)
}

func TestExecuteBlockedWithoutApproval(t *testing.T) {
	runner := &scriptRunner{}
	verifier := &stubVerifier{ok: false}
	plan := models.RemediationPlan{ImmediateActions: []models.Action{action("a", models.RiskHigh, true)}}

	result := newTestExecutor(runner, verifier).Execute(context.Background(), "INC-1", plan, "APPR-1")
	if result.Status != models.ExecutionBlocked {
		t.Fatalf("expected blocked, got %s", result.Status)
	}
	if len(runner.ran) != 0 || verifier.calls != 1 {
		t.Fatalf("nothing may run while blocked: ran=%v", runner.ran)
	}
}

func TestExecuteAbortsUnsafePlan(t *testing.T) {
	runner := &scriptRunner{}
	result := newTestExecutor(runner, &stubVerifier{ok: true}).Execute(context.Background(), "INC-1", FallbackPlan(), "APPR-1")
	if result.Status != models.ExecutionAborted || len(result.Actions) != 0 {
		t.Fatalf("expected aborted with no actions, got %+v", result)
	}
	if !strings.Contains(result.Message, "Manual intervention required") {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestExecuteCriticalFailureSkipsRemaining(t *testing.T) {
	runner := &scriptRunner{fail: map[string]bool{"drain": true}}
	critical := action("drain", models.RiskLow, true)
	critical.Critical = true
	plan := models.RemediationPlan{
		ImmediateActions:  []models.Action{action("snapshot", models.RiskLow, true), critical, action("scale", models.RiskLow, true)},
		CorrectiveActions: []models.Action{action("tune", models.RiskLow, true)},
	}

	result := newTestExecutor(runner, nil).Execute(context.Background(), "INC-1", plan, "")
	if result.Status != models.ExecutionFailed {
		t.Fatalf("expected failed, got %s", result.Status)
	}
	if len(runner.ran) != 2 {
		t.Fatalf("actions after the critical failure must not run: %v", runner.ran)
	}
	if len(result.Actions) != 4 || !result.Actions[2].Skipped || !result.Actions[3].Skipped {
		t.Fatalf("remaining actions should be recorded as skipped: %+v", result.Actions)
	}
	if len(result.FailedActions) != 1 || result.FailedActions[0] != "drain" {
		t.Fatalf("unexpected failed actions %v", result.FailedActions)
	}
}

func TestExecuteStatusAccounting(t *testing.T) {
	plan := models.RemediationPlan{
		ImmediateActions:  []models.Action{action("a", models.RiskLow, true)},
		CorrectiveActions: []models.Action{action("b", models.RiskMedium, true)},
	}
	cases := []struct {
		name string
		fail map[string]bool
		want models.ExecutionStatus
	}{
		{name: "success", fail: nil, want: models.ExecutionSuccess},
		{name: "partial", fail: map[string]bool{"b": true}, want: models.ExecutionPartialSuccess},
		{name: "all failed", fail: map[string]bool{"a": true, "b": true}, want: models.ExecutionFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			runner := &scriptRunner{fail: tc.fail}
			result := newTestExecutor(runner, nil).Execute(context.Background(), "INC-1", plan, "")
			if result.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, result.Status)
			}
			if len(runner.ran) != 2 || runner.ran[0] != "a" {
				t.Fatalf("immediate actions must run first: %v", runner.ran)
			}
			for _, name := range result.FailedActions {
				if name != "a" && name != "b" {
					t.Fatalf("failed action %q is not part of the plan", name)
				}
			}
		})
	}
}

func TestExecuteWithoutRunnerFailsAction(t *testing.T) {
	plan := models.RemediationPlan{ImmediateActions: []models.Action{{Description: "ssh", Command: "ssh host reboot", Risk: models.RiskLow, Reversible: true}}}
	result := newTestExecutor(&scriptRunner{}, nil).Execute(context.Background(), "INC-1", plan, "")
	if result.Status != models.ExecutionFailed || !strings.Contains(result.Actions[0].Error, "no runner") {
		t.Fatalf("expected no-runner failure, got %+v", result)
	}
}

func TestExecuteDryRun(t *testing.T) {
	plan := models.RemediationPlan{ImmediateActions: []models.Action{action("a", models.RiskLow, true)}}
	exec := NewExecutor(NewRegistry(true), nil, fixedClock, nil)
	result := exec.Execute(context.Background(), "INC-1", plan, "")
	if result.Status != models.ExecutionSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}
	if got := result.Actions[0].Output; got != "[DRY RUN] Would execute: webhook a" {
		t.Fatalf("unexpected dry-run output %q", got)
	}
	if !strings.HasPrefix(result.ExecutionID, "EXEC-") {
		t.Fatalf("unexpected execution id %q", result.ExecutionID)
	}
}

func TestExecuteProducesNewRecordPerAttempt(t *testing.T) {
	plan := models.RemediationPlan{ImmediateActions: []models.Action{action("a", models.RiskLow, true)}}
	exec := NewExecutor(NewRegistry(true), nil, nil, nil)
	first := exec.Execute(context.Background(), "INC-1", plan, "")
	time.Sleep(time.Millisecond)
	second := exec.Execute(context.Background(), "INC-1", plan, "")
	if first.ExecutionID == second.ExecutionID {
		t.Fatalf("each attempt needs its own execution id")
	}
}
