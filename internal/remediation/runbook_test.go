package remediation

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miradorstack/mirador-incident/internal/models"
)

const runbookYAML = `runbooks:
  - id: restart-checkout
    match:
      service: checkout
      title_contains: ["hung", "stuck"]
    plan:
      immediate_actions:
        - action: Restart checkout
          command: "docker restart {{service}}"
          risk: low
      success_criteria: ["error_rate < 5"]
  - id: risky
    match:
      service: checkout
    plan:
      immediate_actions:
        - action: Drop cache
          command: "webhook flush checkout"
          risk: high
default:
  immediate_actions:
    - action: Snapshot
      command: "diagnostics {{service}}"
      risk: low
`

func writeRunbooks(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runbooks.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write runbooks: %v", err)
	}
	return path
}

func TestRuleEngineMatch(t *testing.T) {
	engine, err := NewRuleEngine(writeRunbooks(t, runbookYAML), nil)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}

	inc := models.Incident{Title: "Checkout workers hung", AffectedServices: []string{"checkout"}}
	plan, id := engine.Match(inc)
	if id != "restart-checkout" {
		t.Fatalf("expected restart-checkout, got %s", id)
	}
	if plan.ImmediateActions[0].Command != "docker restart checkout" {
		t.Fatalf("service placeholder not expanded: %q", plan.ImmediateActions[0].Command)
	}

	other := models.Incident{Title: "Checkout slow", AffectedServices: []string{"checkout"}}
	plan, id = engine.Match(other)
	if id != "default" || plan.ImmediateActions[0].Command != "diagnostics checkout" {
		t.Fatalf("high-risk runbook must be skipped in favour of the default, got %s %+v", id, plan)
	}
	if AssessRisk(plan) != models.RiskLow {
		t.Fatalf("canned plans must be low risk")
	}
}

func TestRuleEngineMissingFile(t *testing.T) {
	engine, err := NewRuleEngine(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	plan, id := engine.Match(models.Incident{AffectedServices: []string{"api"}})
	if id != DefaultRunbookID || plan.ImmediateActions[0].Command != "diagnostics api" {
		t.Fatalf("expected built-in plan, got %s %+v", id, plan)
	}

	var nilEngine *RuleEngine
	if _, id := nilEngine.Match(models.Incident{}); id != DefaultRunbookID {
		t.Fatalf("nil engine should return the built-in plan")
	}
}

func TestRuleEngineReloadKeepsPreviousOnError(t *testing.T) {
	path := writeRunbooks(t, runbookYAML)
	engine, err := NewRuleEngine(path, nil)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}
	if err := os.WriteFile(path, []byte("runbooks: [::"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := engine.Reload(); err == nil {
		t.Fatalf("expected parse error")
	}
	inc := models.Incident{Title: "stuck", AffectedServices: []string{"checkout"}}
	if _, id := engine.Match(inc); id != "restart-checkout" {
		t.Fatalf("previous runbooks should stay active, got %s", id)
	}
}

func TestRunbookWatcherReloads(t *testing.T) {
	path := writeRunbooks(t, runbookYAML)
	engine, err := NewRuleEngine(path, nil)
	if err != nil {
		t.Fatalf("new rule engine: %v", err)
	}
	watcher, err := NewRunbookWatcher(engine, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	watcher.debounce = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = watcher.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	updated := `runbooks:
  - id: recycle
    match:
      service: checkout
    plan:
      immediate_actions:
        - action: Recycle
          command: "docker restart checkout"
          risk: low
`
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, id := engine.Match(models.Incident{AffectedServices: []string{"checkout"}}); id == "recycle" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("runbooks were not reloaded")
}
