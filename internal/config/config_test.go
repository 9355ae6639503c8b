package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MIRADOR_INCIDENT_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Breaker.Defaults.Threshold != 5 || cfg.Breaker.Defaults.OpenDuration != 60*time.Second {
		t.Fatalf("unexpected breaker defaults: %+v", cfg.Breaker.Defaults)
	}
	if cfg.Investigation.MaxIterations != 5 {
		t.Fatalf("unexpected max iterations %d", cfg.Investigation.MaxIterations)
	}
	if cfg.Approval.TTL != 24*time.Hour {
		t.Fatalf("unexpected approval ttl %v", cfg.Approval.TTL)
	}
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte(`
storage:
  driver: memory
breaker:
  dependencies:
    metrics:
      threshold: 2
      openDuration: 5s
investigation:
  maxIterations: 3
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("MIRADOR_INCIDENT_APPROVAL_TTL", "2h")
	t.Setenv("MIRADOR_INCIDENT_DRY_RUN", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("expected memory driver, got %s", cfg.Storage.Driver)
	}
	if got := cfg.Breaker.Dependencies["metrics"]; got.Threshold != 2 || got.OpenDuration != 5*time.Second {
		t.Fatalf("unexpected dependency override: %+v", got)
	}
	if cfg.Investigation.MaxIterations != 3 {
		t.Fatalf("expected 3 iterations, got %d", cfg.Investigation.MaxIterations)
	}
	if cfg.Approval.TTL != 2*time.Hour {
		t.Fatalf("env override not applied: %v", cfg.Approval.TTL)
	}
	if cfg.Remediation.DryRun {
		t.Fatalf("expected dry run disabled by env")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("workflow:\n  backend: kafka\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error")
	}
}
