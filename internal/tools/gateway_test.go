package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-incident/internal/breaker"
)

type stubProvider struct {
	metrics MetricsResult
	logs    LogsResult
	health  HealthResult
	err     error
	calls   int
}

func (s *stubProvider) Metrics(context.Context, MetricsQuery) (MetricsResult, error) {
	s.calls++
	return s.metrics, s.err
}

func (s *stubProvider) Logs(context.Context, LogsQuery) (LogsResult, error) {
	s.calls++
	return s.logs, s.err
}

func (s *stubProvider) Health(context.Context, HealthQuery) (HealthResult, error) {
	s.calls++
	return s.health, s.err
}

var svc = map[string]any{"service": "checkout"}

func TestGatewayFormatsSuccessfulObservations(t *testing.T) {
	provider := &stubProvider{
		metrics: MetricsResult{Avg: 42.5, Max: 80, Count: 12},
		logs:    LogsResult{EventCount: 7},
		health:  HealthResult{Status: HealthHealthy},
	}
	gw := NewGateway(provider, breaker.New(nil, breaker.Settings{}, nil), nil, time.Hour, nil)
	ctx := context.Background()

	obs := gw.Invoke(ctx, ActionCPUMetrics, svc)
	if obs.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", obs)
	}
	if obs.Summary != "CPU Metrics - Avg: 42.50%, Max: 80.00%, Count: 12 datapoints" {
		t.Fatalf("unexpected cpu summary: %q", obs.Summary)
	}
	if obs.Tool != ActionCPUMetrics {
		t.Fatalf("expected tool name to be the action, got %q", obs.Tool)
	}

	if obs := gw.Invoke(ctx, ActionErrorLogs, svc); obs.Summary != "Found 7 error events in logs" {
		t.Fatalf("unexpected logs summary: %q", obs.Summary)
	}
	if obs := gw.Invoke(ctx, ActionServiceHealth, svc); obs.Summary != "Health: healthy, Issues: None" {
		t.Fatalf("unexpected health summary: %q", obs.Summary)
	}
}

func TestGatewayRecordsFailuresAndOpensCircuit(t *testing.T) {
	provider := &stubProvider{err: errors.New("connection refused")}
	cb := breaker.New(nil, breaker.Settings{Threshold: 2, OpenDuration: time.Minute}, nil)
	gw := NewGateway(provider, cb, nil, time.Hour, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		obs := gw.Invoke(ctx, ActionCPUMetrics, svc)
		if obs.Status != StatusError || !strings.Contains(obs.Error, "connection refused") {
			t.Fatalf("expected error observation, got %+v", obs)
		}
	}

	obs := gw.Invoke(ctx, ActionMemoryMetrics, svc)
	if obs.Status != StatusCircuitOpen {
		t.Fatalf("expected circuit_open, got %+v", obs)
	}
	if obs.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", obs.RetryAfter)
	}
	if provider.calls != 2 {
		t.Fatalf("open circuit must skip the provider; calls=%d", provider.calls)
	}

	if obs := gw.Invoke(ctx, ActionErrorLogs, svc); obs.Status != StatusError {
		t.Fatalf("logs dependency should be unaffected, got %+v", obs)
	}
}

func TestGatewayUnknownTool(t *testing.T) {
	gw := NewGateway(&stubProvider{}, nil, nil, time.Hour, nil)
	obs := gw.Invoke(context.Background(), "get_traces", svc)
	if obs.Status != StatusError {
		t.Fatalf("expected error for unknown tool, got %+v", obs)
	}
	if obs := gw.Invoke(context.Background(), ActionCPUMetrics, nil); obs.Status != StatusError {
		t.Fatalf("expected error without service, got %+v", obs)
	}
}
