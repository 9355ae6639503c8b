package tools

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incident/internal/breaker"
	"github.com/miradorstack/mirador-incident/internal/metrics"
	"github.com/miradorstack/mirador-incident/internal/models"
)

// Investigation tool names offered to the reasoner.
const (
	ActionCPUMetrics    = "get_cpu_metrics"
	ActionMemoryMetrics = "get_memory_metrics"
	ActionErrorLogs     = "get_error_logs"
	ActionServiceHealth = "check_service_health"
)

// Observation statuses.
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusCircuitOpen = "circuit_open"
)

// Gateway routes tool calls through per-dependency circuit breakers and normalises results into observations.
// It never returns a Go error: failures are reported in the observation.
type Gateway struct {
	provider Provider
	breaker  *breaker.Breaker
	deps     map[Name]string
	window   time.Duration
	logger   *slog.Logger
}

// NewGateway wires a provider to a breaker. deps maps each tool onto the breaker dependency guarding it;
// unmapped tools use their own name.
func NewGateway(provider Provider, cb *breaker.Breaker, deps map[Name]string, window time.Duration, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	resolved := map[Name]string{ToolMetrics: "metrics_api", ToolLogs: "logs_api", ToolHealth: "health_api"}
	for k, v := range deps {
		resolved[k] = v
	}
	return &Gateway{provider: provider, breaker: cb, deps: resolved, window: window, logger: logger}
}

// Actions lists the tool actions the gateway can serve.
func Actions() []string {
	return []string{ActionCPUMetrics, ActionMemoryMetrics, ActionErrorLogs, ActionServiceHealth}
}

// Invoke executes an investigation action. params carries "service" and, for logs, an optional "pattern".
func (g *Gateway) Invoke(ctx context.Context, action string, params map[string]any) models.Observation {
	service := stringParam(params, "service")
	if service == "" && action != "" {
		return models.Observation{
			Tool:    action,
			Status:  StatusError,
			Summary: fmt.Sprintf("Tool %s requires a service", action),
			Error:   "missing service parameter",
		}
	}
	switch action {
	case ActionCPUMetrics:
		_, obs := g.Metrics(ctx, service, "cpu")
		obs.Tool = action
		return obs
	case ActionMemoryMetrics:
		_, obs := g.Metrics(ctx, service, "memory")
		obs.Tool = action
		return obs
	case ActionErrorLogs:
		pattern := stringParam(params, "pattern")
		if pattern == "" {
			pattern = "ERROR"
		}
		_, obs := g.Logs(ctx, service, pattern)
		obs.Tool = action
		return obs
	case ActionServiceHealth:
		_, obs := g.Health(ctx, service)
		obs.Tool = action
		return obs
	default:
		return models.Observation{
			Tool:    action,
			Status:  StatusError,
			Summary: fmt.Sprintf("Unknown tool: %s", action),
			Error:   fmt.Sprintf("unknown tool %q", action),
		}
	}
}

// Metrics fetches a metric series. The result is zero unless the observation status is success.
func (g *Gateway) Metrics(ctx context.Context, service, metric string) (MetricsResult, models.Observation) {
	var result MetricsResult
	obs := g.guard(ctx, ToolMetrics, func(ctx context.Context) error {
		var err error
		result, err = g.provider.Metrics(ctx, MetricsQuery{Service: service, Metric: metric, Window: g.window})
		return err
	})
	if obs.Status != StatusSuccess {
		return MetricsResult{}, obs
	}
	switch metric {
	case "memory":
		obs.Summary = fmt.Sprintf("Memory Metrics - Avg: %.2f%%, Max: %.2f%%", result.Avg, result.Max)
	case "cpu":
		obs.Summary = fmt.Sprintf("CPU Metrics - Avg: %.2f%%, Max: %.2f%%, Count: %d datapoints", result.Avg, result.Max, result.Count)
	default:
		obs.Summary = fmt.Sprintf("%s Metrics - Avg: %.2f, Max: %.2f, Count: %d datapoints", metric, result.Avg, result.Max, result.Count)
	}
	obs.Data = map[string]any{
		"service": service,
		"metric":  metric,
		"avg":     round2(result.Avg),
		"max":     round2(result.Max),
		"count":   result.Count,
	}
	if spikes := DetectMetricAnomalies(result.Points, 0); len(spikes) > 0 {
		obs.Data["anomalies"] = len(spikes)
	}
	return result, obs
}

// Logs fetches log events matching pattern.
func (g *Gateway) Logs(ctx context.Context, service, pattern string) (LogsResult, models.Observation) {
	var result LogsResult
	obs := g.guard(ctx, ToolLogs, func(ctx context.Context) error {
		var err error
		result, err = g.provider.Logs(ctx, LogsQuery{Service: service, Pattern: pattern, Window: g.window})
		return err
	})
	if obs.Status != StatusSuccess {
		return LogsResult{}, obs
	}
	obs.Summary = fmt.Sprintf("Found %d error events in logs", result.EventCount)
	obs.Data = map[string]any{
		"service":     service,
		"pattern":     result.Pattern,
		"event_count": result.EventCount,
	}
	if n := len(result.Entries); n > 0 {
		sample := result.Entries
		if n > 5 {
			sample = sample[n-5:]
		}
		messages := make([]string, 0, len(sample))
		for _, e := range sample {
			messages = append(messages, e.Message)
		}
		obs.Data["recent"] = messages
	}
	return result, obs
}

// Health assesses a service.
func (g *Gateway) Health(ctx context.Context, service string) (HealthResult, models.Observation) {
	var result HealthResult
	obs := g.guard(ctx, ToolHealth, func(ctx context.Context) error {
		var err error
		result, err = g.provider.Health(ctx, HealthQuery{Service: service, Window: g.window})
		return err
	})
	if obs.Status != StatusSuccess {
		return HealthResult{}, obs
	}
	issues := "None"
	if len(result.Issues) > 0 {
		issues = strings.Join(result.Issues, ", ")
	}
	obs.Summary = fmt.Sprintf("Health: %s, Issues: %s", result.Status, issues)
	obs.Data = map[string]any{
		"service":        service,
		"health_status":  result.Status,
		"issues":         result.Issues,
		"error_count":    result.ErrorCount,
		"recommendation": result.Recommendation,
	}
	return result, obs
}

func (g *Gateway) guard(ctx context.Context, tool Name, call func(context.Context) error) models.Observation {
	dep := g.deps[tool]
	if dep == "" {
		dep = string(tool)
	}

	if g.breaker != nil && g.breaker.IsOpen(ctx, dep) {
		retry := g.breaker.RetryAfter(ctx, dep)
		metrics.ObserveToolCall(string(tool), StatusCircuitOpen)
		g.logger.Warn("tool call skipped, circuit open",
			slog.String("tool", string(tool)),
			slog.String("dependency", dep),
			slog.Duration("retry_after", retry),
		)
		return models.Observation{
			Tool:       string(tool),
			Status:     StatusCircuitOpen,
			Summary:    fmt.Sprintf("Circuit breaker open for %s", dep),
			Error:      fmt.Sprintf("dependency %s unavailable", dep),
			RetryAfter: retry.Seconds(),
		}
	}

	if err := call(ctx); err != nil {
		if g.breaker != nil {
			if recErr := g.breaker.RecordFailure(ctx, dep); recErr != nil {
				g.logger.Warn("breaker record failure", slog.String("dependency", dep), slog.Any("error", recErr))
			}
		}
		metrics.ObserveToolCall(string(tool), StatusError)
		g.logger.Warn("tool call failed", slog.String("tool", string(tool)), slog.Any("error", err))
		return models.Observation{
			Tool:    string(tool),
			Status:  StatusError,
			Summary: fmt.Sprintf("Tool %s failed: %v", tool, err),
			Error:   err.Error(),
		}
	}

	if g.breaker != nil {
		if recErr := g.breaker.RecordSuccess(ctx, dep); recErr != nil {
			g.logger.Warn("breaker record success", slog.String("dependency", dep), slog.Any("error", recErr))
		}
	}
	metrics.ObserveToolCall(string(tool), StatusSuccess)
	return models.Observation{Tool: string(tool), Status: StatusSuccess}
}

func stringParam(params map[string]any, key string) string {
	if params == nil {
		return ""
	}
	v, _ := params[key].(string)
	return strings.TrimSpace(v)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
