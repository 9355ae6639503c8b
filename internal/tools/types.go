// Package tools exposes the observability capabilities the investigation and verification stages call through circuit breakers.
package tools

import (
	"context"
	"time"
)

// Name identifies a tool.
type Name string

const (
	ToolMetrics Name = "metrics"
	ToolLogs    Name = "logs"
	ToolHealth  Name = "health"
)

// Health statuses.
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// MetricPoint represents a single metric sample.
type MetricPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// LogEntry represents aggregated log information.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	Count     int       `json:"count"`
}

// MetricsQuery selects a metric series for a service.
type MetricsQuery struct {
	Service string
	// Metric is one of cpu, memory, error_rate or latency_ms.
	Metric string
	Window time.Duration
}

// MetricsResult is a metric series with summary statistics.
type MetricsResult struct {
	Service string        `json:"service"`
	Metric  string        `json:"metric"`
	Points  []MetricPoint `json:"datapoints"`
	Avg     float64       `json:"avg"`
	Max     float64       `json:"max"`
	Count   int           `json:"count"`
}

// LogsQuery selects log entries for a service.
type LogsQuery struct {
	Service string
	Pattern string
	Window  time.Duration
}

// LogsResult holds matching log aggregates.
type LogsResult struct {
	Service    string     `json:"service"`
	Pattern    string     `json:"pattern"`
	Entries    []LogEntry `json:"events"`
	EventCount int        `json:"event_count"`
}

// HealthQuery selects a service to assess.
type HealthQuery struct {
	Service string
	Window  time.Duration
}

// HealthResult is the composite health assessment of a service.
type HealthResult struct {
	Service        string    `json:"service_name"`
	Status         string    `json:"health_status"`
	Issues         []string  `json:"issues"`
	ErrorCount     int       `json:"error_count"`
	CPUAvg         float64   `json:"cpu_avg"`
	CPUMax         float64   `json:"cpu_max"`
	Recommendation string    `json:"recommendation"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Healthy reports whether the service is fully healthy.
func (h HealthResult) Healthy() bool {
	return h.Status == HealthHealthy
}

// Provider is the observability backend behind the gateway.
type Provider interface {
	Metrics(ctx context.Context, q MetricsQuery) (MetricsResult, error)
	Logs(ctx context.Context, q LogsQuery) (LogsResult, error)
	Health(ctx context.Context, q HealthQuery) (HealthResult, error)
}

func summarise(points []MetricPoint) (avg, max float64) {
	if len(points) == 0 {
		return 0, 0
	}
	sum := 0.0
	max = points[0].Value
	for _, p := range points {
		sum += p.Value
		if p.Value > max {
			max = p.Value
		}
	}
	return sum / float64(len(points)), max
}
