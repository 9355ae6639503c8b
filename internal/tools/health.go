package tools

import (
	"fmt"
	"time"
)

const (
	unhealthyErrorCount = 10
	degradedErrorCount  = 5
	degradedCPUAvg      = 85.0
)

// AssessHealth combines error logs and CPU samples into a health verdict.
// More than 10 errors is unhealthy, more than 5 is degraded; a saturated CPU or a metric spike degrades a healthy service.
func AssessHealth(service string, logs LogsResult, cpu MetricsResult, now time.Time) HealthResult {
	result := HealthResult{
		Service:    service,
		Status:     HealthHealthy,
		ErrorCount: logs.EventCount,
		CPUAvg:     cpu.Avg,
		CPUMax:     cpu.Max,
		CheckedAt:  now,
	}

	switch {
	case logs.EventCount > unhealthyErrorCount:
		result.Status = HealthUnhealthy
		result.Issues = append(result.Issues, fmt.Sprintf("High error rate: %d errors in window", logs.EventCount))
	case logs.EventCount > degradedErrorCount:
		result.Status = HealthDegraded
		result.Issues = append(result.Issues, fmt.Sprintf("Elevated error rate: %d errors", logs.EventCount))
	}

	if cpu.Avg > degradedCPUAvg {
		result.degrade()
		result.Issues = append(result.Issues, fmt.Sprintf("High average CPU: %.1f%%", cpu.Avg))
	}
	if spikes := DetectMetricAnomalies(cpu.Points, 0); len(spikes) > 0 {
		result.degrade()
		result.Issues = append(result.Issues, fmt.Sprintf("CPU spike: %.1f%% (z=%.1f)", spikes[len(spikes)-1].Value, spikes[len(spikes)-1].Score))
	}
	if spikes := DetectLogSpikes(logs.Entries); len(spikes) > 0 {
		result.degrade()
		result.Issues = append(result.Issues, fmt.Sprintf("Log volume spike: %d events", spikes[len(spikes)-1].Count))
	}

	result.Recommendation = healthRecommendation(result.Status, result.ErrorCount)
	return result
}

func (h *HealthResult) degrade() {
	if h.Status == HealthHealthy {
		h.Status = HealthDegraded
	}
}

func healthRecommendation(status string, errors int) string {
	switch status {
	case HealthUnhealthy:
		return fmt.Sprintf("Service is unhealthy with %d errors. Immediate investigation required. Check logs and consider rolling back recent changes.", errors)
	case HealthDegraded:
		return "Service performance degraded. Review recent deployments, check resource utilization, and consider scaling."
	default:
		return "Service is operating normally. Continue monitoring."
	}
}
