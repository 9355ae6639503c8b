package tools

import (
	"math"
	"sort"
	"strings"
	"time"
)

// MetricAnomaly captures an anomalous metric sample.
type MetricAnomaly struct {
	Timestamp time.Time
	Value     float64
	Score     float64
	Threshold float64
}

// DetectMetricAnomalies flags samples whose z-score reaches threshold (default 2.5).
func DetectMetricAnomalies(series []MetricPoint, threshold float64) []MetricAnomaly {
	if len(series) == 0 {
		return nil
	}
	if threshold <= 0 {
		threshold = 2.5
	}

	mean := 0.0
	for _, point := range series {
		mean += point.Value
	}
	mean /= float64(len(series))

	variance := 0.0
	for _, point := range series {
		variance += math.Pow(point.Value-mean, 2)
	}
	variance /= float64(len(series))
	stdDev := math.Sqrt(variance)
	if stdDev == 0 {
		stdDev = 0.01
	}

	anomalies := make([]MetricAnomaly, 0)
	for _, point := range series {
		score := (point.Value - mean) / stdDev
		if score >= threshold {
			anomalies = append(anomalies, MetricAnomaly{
				Timestamp: point.Timestamp,
				Value:     point.Value,
				Score:     score,
				Threshold: threshold,
			})
		}
	}
	return anomalies
}

// LogAnomaly represents an error spike.
type LogAnomaly struct {
	Timestamp time.Time
	Severity  string
	Count     int
	Score     float64
}

// DetectLogSpikes flags entries far from the median count, and error entries well above it.
func DetectLogSpikes(entries []LogEntry) []LogAnomaly {
	if len(entries) == 0 {
		return nil
	}

	counts := make([]float64, 0, len(entries))
	for _, entry := range entries {
		counts = append(counts, float64(entry.Count))
	}

	median := percentile(counts, 0.5)
	mad := meanAbsoluteDeviation(counts, median)
	if mad == 0 {
		mad = 1
	}

	anomalies := make([]LogAnomaly, 0)
	for _, entry := range entries {
		score := math.Abs(float64(entry.Count)-median) / mad
		switch {
		case score >= 3:
			anomalies = append(anomalies, LogAnomaly{Timestamp: entry.Timestamp, Severity: entry.Severity, Count: entry.Count, Score: score})
		case strings.EqualFold(entry.Severity, "error") && entry.Count > int(median*1.3):
			anomalies = append(anomalies, LogAnomaly{Timestamp: entry.Timestamp, Severity: entry.Severity, Count: entry.Count, Score: 3})
		}
	}
	return anomalies
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	idx := int(math.Round(p * float64(len(sorted)-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func meanAbsoluteDeviation(values []float64, center float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += math.Abs(v - center)
	}
	return sum / float64(len(values))
}
