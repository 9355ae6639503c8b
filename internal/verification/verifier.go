// Package verification decides whether a remediated incident is actually resolved.
package verification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-incident/internal/metrics"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/tools"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// VerifiedThreshold is the confidence at which an incident counts as resolved.
const VerifiedThreshold = 75.0

const (
	// DefaultErrorReduction is the percentage by which error logs must drop against the investigation baseline.
	DefaultErrorReduction = 80.0
	maxParallelChecks     = 8
)

// Thresholds are the upper bounds a remediated service must stay under.
type Thresholds struct {
	CPU       float64
	Memory    float64
	ErrorRate float64
}

var thresholdsBySeverity = map[models.Severity]Thresholds{
	models.SeverityCritical: {CPU: 50, Memory: 60, ErrorRate: 1},
	models.SeverityHigh:     {CPU: 60, Memory: 70, ErrorRate: 2},
	models.SeverityMedium:   {CPU: 70, Memory: 75, ErrorRate: 5},
	models.SeverityLow:      {CPU: 80, Memory: 80, ErrorRate: 10},
}

// ThresholdsFor returns the metric bounds for severity; unknown severities use medium.
func ThresholdsFor(severity models.Severity) Thresholds {
	if t, ok := thresholdsBySeverity[severity]; ok {
		return t
	}
	return thresholdsBySeverity[models.SeverityMedium]
}

func (t Thresholds) limits() map[string]float64 {
	return map[string]float64{"cpu": t.CPU, "memory": t.Memory, "error_rate": t.ErrorRate}
}

// Tools is the observability surface verification reads from.
type Tools interface {
	Metrics(ctx context.Context, service, metric string) (tools.MetricsResult, models.Observation)
	Logs(ctx context.Context, service, pattern string) (tools.LogsResult, models.Observation)
	Health(ctx context.Context, service string) (tools.HealthResult, models.Observation)
}

// Verifier runs the post-remediation checks.
type Verifier struct {
	tools        Tools
	minReduction float64
	clock        utils.Clock
	logger       *slog.Logger
}

// NewVerifier constructs a verifier. A non-positive minReduction selects DefaultErrorReduction.
func NewVerifier(t Tools, minReduction float64, clock utils.Clock, logger *slog.Logger) *Verifier {
	if minReduction <= 0 {
		minReduction = DefaultErrorReduction
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{tools: t, minReduction: minReduction, clock: clock, logger: logger}
}

type metricSample struct {
	value float64
	ok    bool
	err   string
}

type snapshot struct {
	mu         sync.Mutex
	metrics    map[string]map[string]metricSample
	errors     map[string]int
	logErrs    map[string]string
	health     map[string]tools.HealthResult
	healthErrs map[string]string
}

func newSnapshot() *snapshot {
	return &snapshot{
		metrics:    make(map[string]map[string]metricSample),
		errors:     make(map[string]int),
		logErrs:    make(map[string]string),
		health:     make(map[string]tools.HealthResult),
		healthErrs: make(map[string]string),
	}
}

func (s *snapshot) setMetric(service, metric string, sample metricSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metrics[service] == nil {
		s.metrics[service] = make(map[string]metricSample)
	}
	s.metrics[service][metric] = sample
}

// Verify gathers fresh observations for every affected service and scores the resolution.
// The success-criteria check only runs when the incident carries a plan.
func (v *Verifier) Verify(ctx context.Context, inc models.Incident) models.VerificationResult {
	ctx = tools.Fresh(ctx)
	snap := v.gather(ctx, inc)

	checks := map[models.CheckName]models.CheckResult{
		models.CheckMetrics:       metricsCheck(inc, snap),
		models.CheckErrorLogs:     errorLogsCheck(inc, snap, v.minReduction),
		models.CheckServiceHealth: healthCheck(inc, snap),
	}
	if inc.Plan != nil {
		checks[models.CheckSuccessCriteria] = v.criteriaCheck(ctx, inc, snap)
	}

	passed := 0
	for _, c := range checks {
		if c.Passed {
			passed++
		}
	}
	total := len(checks)
	confidence := float64(passed) / float64(total) * 100
	result := models.VerificationResult{
		IncidentID:   inc.ID,
		Checks:       checks,
		PassedChecks: passed,
		TotalChecks:  total,
		Confidence:   confidence,
		Verified:     confidence >= VerifiedThreshold,
		CheckedAt:    v.clock.Now(),
	}
	result.Summary = summary(result.Verified, passed, total)
	result.Recommendation = Recommendation(confidence)

	metrics.ObserveVerification(confidence)
	v.logger.Info("verification completed",
		slog.String("incident_id", inc.ID),
		slog.Int("passed", passed),
		slog.Int("total", total),
		slog.Float64("confidence", confidence),
	)
	return result
}

func (v *Verifier) gather(ctx context.Context, inc models.Incident) *snapshot {
	snap := newSnapshot()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelChecks)

	for _, service := range inc.AffectedServices {
		service := service
		for _, metric := range []string{"cpu", "memory", "error_rate"} {
			metric := metric
			g.Go(func() error {
				snap.setMetric(service, metric, v.sample(gctx, service, metric))
				return nil
			})
		}
		g.Go(func() error {
			res, obs := v.tools.Logs(gctx, service, "ERROR")
			snap.mu.Lock()
			defer snap.mu.Unlock()
			if obs.Status != tools.StatusSuccess {
				snap.logErrs[service] = obs.Summary
				return nil
			}
			snap.errors[service] = res.EventCount
			return nil
		})
		g.Go(func() error {
			res, obs := v.tools.Health(gctx, service)
			snap.mu.Lock()
			defer snap.mu.Unlock()
			if obs.Status != tools.StatusSuccess {
				snap.healthErrs[service] = obs.Summary
				return nil
			}
			snap.health[service] = res
			return nil
		})
	}
	// Goroutines record failures in the snapshot and never return an error.
	_ = g.Wait()
	return snap
}

func (v *Verifier) sample(ctx context.Context, service, metric string) metricSample {
	res, obs := v.tools.Metrics(ctx, service, metric)
	if obs.Status != tools.StatusSuccess {
		return metricSample{err: obs.Summary}
	}
	if n := len(res.Points); n > 0 {
		return metricSample{value: res.Points[n-1].Value, ok: true}
	}
	if res.Count > 0 {
		return metricSample{value: res.Avg, ok: true}
	}
	return metricSample{}
}

func metricsCheck(inc models.Incident, snap *snapshot) models.CheckResult {
	if len(inc.AffectedServices) == 0 {
		return models.CheckResult{Passed: true, Message: "No metrics to verify"}
	}
	limits := ThresholdsFor(inc.Severity).limits()
	within, checked := 0, 0
	details := make(map[string]any)
	for _, service := range inc.AffectedServices {
		for metric, limit := range limits {
			s := snap.metrics[service][metric]
			key := service + "." + metric
			switch {
			case s.err != "":
				checked++
				details[key] = map[string]any{"error": s.err, "within_range": false}
			case !s.ok:
				details[key] = map[string]any{"within_range": true, "note": "no datapoints"}
			default:
				checked++
				ok := s.value <= limit
				if ok {
					within++
				}
				details[key] = map[string]any{"value": s.value, "limit": limit, "within_range": ok}
			}
		}
	}
	if checked == 0 {
		return models.CheckResult{Passed: true, Message: "No metric datapoints to verify", Details: details}
	}
	return models.CheckResult{
		Passed:  within == checked,
		Message: fmt.Sprintf("%d/%d metrics within normal range", within, checked),
		Details: details,
	}
}

func errorLogsCheck(inc models.Incident, snap *snapshot, minReduction float64) models.CheckResult {
	for service, msg := range snap.logErrs {
		return models.CheckResult{Message: fmt.Sprintf("Error checking logs for %s: %s", service, msg)}
	}
	baselines := Baselines(inc)
	baseline, current := 0, 0
	perService := make(map[string]any, len(baselines))
	for service, before := range baselines {
		now := 0
		if service == "" {
			for _, n := range snap.errors {
				now += n
			}
		} else {
			now = snap.errors[service]
		}
		baseline += before
		current += now
		perService[orUnattributed(service)] = map[string]any{"baseline_errors": before, "error_count": now}
	}
	details := map[string]any{"error_count": current, "baseline_errors": baseline, "services": perService}
	if baseline <= 0 {
		return models.CheckResult{Passed: true, Message: "No baseline errors to compare", Details: details}
	}
	reduction := float64(baseline-current) / float64(baseline) * 100
	details["reduction_percent"] = reduction
	return models.CheckResult{
		Passed:  reduction >= minReduction,
		Message: fmt.Sprintf("Error rate reduced by %.1f%%", reduction),
		Details: details,
	}
}

// Baselines are the error counts the investigation observed before remediation, keyed by service.
// Only services the investigation looked at have a baseline; the latest observation per service wins.
// An observation that names no service belongs to the sole affected service, or to "" when there are several.
func Baselines(inc models.Incident) map[string]int {
	out := make(map[string]int)
	if inc.Investigation == nil {
		return out
	}
	add := func(obs models.Observation) {
		if obs.Tool != tools.ActionErrorLogs || obs.Status != tools.StatusSuccess {
			return
		}
		service, _ := obs.Data["service"].(string)
		if service == "" && len(inc.AffectedServices) == 1 {
			service = inc.AffectedServices[0]
		}
		out[service] = eventCount(obs.Data["event_count"])
	}
	for _, step := range inc.Investigation.Steps {
		if step.Observation != nil {
			add(*step.Observation)
		}
	}
	if len(out) == 0 {
		if obs, ok := inc.Investigation.Context[tools.ActionErrorLogs]; ok {
			add(obs)
		}
	}
	return out
}

func eventCount(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func orUnattributed(service string) string {
	if service == "" {
		return "unattributed"
	}
	return service
}

func healthCheck(inc models.Incident, snap *snapshot) models.CheckResult {
	if len(inc.AffectedServices) == 0 {
		return models.CheckResult{Passed: true, Message: "No services to check"}
	}
	healthy := 0
	details := make(map[string]any, len(inc.AffectedServices))
	for _, service := range inc.AffectedServices {
		if msg, failed := snap.healthErrs[service]; failed {
			details[service] = map[string]any{"healthy": false, "error": msg}
			continue
		}
		h := snap.health[service]
		if h.Healthy() {
			healthy++
		}
		details[service] = map[string]any{"healthy": h.Healthy(), "status": h.Status}
	}
	total := len(inc.AffectedServices)
	return models.CheckResult{
		Passed:  healthy == total,
		Message: fmt.Sprintf("%d/%d services healthy", healthy, total),
		Details: details,
	}
}

func summary(verified bool, passed, total int) string {
	if verified {
		return fmt.Sprintf("Incident resolution VERIFIED - %d/%d checks passed", passed, total)
	}
	return fmt.Sprintf("Incident resolution UNCERTAIN - Only %d/%d checks passed", passed, total)
}

// Recommendation maps a confidence score onto operator guidance.
func Recommendation(confidence float64) string {
	switch {
	case confidence >= 90:
		return "Resolution confirmed. Safe to close incident."
	case confidence >= 75:
		return "Resolution likely successful. Monitor for 24 hours before closing."
	case confidence >= 50:
		return "Resolution uncertain. Continue monitoring and consider additional remediation."
	default:
		return "Resolution verification failed. Manual investigation required."
	}
}
