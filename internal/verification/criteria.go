package verification

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/miradorstack/mirador-incident/internal/models"
)

var criterionPattern = regexp.MustCompile(`^\s*([a-z_ ]+?)\s*(<=|>=|==|=|<|>)\s*([0-9]+(?:\.[0-9]+)?)\s*%?\s*$`)

var criterionMetrics = map[string]string{
	"cpu":             "cpu",
	"cpu usage":       "cpu",
	"cpu_usage":       "cpu",
	"cpu utilization": "cpu",
	"cpu_utilization": "cpu",
	"memory":          "memory",
	"memory usage":    "memory",
	"memory_usage":    "memory",
	"error rate":      "error_rate",
	"error_rate":      "error_rate",
	"latency":         "latency_ms",
	"latency_ms":      "latency_ms",
	"errors":          "errors",
	"error count":     "errors",
	"error_count":     "errors",
}

// criterion is a success criterion of the form "<metric> <op> <value>".
type criterion struct {
	metric string
	op     string
	value  float64
}

func parseCriterion(text string) (criterion, bool) {
	m := criterionPattern.FindStringSubmatch(strings.ToLower(text))
	if m == nil {
		return criterion{}, false
	}
	metric, ok := criterionMetrics[strings.TrimSpace(m[1])]
	if !ok {
		return criterion{}, false
	}
	value, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return criterion{}, false
	}
	return criterion{metric: metric, op: m[2], value: value}, true
}

func (c criterion) holds(v float64) bool {
	switch c.op {
	case "<":
		return v < c.value
	case "<=":
		return v <= c.value
	case ">":
		return v > c.value
	case ">=":
		return v >= c.value
	default:
		return v == c.value
	}
}

// criteriaCheck evaluates the plan's success criteria. Measurable criteria must hold for every affected
// service; free-text criteria are met when every affected service reports healthy.
func (v *Verifier) criteriaCheck(ctx context.Context, inc models.Incident, snap *snapshot) models.CheckResult {
	criteria := inc.Plan.SuccessCriteria
	if len(criteria) == 0 {
		return models.CheckResult{Passed: true, Message: "No success criteria defined"}
	}

	allHealthy := true
	for _, service := range inc.AffectedServices {
		if h, ok := snap.health[service]; !ok || !h.Healthy() {
			allHealthy = false
			break
		}
	}

	met := make([]string, 0, len(criteria))
	failed := make([]string, 0)
	for _, text := range criteria {
		ok := allHealthy
		if c, measurable := parseCriterion(text); measurable {
			ok = v.evaluate(ctx, c, inc.AffectedServices, snap)
		}
		if ok {
			met = append(met, text)
		} else {
			failed = append(failed, text)
		}
	}
	return models.CheckResult{
		Passed:  len(failed) == 0,
		Message: fmt.Sprintf("%d/%d criteria met", len(met), len(criteria)),
		Details: map[string]any{"criteria_met": met, "criteria_failed": failed},
	}
}

func (v *Verifier) evaluate(ctx context.Context, c criterion, services []string, snap *snapshot) bool {
	for _, service := range services {
		var value float64
		switch c.metric {
		case "errors":
			n, ok := snap.errors[service]
			if !ok {
				return false
			}
			value = float64(n)
		default:
			s, ok := snap.metrics[service][c.metric]
			if !ok {
				s = v.sample(ctx, service, c.metric)
			}
			if !s.ok {
				return false
			}
			value = s.value
		}
		if !c.holds(value) {
			return false
		}
	}
	return true
}
