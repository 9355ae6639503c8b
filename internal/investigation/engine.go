// Package investigation runs the bounded reason/act/observe loop that looks for an incident's root cause.
package investigation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incident/internal/metrics"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/reasoner"
	"github.com/miradorstack/mirador-incident/internal/tools"
)

// ActionConclude ends the loop with the reasoner's conclusion.
const ActionConclude = "conclude"

const (
	DefaultMaxIterations = 5
	DefaultMaxDuration   = 2 * time.Minute
)

const (
	fallbackRootCause = "Unable to determine definitively"
	fallbackSummary   = "Automated analysis inconclusive"
	unknownService    = "unknown-service"
)

// ToolInvoker executes investigation actions. The tools.Gateway satisfies it.
type ToolInvoker interface {
	Invoke(ctx context.Context, action string, params map[string]any) models.Observation
}

// Engine runs investigations.
type Engine struct {
	reasoner      reasoner.Reasoner
	tools         ToolInvoker
	maxIterations int
	maxDuration   time.Duration
	logger        *slog.Logger
}

// NewEngine constructs an Engine. Non-positive limits use the defaults.
func NewEngine(r reasoner.Reasoner, invoker ToolInvoker, maxIterations int, maxDuration time.Duration, logger *slog.Logger) *Engine {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if maxDuration <= 0 {
		maxDuration = DefaultMaxDuration
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{reasoner: r, tools: invoker, maxIterations: maxIterations, maxDuration: maxDuration, logger: logger}
}

// Investigate always returns a record, degrading to a low-confidence report when the reasoner is unusable.
func (e *Engine) Investigate(ctx context.Context, inc models.Incident) models.InvestigationRecord {
	record := models.InvestigationRecord{
		IncidentID: inc.ID,
		Context:    make(map[string]models.Observation),
	}

	loopCtx, cancel := context.WithTimeout(ctx, e.maxDuration)
	defer cancel()

	service := primaryService(inc)
	conclusion := ""

	for iteration := 1; iteration <= e.maxIterations; iteration++ {
		if err := loopCtx.Err(); err != nil {
			e.logger.Warn("investigation stopped early",
				slog.String("incident_id", inc.ID),
				slog.Int("iteration", iteration),
				slog.Any("error", err),
			)
			break
		}
		record.Iterations = iteration

		thought := e.think(loopCtx, inc, record)
		action := e.decide(loopCtx, inc, thought, record, service)
		step := models.InvestigationStep{Iteration: iteration, Thought: thought, Action: action}

		if action.Type == ActionConclude {
			record.Steps = append(record.Steps, step)
			record.Concluded = true
			conclusion = action.Conclusion
			break
		}

		obs := e.tools.Invoke(loopCtx, action.Type, action.Parameters)
		step.Observation = &obs
		record.Steps = append(record.Steps, step)
		record.Context[action.Type] = obs

		e.logger.Debug("investigation step",
			slog.String("incident_id", inc.ID),
			slog.Int("iteration", iteration),
			slog.String("action", action.Type),
			slog.String("status", obs.Status),
		)
	}

	e.report(ctx, inc, conclusion, &record)
	metrics.ObserveInvestigation(record.Iterations)
	return record
}

func (e *Engine) think(ctx context.Context, inc models.Incident, record models.InvestigationRecord) string {
	prompt := fmt.Sprintf(`You are investigating an IT incident. Based on current information, reason about what to investigate next.

Current context:
%s

Investigation so far:
%s

Reason about what we know, the most likely root causes, what information is missing and what to investigate next.
Provide your reasoning in 2-3 sentences.`, contextJSON(inc, record), formatSteps(record.Steps))

	thought, err := e.respond(ctx, reasoner.Prompt{User: prompt, MaxTokens: 500, Temperature: 0.5})
	if err != nil {
		return fmt.Sprintf("Reasoner unavailable: %v", err)
	}
	return strings.TrimSpace(thought)
}

func (e *Engine) decide(ctx context.Context, inc models.Incident, thought string, record models.InvestigationRecord, service string) models.ToolAction {
	prompt := fmt.Sprintf(`Based on this reasoning, decide the next action.

Reasoning:
%s

Available actions:
1. %s - CPU utilisation for a service
2. %s - error logs for a service
3. %s - overall service health
4. %s - memory utilisation for a service
5. %s - provide the final root cause conclusion

Context:
%s

Choose ONE action and reply with JSON:
{"type": "<action>", "parameters": {"service": "<service>"}}
or, when you have enough evidence:
{"type": "conclude", "conclusion": "<root cause>"}`,
		thought,
		tools.ActionCPUMetrics, tools.ActionErrorLogs, tools.ActionServiceHealth, tools.ActionMemoryMetrics, ActionConclude,
		contextJSON(inc, record))

	raw, err := e.respond(ctx, reasoner.Prompt{User: prompt, MaxTokens: 400, Temperature: 0.5})
	if err != nil {
		e.logger.Warn("action selection failed", slog.String("incident_id", inc.ID), slog.Any("error", err))
		return fallbackAction(service)
	}

	var action models.ToolAction
	if err := reasoner.ExtractJSON(raw, &action); err != nil || !validAction(action.Type) {
		e.logger.Warn("unparsable action, using fallback", slog.String("incident_id", inc.ID), slog.String("raw", truncate(raw, 200)))
		return fallbackAction(service)
	}
	if action.Type == ActionConclude {
		return action
	}
	if action.Parameters == nil {
		action.Parameters = make(map[string]any)
	}
	if s, _ := action.Parameters["service"].(string); strings.TrimSpace(s) == "" {
		action.Parameters["service"] = service
	}
	return action
}

type report struct {
	RootCause           string   `json:"root_cause"`
	Confidence          string   `json:"confidence"`
	Evidence            []string `json:"evidence"`
	ContributingFactors []string `json:"contributing_factors"`
	Recommendations     []string `json:"recommendations"`
	Summary             string   `json:"summary"`
}

func (e *Engine) report(ctx context.Context, inc models.Incident, conclusion string, record *models.InvestigationRecord) {
	identified := conclusion
	if identified == "" {
		identified = "Not yet identified"
	}
	prompt := fmt.Sprintf(`Generate a root cause analysis report.

Incident:
%s

Investigation log:
%s

Identified root cause:
%s

Reply with JSON:
{"root_cause": "...", "confidence": "high|medium|low", "evidence": ["..."], "contributing_factors": ["..."], "recommendations": ["..."], "summary": "2-3 sentence executive summary"}`,
		incidentJSON(inc), formatSteps(record.Steps), identified)

	var parsed report
	raw, err := e.respond(ctx, reasoner.Prompt{User: prompt, MaxTokens: 1500, Temperature: 0.5})
	if err == nil {
		err = reasoner.ExtractJSON(raw, &parsed)
	}
	if err == nil && strings.TrimSpace(parsed.RootCause) == "" {
		err = fmt.Errorf("report without root cause")
	}
	if err != nil {
		e.logger.Warn("investigation report degraded", slog.String("incident_id", inc.ID), slog.Any("error", err))
		record.RootCause = fallbackRootCause
		record.Confidence = models.ConfidenceLow
		record.Evidence = nil
		if conclusion != "" {
			record.Evidence = []string{"Agent conclusion: " + conclusion}
		}
		record.ContributingFactors = nil
		record.Recommendations = []string{"Manual investigation required"}
		record.Summary = fallbackSummary
		return
	}

	record.RootCause = parsed.RootCause
	record.Confidence = models.ParseConfidence(parsed.Confidence)
	record.Evidence = parsed.Evidence
	record.ContributingFactors = parsed.ContributingFactors
	record.Recommendations = parsed.Recommendations
	record.Summary = parsed.Summary
}

func (e *Engine) respond(ctx context.Context, prompt reasoner.Prompt) (string, error) {
	if e.reasoner == nil {
		return "", fmt.Errorf("no reasoner configured")
	}
	return e.reasoner.Respond(ctx, prompt)
}

func fallbackAction(service string) models.ToolAction {
	return models.ToolAction{
		Type:       tools.ActionServiceHealth,
		Parameters: map[string]any{"service": service},
		Fallback:   true,
	}
}

func validAction(action string) bool {
	if action == ActionConclude {
		return true
	}
	for _, a := range tools.Actions() {
		if a == action {
			return true
		}
	}
	return false
}

func primaryService(inc models.Incident) string {
	for _, s := range inc.AffectedServices {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return unknownService
}

func incidentJSON(inc models.Incident) string {
	data, _ := json.MarshalIndent(map[string]any{
		"incident_id":       inc.ID,
		"title":             inc.Title,
		"description":       inc.Description,
		"severity":          inc.Severity,
		"affected_services": inc.AffectedServices,
	}, "", "  ")
	return string(data)
}

func contextJSON(inc models.Incident, record models.InvestigationRecord) string {
	gathered := make(map[string]any, len(record.Context))
	for tool, obs := range record.Context {
		gathered[tool] = map[string]any{"status": obs.Status, "summary": obs.Summary, "data": obs.Data}
	}
	data, _ := json.MarshalIndent(map[string]any{
		"known_facts": []string{
			"Title: " + inc.Title,
			"Description: " + inc.Description,
			"Affected Services: " + strings.Join(inc.AffectedServices, ", "),
			"Severity: " + string(inc.Severity),
		},
		"gathered_data": gathered,
	}, "", "  ")
	return string(data)
}

func formatSteps(steps []models.InvestigationStep) string {
	if len(steps) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, s := range steps {
		fmt.Fprintf(&b, "THOUGHT %d: %s\n", s.Iteration, s.Thought)
		if s.Action.Type == ActionConclude {
			fmt.Fprintf(&b, "ACTION %d: conclude (%s)\n", s.Iteration, s.Action.Conclusion)
			continue
		}
		fmt.Fprintf(&b, "ACTION %d: %s\n", s.Iteration, s.Action.Type)
		if s.Observation != nil {
			fmt.Fprintf(&b, "OBSERVATION %d: %s\n", s.Iteration, s.Observation.Summary)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
