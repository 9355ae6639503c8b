// Package triage assigns severity and routing to a newly reported incident.
package triage

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/reasoner"
)

const systemPrompt = "You are an expert IT operations triage agent. Return only valid JSON, no markdown fences, no commentary."

// Agent triages incidents with a reasoner and falls back to a safe default.
type Agent struct {
	reasoner         reasoner.Reasoner
	escalateCritical bool
	logger           *slog.Logger
}

// NewAgent constructs an Agent. When escalateCritical is set, critical severity always routes to escalate.
func NewAgent(r reasoner.Reasoner, escalateCritical bool, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{reasoner: r, escalateCritical: escalateCritical, logger: logger}
}

type assessment struct {
	Severity        string   `json:"severity"`
	Routing         string   `json:"routing"`
	Reasoning       string   `json:"reasoning"`
	NextSteps       []string `json:"next_steps"`
	EstimatedImpact string   `json:"estimated_impact"`
	UrgencyScore    int      `json:"urgency_score"`
}

// Assess returns the triage result for inc. It never fails: reasoner errors and malformed output
// produce an investigate fallback that keeps the reported severity (medium when none was reported).
func (a *Agent) Assess(ctx context.Context, inc models.Incident) models.TriageResult {
	result, err := a.assess(ctx, inc)
	if err != nil {
		a.logger.Warn("triage fell back to defaults", slog.String("incident_id", inc.ID), slog.Any("error", err))
		result = Fallback(err)
		if reported, ok := models.ParseSeverity(string(inc.Severity)); ok {
			result.Severity = reported
		}
	}
	if a.escalateCritical && result.Severity == models.SeverityCritical && result.Routing != models.RoutingEscalate {
		result.Routing = models.RoutingEscalate
		result.NextSteps = append([]string{"Page on-call engineer"}, result.NextSteps...)
	}
	return result
}

// Fallback is the safe triage applied when the reasoner cannot be used.
func Fallback(cause error) models.TriageResult {
	reason := "Error parsing AI response, defaulting to safe triage"
	if cause != nil {
		reason = fmt.Sprintf("Automatic triage unavailable (%v). Defaulting to safe triage.", cause)
	}
	return models.TriageResult{
		Severity:  models.SeverityMedium,
		Routing:   models.RoutingInvestigate,
		Reasoning: reason,
		NextSteps: []string{"Manual review required"},
		Impact:    "Unknown",
		Urgency:   5,
		Fallback:  true,
	}
}

func (a *Agent) assess(ctx context.Context, inc models.Incident) (models.TriageResult, error) {
	if a.reasoner == nil {
		return models.TriageResult{}, fmt.Errorf("no reasoner configured")
	}
	raw, err := a.reasoner.Respond(ctx, reasoner.Prompt{System: systemPrompt, User: buildPrompt(inc), Temperature: 0.3})
	if err != nil {
		return models.TriageResult{}, fmt.Errorf("reasoner: %w", err)
	}

	var parsed assessment
	if err := reasoner.ExtractJSON(raw, &parsed); err != nil {
		return models.TriageResult{}, err
	}
	severity, ok := models.ParseSeverity(parsed.Severity)
	if !ok {
		return models.TriageResult{}, fmt.Errorf("unknown severity %q", parsed.Severity)
	}
	if strings.TrimSpace(parsed.Reasoning) == "" {
		return models.TriageResult{}, fmt.Errorf("missing reasoning")
	}

	return models.TriageResult{
		Severity:  severity,
		Routing:   parseRouting(parsed.Routing),
		Reasoning: parsed.Reasoning,
		NextSteps: parsed.NextSteps,
		Impact:    parsed.EstimatedImpact,
		Urgency:   parsed.UrgencyScore,
	}, nil
}

func parseRouting(value string) models.Routing {
	switch models.Routing(strings.ToLower(strings.TrimSpace(value))) {
	case models.RoutingEscalate:
		return models.RoutingEscalate
	case models.RoutingAutoResolve:
		return models.RoutingAutoResolve
	default:
		return models.RoutingInvestigate
	}
}

func buildPrompt(inc models.Incident) string {
	services := "Unknown"
	if len(inc.AffectedServices) > 0 {
		services = strings.Join(inc.AffectedServices, ", ")
	}
	reported := string(inc.Severity)
	if reported == "" {
		reported = "unknown"
	}
	detectedBy := inc.Metadata["detected_by"]
	if detectedBy == "" {
		detectedBy = "Unknown"
	}

	var b strings.Builder
	b.WriteString("Analyze this incident and provide a triage assessment.\n\n")
	b.WriteString("Incident Information:\n")
	fmt.Fprintf(&b, "- Title: %s\n", inc.Title)
	fmt.Fprintf(&b, "- Description: %s\n", inc.Description)
	fmt.Fprintf(&b, "- Affected Services: %s\n", services)
	fmt.Fprintf(&b, "- Detected By: %s\n", detectedBy)
	fmt.Fprintf(&b, "- Reported Severity: %s\n\n", reported)
	b.WriteString(`Severity guidelines:
- critical: complete outage, data loss, or security breach affecting many users
- high: partial outage or significant degradation for specific user groups
- medium: degraded functionality affecting few users
- low: cosmetic or non-urgent issues

Routing guidelines:
- escalate: needs immediate human attention
- investigate: needs automated root cause analysis
- auto_resolve: simple issue with a known runbook

Respond with this JSON object:
{"severity": "critical|high|medium|low", "routing": "escalate|investigate|auto_resolve", "reasoning": "...", "next_steps": ["..."], "estimated_impact": "...", "urgency_score": 5}`)
	return b.String()
}
