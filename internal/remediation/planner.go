// Package remediation plans, grades and executes remediation actions.
package remediation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/reasoner"
)

// Plan sources.
const (
	SourceReasoner = "reasoner"
	SourceRunbook  = "runbook"
	SourceFallback = "fallback"
)

// Planner proposes remediation plans.
type Planner struct {
	reasoner reasoner.Reasoner
	runbooks *RuleEngine
	logger   *slog.Logger
}

// NewPlanner constructs a Planner. runbooks may be nil.
func NewPlanner(r reasoner.Reasoner, runbooks *RuleEngine, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{reasoner: r, runbooks: runbooks, logger: logger}
}

type planAction struct {
	Action     string `json:"action"`
	Command    string `json:"command"`
	Risk       string `json:"risk"`
	Reversible *bool  `json:"reversible"`
	Critical   bool   `json:"critical"`
}

type planDocument struct {
	ImmediateActions   []planAction `json:"immediate_actions"`
	CorrectiveActions  []planAction `json:"corrective_actions"`
	PreventiveMeasures []string     `json:"preventive_measures"`
	SuccessCriteria    []string     `json:"success_criteria"`
	EstimatedDuration  string       `json:"estimated_duration"`
}

// Plan asks the reasoner for a plan addressing the investigation's findings.
// Reasoner failures and unusable output produce FallbackPlan.
func (p *Planner) Plan(ctx context.Context, inc models.Incident, record *models.InvestigationRecord) models.RemediationPlan {
	if p.reasoner == nil {
		return FallbackPlan()
	}
	raw, err := p.reasoner.Respond(ctx, reasoner.Prompt{User: planPrompt(inc, record), MaxTokens: 2000, Temperature: 0.4})
	if err != nil {
		p.logger.Warn("remediation planning failed", slog.String("incident_id", inc.ID), slog.Any("error", err))
		return FallbackPlan()
	}
	plan, err := ParsePlan(raw)
	if err != nil {
		p.logger.Warn("unparsable remediation plan", slog.String("incident_id", inc.ID), slog.Any("error", err))
		return FallbackPlan()
	}
	return plan
}

// Canned returns the runbook plan for an incident routed to auto-resolution.
func (p *Planner) Canned(inc models.Incident) models.RemediationPlan {
	plan, id := p.runbooks.Match(inc)
	p.logger.Info("runbook selected", slog.String("incident_id", inc.ID), slog.String("runbook", id))
	return plan
}

// ParsePlan extracts a plan from reasoner output. Missing risk grades become medium and a missing
// reversible flag is taken as reversible.
func ParsePlan(raw string) (models.RemediationPlan, error) {
	var doc planDocument
	if err := reasoner.ExtractJSON(raw, &doc); err != nil {
		return models.RemediationPlan{}, err
	}
	plan := models.RemediationPlan{
		ImmediateActions:   convertActions(doc.ImmediateActions),
		CorrectiveActions:  convertActions(doc.CorrectiveActions),
		PreventiveMeasures: doc.PreventiveMeasures,
		SuccessCriteria:    doc.SuccessCriteria,
		EstimatedDuration:  doc.EstimatedDuration,
		Source:             SourceReasoner,
	}
	if len(plan.ImmediateActions)+len(plan.CorrectiveActions) == 0 {
		return models.RemediationPlan{}, fmt.Errorf("plan has no actions")
	}
	return plan, nil
}

// FallbackPlan hands the incident to a human.
func FallbackPlan() models.RemediationPlan {
	return models.RemediationPlan{
		ImmediateActions: []models.Action{{
			Description: "Manual intervention required",
			Command:     "N/A",
			Risk:        models.RiskHigh,
			Reversible:  false,
		}},
		CorrectiveActions:  []models.Action{},
		PreventiveMeasures: []string{"Review incident for patterns"},
		SuccessCriteria:    []string{"Issue resolved"},
		EstimatedDuration:  "Unknown",
		Source:             SourceFallback,
	}
}

func convertActions(in []planAction) []models.Action {
	out := make([]models.Action, 0, len(in))
	for _, a := range in {
		if strings.TrimSpace(a.Action) == "" && strings.TrimSpace(a.Command) == "" {
			continue
		}
		reversible := true
		if a.Reversible != nil {
			reversible = *a.Reversible
		}
		out = append(out, models.Action{
			Description: a.Action,
			Command:     a.Command,
			Risk:        models.ParseRisk(a.Risk),
			Reversible:  reversible,
			Critical:    a.Critical,
		})
	}
	return out
}

func planPrompt(inc models.Incident, record *models.InvestigationRecord) string {
	findings := "{}"
	if record != nil {
		data, err := json.MarshalIndent(map[string]any{
			"root_cause":           record.RootCause,
			"confidence":           record.Confidence,
			"evidence":             record.Evidence,
			"contributing_factors": record.ContributingFactors,
			"recommendations":      record.Recommendations,
		}, "", "  ")
		if err == nil {
			findings = string(data)
		}
	}

	var b strings.Builder
	b.WriteString("Generate a detailed remediation plan for this incident.\n\n")
	fmt.Fprintf(&b, "Incident:\n- Title: %s\n- Description: %s\n- Severity: %s\n- Affected Services: %s\n\n",
		inc.Title, inc.Description, inc.Severity, strings.Join(inc.AffectedServices, ", "))
	fmt.Fprintf(&b, "Root cause analysis:\n%s\n\n", findings)
	b.WriteString(`Create a plan with immediate actions (stop the bleeding), corrective actions (fix the root cause)
and preventive measures (avoid recurrence). Supported commands: "docker restart <container>",
"webhook <operation> <args>", "diagnostics <service>".

Reply with JSON:
{"immediate_actions": [{"action": "...", "command": "...", "risk": "low|medium|high", "reversible": true, "critical": false}],
 "corrective_actions": [...], "preventive_measures": ["..."], "estimated_duration": "...",
 "success_criteria": ["cpu < 70", "..."]}`)
	return b.String()
}
