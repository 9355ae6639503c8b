package remediation

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-incident/internal/models"
)

// RuleEngine selects canned runbook plans for incidents routed to auto-resolution.
// Only low-risk runbooks are ever returned.
type RuleEngine struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	runbooks []Runbook
	fallback *RunbookPlan
}

// Runbook is a single canned plan guarded by match conditions.
type Runbook struct {
	ID    string       `yaml:"id"`
	Match RunbookMatch `yaml:"match"`
	Plan  RunbookPlan  `yaml:"plan"`
}

// RunbookMatch defines optional attributes for runbook matching.
type RunbookMatch struct {
	Service       string   `yaml:"service"`
	Severity      string   `yaml:"severity"`
	TitleContains []string `yaml:"title_contains"`
}

// RunbookAction is the YAML form of a plan action.
type RunbookAction struct {
	Action     string `yaml:"action"`
	Command    string `yaml:"command"`
	Risk       string `yaml:"risk"`
	Reversible *bool  `yaml:"reversible"`
	Critical   bool   `yaml:"critical"`
}

// RunbookPlan is the YAML form of a remediation plan.
type RunbookPlan struct {
	ImmediateActions   []RunbookAction `yaml:"immediate_actions"`
	CorrectiveActions  []RunbookAction `yaml:"corrective_actions"`
	PreventiveMeasures []string        `yaml:"preventive_measures"`
	SuccessCriteria    []string        `yaml:"success_criteria"`
	EstimatedDuration  string          `yaml:"estimated_duration"`
}

// RunbookFile is the YAML root structure.
type RunbookFile struct {
	Runbooks []Runbook    `yaml:"runbooks"`
	Default  *RunbookPlan `yaml:"default"`
}

// DefaultRunbookID names the built-in plan used when no runbook matches.
const DefaultRunbookID = "builtin-diagnostics"

// NewRuleEngine loads runbooks from path. A missing file yields an engine that only knows the built-in plan.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	engine := &RuleEngine{path: path, logger: logger}
	if err := engine.Reload(); err != nil {
		return nil, err
	}
	return engine, nil
}

// Path returns the runbook file backing the engine.
func (e *RuleEngine) Path() string {
	if e == nil {
		return ""
	}
	return e.path
}

// Reload re-reads the runbook file. On error the previous runbooks stay active.
func (e *RuleEngine) Reload() error {
	if e.path == "" {
		return nil
	}
	data, err := os.ReadFile(e.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("runbook file not found, using built-in plan", slog.String("path", e.path))
			return nil
		}
		return err
	}
	var file RunbookFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse runbooks: %w", err)
	}

	accepted := make([]Runbook, 0, len(file.Runbooks))
	for _, rb := range file.Runbooks {
		if risk := AssessRisk(rb.Plan.toPlan("")); risk != models.RiskLow {
			e.logger.Warn("runbook ignored, auto-resolution requires low risk",
				slog.String("runbook", rb.ID),
				slog.String("risk", string(risk)),
			)
			continue
		}
		accepted = append(accepted, rb)
	}
	if file.Default != nil && AssessRisk(file.Default.toPlan("")) != models.RiskLow {
		e.logger.Warn("default runbook ignored, auto-resolution requires low risk")
		file.Default = nil
	}

	e.mu.Lock()
	e.runbooks = accepted
	e.fallback = file.Default
	e.mu.Unlock()
	e.logger.Info("runbooks loaded", slog.String("path", e.path), slog.Int("count", len(accepted)))
	return nil
}

// Match returns the first runbook plan matching inc together with its ID.
func (e *RuleEngine) Match(inc models.Incident) (models.RemediationPlan, string) {
	service := firstService(inc)
	if e == nil {
		return builtinPlan(service), DefaultRunbookID
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, rb := range e.runbooks {
		if rb.Match.Service != "" && !serviceMatches(rb.Match.Service, inc.AffectedServices) {
			continue
		}
		if rb.Match.Severity != "" && !strings.EqualFold(rb.Match.Severity, string(inc.Severity)) {
			continue
		}
		if len(rb.Match.TitleContains) > 0 && !textContains(inc.Title+" "+inc.Description, rb.Match.TitleContains) {
			continue
		}
		return rb.Plan.toPlan(service), rb.ID
	}
	if e.fallback != nil {
		return e.fallback.toPlan(service), "default"
	}
	return builtinPlan(service), DefaultRunbookID
}

func (p RunbookPlan) toPlan(service string) models.RemediationPlan {
	return models.RemediationPlan{
		ImmediateActions:   convertRunbookActions(p.ImmediateActions, service),
		CorrectiveActions:  convertRunbookActions(p.CorrectiveActions, service),
		PreventiveMeasures: append([]string(nil), p.PreventiveMeasures...),
		SuccessCriteria:    append([]string(nil), p.SuccessCriteria...),
		EstimatedDuration:  p.EstimatedDuration,
		Source:             SourceRunbook,
	}
}

func convertRunbookActions(in []RunbookAction, service string) []models.Action {
	out := make([]models.Action, 0, len(in))
	for _, a := range in {
		reversible := true
		if a.Reversible != nil {
			reversible = *a.Reversible
		}
		out = append(out, models.Action{
			Description: a.Action,
			Command:     strings.ReplaceAll(a.Command, "{{service}}", service),
			Risk:        models.ParseRisk(a.Risk),
			Reversible:  reversible,
			Critical:    a.Critical,
		})
	}
	return out
}

func builtinPlan(service string) models.RemediationPlan {
	return models.RemediationPlan{
		ImmediateActions: []models.Action{{
			Description: "Collect diagnostics snapshot",
			Command:     "diagnostics " + service,
			Risk:        models.RiskLow,
			Reversible:  true,
		}},
		CorrectiveActions:  []models.Action{},
		PreventiveMeasures: []string{"Review incident for patterns"},
		SuccessCriteria:    []string{"Issue resolved"},
		EstimatedDuration:  "5 minutes",
		Source:             SourceRunbook,
	}
}

func firstService(inc models.Incident) string {
	for _, s := range inc.AffectedServices {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return "unknown-service"
}

func serviceMatches(service string, services []string) bool {
	for _, s := range services {
		if strings.EqualFold(service, s) {
			return true
		}
	}
	return false
}

func textContains(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
