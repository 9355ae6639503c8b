package models

import (
	"strings"
	"time"
)

// Risk grades a remediation action or plan.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// ParseRisk maps free text onto a Risk. Unknown or empty values grade as medium.
func ParseRisk(value string) Risk {
	switch Risk(strings.ToLower(strings.TrimSpace(value))) {
	case RiskLow:
		return RiskLow
	case RiskHigh:
		return RiskHigh
	case RiskCritical:
		return RiskCritical
	default:
		return RiskMedium
	}
}

// RequiresApproval reports whether the risk must pass the approval gate.
func (r Risk) RequiresApproval() bool {
	return r == RiskHigh || r == RiskCritical
}

// Phase identifies which list of a plan an action belongs to.
type Phase string

const (
	PhaseImmediate  Phase = "immediate"
	PhaseCorrective Phase = "corrective"
)

// Action is one remediation step.
type Action struct {
	Description string `json:"action"`
	Command     string `json:"command"`
	Risk        Risk   `json:"risk"`
	Reversible  bool   `json:"reversible"`
	Critical    bool   `json:"critical,omitempty"`
}

// RemediationPlan is the set of actions proposed for an incident.
type RemediationPlan struct {
	ImmediateActions   []Action `json:"immediate_actions"`
	CorrectiveActions  []Action `json:"corrective_actions"`
	PreventiveMeasures []string `json:"preventive_measures"`
	SuccessCriteria    []string `json:"success_criteria"`
	EstimatedDuration  string   `json:"estimated_duration"`
	Source             string   `json:"source,omitempty"`
}

// Actions returns immediate followed by corrective actions.
func (p RemediationPlan) Actions() []Action {
	out := make([]Action, 0, len(p.ImmediateActions)+len(p.CorrectiveActions))
	out = append(out, p.ImmediateActions...)
	return append(out, p.CorrectiveActions...)
}

// ExecutionStatus is the overall outcome of an execution attempt.
type ExecutionStatus string

const (
	ExecutionSuccess        ExecutionStatus = "success"
	ExecutionPartialSuccess ExecutionStatus = "partial_success"
	ExecutionFailed         ExecutionStatus = "failed"
	ExecutionAborted        ExecutionStatus = "aborted"
	ExecutionBlocked        ExecutionStatus = "blocked"
)

// ActionOutcome records what happened to one action.
type ActionOutcome struct {
	Action   string        `json:"action"`
	Command  string        `json:"command"`
	Phase    Phase         `json:"phase"`
	Success  bool          `json:"success"`
	Skipped  bool          `json:"skipped,omitempty"`
	Output   string        `json:"output,omitempty"`
	Error    string        `json:"error,omitempty"`
	Runner   string        `json:"runner,omitempty"`
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// ExecutionResult is the record of one execution attempt. Retries produce new records.
type ExecutionResult struct {
	ExecutionID   string          `json:"execution_id"`
	IncidentID    string          `json:"incident_id"`
	ApprovalID    string          `json:"approval_id,omitempty"`
	Actions       []ActionOutcome `json:"actions"`
	FailedActions []string        `json:"failed_actions"`
	Status        ExecutionStatus `json:"status"`
	Message       string          `json:"message,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// Executed counts the outcomes that actually ran.
func (r ExecutionResult) Executed() int {
	n := 0
	for _, a := range r.Actions {
		if !a.Skipped {
			n++
		}
	}
	return n
}
