package models

import (
	"strings"
	"time"
)

// Severity captures impact levels.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity normalises a severity string. Unknown values report ok=false.
func ParseSeverity(value string) (Severity, bool) {
	switch Severity(strings.ToLower(strings.TrimSpace(value))) {
	case SeverityLow:
		return SeverityLow, true
	case SeverityMedium:
		return SeverityMedium, true
	case SeverityHigh:
		return SeverityHigh, true
	case SeverityCritical:
		return SeverityCritical, true
	default:
		return "", false
	}
}

// Status is the lifecycle state of an incident.
type Status string

const (
	StatusOpen            Status = "open"
	StatusTriaged         Status = "triaged"
	StatusInvestigating   Status = "investigating"
	StatusPendingApproval Status = "pending_approval"
	StatusExecuting       Status = "executing"
	StatusVerifying       Status = "verifying"
	StatusResolved        Status = "resolved"
	StatusMonitoring      Status = "monitoring"
	StatusEscalated       Status = "escalated"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusEscalated
}

// Routing is the triage decision on how to handle an incident.
type Routing string

const (
	RoutingEscalate    Routing = "escalate"
	RoutingInvestigate Routing = "investigate"
	RoutingAutoResolve Routing = "auto_resolve"
)

// Timeline event kinds.
const (
	EventIncidentCreated       = "incident_created"
	EventTriageCompleted       = "triage_completed"
	EventInvestigationStarted  = "investigation_started"
	EventRootCauseCompleted    = "root_cause_analysis_completed"
	EventApprovalRequested     = "approval_requested"
	EventApprovalApproved      = "approval_approved"
	EventApprovalRejected      = "approval_rejected"
	EventRemediationStarted    = "remediation_started"
	EventRemediationExecuted   = "remediation_executed"
	EventVerificationStarted   = "verification_started"
	EventResolutionVerified    = "resolution_verified"
	EventVerificationUncertain = "verification_uncertain"
	EventIncidentEscalated     = "incident_escalated"
)

// TimelineEvent is one entry of an incident's audit trail.
type TimelineEvent struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Actor     string         `json:"actor"`
	Status    Status         `json:"status,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Incident is a tracked operational problem.
type Incident struct {
	ID               string            `json:"incident_id"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Severity         Severity          `json:"severity"`
	Status           Status            `json:"status"`
	Timeline         []TimelineEvent   `json:"timeline"`
	AffectedServices []string          `json:"affected_services"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Version          int64             `json:"version"`

	Triage        *TriageResult        `json:"triage,omitempty"`
	Investigation *InvestigationRecord `json:"investigation,omitempty"`
	Plan          *RemediationPlan     `json:"remediation_plan,omitempty"`
	Risk          Risk                 `json:"risk_level,omitempty"`
	ApprovalID    string               `json:"approval_id,omitempty"`
	Executions    []ExecutionResult    `json:"executions,omitempty"`
	Verifications []VerificationResult `json:"verifications,omitempty"`
	Escalation    *EscalationRecord    `json:"escalation,omitempty"`
}

// Clone returns a deep-enough copy for safe mutation by store implementations.
func (i Incident) Clone() Incident {
	out := i
	out.Timeline = append([]TimelineEvent(nil), i.Timeline...)
	out.AffectedServices = append([]string(nil), i.AffectedServices...)
	if i.Metadata != nil {
		out.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Executions = append([]ExecutionResult(nil), i.Executions...)
	out.Verifications = append([]VerificationResult(nil), i.Verifications...)
	return out
}

// LastExecution returns the most recent execution attempt, if any.
func (i Incident) LastExecution() (ExecutionResult, bool) {
	if len(i.Executions) == 0 {
		return ExecutionResult{}, false
	}
	return i.Executions[len(i.Executions)-1], true
}

// LastVerification returns the most recent verification, if any.
func (i Incident) LastVerification() (VerificationResult, bool) {
	if len(i.Verifications) == 0 {
		return VerificationResult{}, false
	}
	return i.Verifications[len(i.Verifications)-1], true
}

// IncidentFilter narrows incident queries.
type IncidentFilter struct {
	Statuses      []Status
	Severity      Severity
	Service       string
	UpdatedBefore time.Time
	Limit         int
}

// Matches reports whether inc satisfies the filter.
func (f IncidentFilter) Matches(inc Incident) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if inc.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Severity != "" && inc.Severity != f.Severity {
		return false
	}
	if f.Service != "" {
		ok := false
		for _, s := range inc.AffectedServices {
			if strings.EqualFold(s, f.Service) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.UpdatedBefore.IsZero() && !inc.UpdatedAt.Before(f.UpdatedBefore) {
		return false
	}
	return true
}

// TriageResult is the severity and routing assigned at triage.
type TriageResult struct {
	Severity  Severity `json:"severity"`
	Routing   Routing  `json:"routing"`
	Reasoning string   `json:"reasoning"`
	NextSteps []string `json:"next_steps,omitempty"`

	// Impact and Urgency are advisory; routing never depends on them.
	Impact   string `json:"estimated_impact,omitempty"`
	Urgency  int    `json:"urgency_score,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

// EscalationRecord captures a hand-off to human operators.
type EscalationRecord struct {
	ID              string          `json:"escalation_id"`
	Level           int             `json:"escalation_level"`
	Reason          string          `json:"reason"`
	Channels        map[string]bool `json:"notifications"`
	RequiredActions []string        `json:"action_required"`
	CreatedAt       time.Time       `json:"created_at"`
}
