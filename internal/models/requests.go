package models

import "time"

// IncidentReport is the inbound payload that opens (or re-delivers) an incident.
type IncidentReport struct {
	IncidentID       string
	Title            string
	Description      string
	Severity         Severity
	AffectedServices []string
	Metadata         map[string]string
	ReportedAt       time.Time
}

// DecisionRequest records a human verdict for an approval.
type DecisionRequest struct {
	ApprovalID string
	Decision   Decision
	Approver   string
	Comments   string
}

// ProcessResult is the structured response of every orchestration entry point.
// StatusCode follows HTTP semantics: 200 success, 400 invalid input, 404 unknown, 409 conflict, 500 internal.
type ProcessResult struct {
	StatusCode int
	IncidentID string
	Status     Status
	Severity   Severity
	Routing    Routing
	ApprovalID string
	Message    string
	Incident   *Incident
}
