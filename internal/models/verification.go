package models

import "time"

// CheckName identifies a post-remediation check.
type CheckName string

const (
	CheckMetrics         CheckName = "metrics"
	CheckErrorLogs       CheckName = "error_logs"
	CheckServiceHealth   CheckName = "service_health"
	CheckSuccessCriteria CheckName = "success_criteria"
)

// CheckResult is the outcome of one verification check.
type CheckResult struct {
	Passed  bool           `json:"passed"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// VerificationResult is the post-remediation resolution assessment.
type VerificationResult struct {
	IncidentID     string                    `json:"incident_id"`
	Checks         map[CheckName]CheckResult `json:"checks"`
	PassedChecks   int                       `json:"passed_checks"`
	TotalChecks    int                       `json:"total_checks"`
	Confidence     float64                   `json:"confidence"`
	Verified       bool                      `json:"verified"`
	Summary        string                    `json:"summary"`
	Recommendation string                    `json:"recommendation"`
	CheckedAt      time.Time                 `json:"checked_at"`
}
