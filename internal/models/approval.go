package models

import "time"

// ApprovalStatus is the decision state of an approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is a human checkpoint in front of a high-risk plan.
type Approval struct {
	ID          string          `json:"approval_id"`
	IncidentID  string          `json:"incident_id"`
	Plan        RemediationPlan `json:"plan"`
	Risk        Risk            `json:"risk_level"`
	Status      ApprovalStatus  `json:"status"`
	RequestedBy string          `json:"requested_by"`
	Approver    string          `json:"approver,omitempty"`
	Comments    string          `json:"comments,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
	DecidedAt   time.Time       `json:"decided_at,omitempty"`
}

// Expired reports whether the approval is past its time-to-live at now.
func (a Approval) Expired(now time.Time) bool {
	return !a.ExpiresAt.IsZero() && !now.Before(a.ExpiresAt)
}

// Decision is a human verdict on a pending approval.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Status maps a decision onto the resulting approval status.
func (d Decision) Status() (ApprovalStatus, bool) {
	switch d {
	case DecisionApprove, Decision(ApprovalApproved):
		return ApprovalApproved, true
	case DecisionReject, Decision(ApprovalRejected):
		return ApprovalRejected, true
	default:
		return "", false
	}
}
