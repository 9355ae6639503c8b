package models

import "strings"

// Confidence is a qualitative confidence grade for a root-cause conclusion.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ParseConfidence maps free text onto a Confidence, defaulting to low.
func ParseConfidence(value string) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(value))) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ToolAction is a reasoner-selected step of the investigation loop.
type ToolAction struct {
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Conclusion string         `json:"conclusion,omitempty"`
	Fallback   bool           `json:"fallback,omitempty"`
}

// Observation is a normalised tool result as seen by the investigation loop.
type Observation struct {
	Tool       string         `json:"tool"`
	Status     string         `json:"status"`
	Summary    string         `json:"summary"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	RetryAfter float64        `json:"retry_after_seconds,omitempty"`
}

// InvestigationStep is one thought/action/observation triple.
type InvestigationStep struct {
	Iteration   int          `json:"iteration"`
	Thought     string       `json:"thought"`
	Action      ToolAction   `json:"action"`
	Observation *Observation `json:"observation,omitempty"`
}

// InvestigationRecord is the immutable output of a root-cause investigation.
type InvestigationRecord struct {
	IncidentID          string                 `json:"incident_id"`
	Steps               []InvestigationStep    `json:"steps"`
	RootCause           string                 `json:"root_cause"`
	Confidence          Confidence             `json:"confidence"`
	Evidence            []string               `json:"evidence"`
	ContributingFactors []string               `json:"contributing_factors"`
	Recommendations     []string               `json:"recommendations"`
	Summary             string                 `json:"summary"`
	Iterations          int                    `json:"iterations"`
	Concluded           bool                   `json:"concluded"`
	Context             map[string]Observation `json:"gathered_data,omitempty"`
}
