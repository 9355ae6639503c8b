package api

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

type reportPayload struct {
	IncidentID       string            `json:"incident_id"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	Severity         string            `json:"severity"`
	AffectedServices []string          `json:"affected_services"`
	Metadata         map[string]string `json:"metadata"`
	ReportedAt       string            `json:"reported_at"`
}

type decisionPayload struct {
	ApprovalID string `json:"approval_id"`
	Decision   string `json:"decision"`
	Approver   string `json:"approver"`
	Comments   string `json:"comments"`
}

type incidentRef struct {
	IncidentID string `json:"incident_id"`
	Reason     string `json:"reason"`
}

type filterPayload struct {
	Statuses []string `json:"statuses"`
	Status   string   `json:"status"`
	Severity string   `json:"severity"`
	Service  string   `json:"service"`
	Limit    int      `json:"limit"`
}

// ResultPayload is the wire shape of a ProcessResult.
type ResultPayload struct {
	StatusCode int              `json:"status_code"`
	IncidentID string           `json:"incident_id,omitempty"`
	Status     string           `json:"status,omitempty"`
	Severity   string           `json:"severity,omitempty"`
	Routing    string           `json:"routing,omitempty"`
	ApprovalID string           `json:"approval_id,omitempty"`
	Message    string           `json:"message,omitempty"`
	Incident   *models.Incident `json:"incident,omitempty"`
}

// decode converts a Struct into dst through its JSON form.
func decode(in *structpb.Struct, dst any) error {
	if in == nil {
		return fmt.Errorf("request is nil")
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("invalid request: %w", err)
	}
	return nil
}

// Encode converts any JSON-serialisable value into a Struct.
func Encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return out, nil
}

// DecodeInto converts a response Struct back into a typed value.
func DecodeInto(in *structpb.Struct, dst any) error {
	return decode(in, dst)
}

// FromProtoReport maps a ProcessIncident request onto an IncidentReport. Field validation is left to the
// orchestrator so that every entry point reports it the same way.
func FromProtoReport(in *structpb.Struct) (models.IncidentReport, error) {
	var p reportPayload
	if err := decode(in, &p); err != nil {
		return models.IncidentReport{}, err
	}
	report := models.IncidentReport{
		IncidentID:       p.IncidentID,
		Title:            p.Title,
		Description:      p.Description,
		Severity:         models.Severity(strings.ToLower(strings.TrimSpace(p.Severity))),
		AffectedServices: p.AffectedServices,
		Metadata:         p.Metadata,
	}
	if p.ReportedAt != "" {
		ts, err := utils.ParseRFC3339(p.ReportedAt)
		if err != nil {
			return models.IncidentReport{}, fmt.Errorf("reported_at must be RFC3339: %w", err)
		}
		report.ReportedAt = ts
	}
	return report, nil
}

// FromProtoDecision maps a DecideApproval request.
func FromProtoDecision(in *structpb.Struct) (models.DecisionRequest, error) {
	var p decisionPayload
	if err := decode(in, &p); err != nil {
		return models.DecisionRequest{}, err
	}
	return models.DecisionRequest{
		ApprovalID: strings.TrimSpace(p.ApprovalID),
		Decision:   models.Decision(strings.ToLower(strings.TrimSpace(p.Decision))),
		Approver:   strings.TrimSpace(p.Approver),
		Comments:   p.Comments,
	}, nil
}

// FromProtoIncidentRef extracts incident_id and an optional reason.
func FromProtoIncidentRef(in *structpb.Struct) (string, string, error) {
	var p incidentRef
	if err := decode(in, &p); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(p.IncidentID), p.Reason, nil
}

// FromProtoFilter maps a ListIncidents request. status accepts a comma separated list.
func FromProtoFilter(in *structpb.Struct) (models.IncidentFilter, error) {
	var p filterPayload
	if in == nil {
		return models.IncidentFilter{}, nil
	}
	if err := decode(in, &p); err != nil {
		return models.IncidentFilter{}, err
	}
	filter := models.IncidentFilter{Service: strings.TrimSpace(p.Service), Limit: p.Limit}
	if p.Severity != "" {
		sev, ok := models.ParseSeverity(p.Severity)
		if !ok {
			return models.IncidentFilter{}, fmt.Errorf("unknown severity %q", p.Severity)
		}
		filter.Severity = sev
	}
	statuses := append([]string(nil), p.Statuses...)
	if p.Status != "" {
		statuses = append(statuses, strings.Split(p.Status, ",")...)
	}
	for _, s := range statuses {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			filter.Statuses = append(filter.Statuses, models.Status(s))
		}
	}
	if filter.Limit < 0 {
		return models.IncidentFilter{}, fmt.Errorf("limit must not be negative")
	}
	return filter, nil
}

// ToProtoResult encodes a ProcessResult.
func ToProtoResult(res models.ProcessResult) (*structpb.Struct, error) {
	return Encode(ResultPayload{
		StatusCode: res.StatusCode,
		IncidentID: res.IncidentID,
		Status:     string(res.Status),
		Severity:   string(res.Severity),
		Routing:    string(res.Routing),
		ApprovalID: res.ApprovalID,
		Message:    res.Message,
		Incident:   res.Incident,
	})
}

// ToProtoIncidents encodes a ListIncidents response.
func ToProtoIncidents(incidents []models.Incident) (*structpb.Struct, error) {
	if incidents == nil {
		incidents = []models.Incident{}
	}
	return Encode(map[string]any{"incidents": incidents, "count": len(incidents)})
}

// ToProtoApprovals encodes a ListApprovals response.
func ToProtoApprovals(approvals []models.Approval) (*structpb.Struct, error) {
	if approvals == nil {
		approvals = []models.Approval{}
	}
	return Encode(map[string]any{"approvals": approvals, "count": len(approvals)})
}
