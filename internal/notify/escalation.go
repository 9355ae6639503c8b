package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// DefaultEscalationReason is used when the caller gives none.
const DefaultEscalationReason = "Automatic escalation based on severity"

var levels = map[models.Severity]int{
	models.SeverityCritical: 1,
	models.SeverityHigh:     2,
	models.SeverityMedium:   3,
	models.SeverityLow:      4,
}

var channelsByLevel = map[int][]string{
	1: {ChannelBroadcast, ChannelEmail, ChannelChat, ChannelPager},
	2: {ChannelBroadcast, ChannelEmail},
	3: {ChannelEmail},
}

var requiredActions = map[models.Severity][]string{
	models.SeverityCritical: {
		"Immediate response required within 15 minutes",
		"Notify all on-call team members",
		"Begin manual remediation",
		"Prepare incident report",
	},
	models.SeverityHigh: {
		"Response required within 1 hour",
		"Notify primary on-call engineer",
		"Review automated attempts",
		"Implement manual fix if needed",
	},
	models.SeverityMedium: {
		"Response required within 4 hours",
		"Review incident details",
		"Plan remediation approach",
	},
	models.SeverityLow: {
		"Review when available",
		"Document in ticketing system",
	},
}

// Level maps a severity onto an escalation level; unknown severities escalate at level 3.
func Level(severity models.Severity) int {
	if l, ok := levels[severity]; ok {
		return l
	}
	return 3
}

// RequiredActions lists what responders must do for an incident of the given severity.
func RequiredActions(severity models.Severity) []string {
	actions, ok := requiredActions[severity]
	if !ok {
		actions = requiredActions[models.SeverityMedium]
	}
	return append([]string(nil), actions...)
}

// Escalator hands incidents to human operators.
type Escalator struct {
	dispatcher *Dispatcher
	clock      utils.Clock
	logger     *slog.Logger
}

// NewEscalator constructs an escalator.
func NewEscalator(dispatcher *Dispatcher, clock utils.Clock, logger *slog.Logger) *Escalator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Escalator{dispatcher: dispatcher, clock: clock, logger: logger}
}

// Escalate notifies the channels of the incident's level and returns the escalation record.
// Level 4 incidents are logged only.
func (e *Escalator) Escalate(ctx context.Context, inc models.Incident, reason string) models.EscalationRecord {
	if strings.TrimSpace(reason) == "" {
		reason = DefaultEscalationReason
	}
	now := e.clock.Now()
	level := Level(inc.Severity)
	record := models.EscalationRecord{
		ID:              utils.NewEscalationID(now),
		Level:           level,
		Reason:          reason,
		Channels:        map[string]bool{ChannelBroadcast: false, ChannelEmail: false, ChannelChat: false, ChannelPager: false},
		RequiredActions: RequiredActions(inc.Severity),
		CreatedAt:       now,
	}

	channels := channelsByLevel[level]
	if len(channels) == 0 {
		e.logger.Info("low priority escalation logged only",
			slog.String("incident_id", inc.ID),
			slog.String("escalation_id", record.ID),
			slog.String("reason", reason),
		)
		return record
	}

	msg := Message{
		Kind:       "escalation",
		IncidentID: inc.ID,
		Severity:   string(inc.Severity),
		Subject:    fmt.Sprintf("ESCALATION: %s [%s]", orDefault(inc.Title, "Incident"), inc.ID),
		Body:       EscalationBody(inc, record),
		Fields: map[string]any{
			"escalation_id":    record.ID,
			"escalation_level": level,
			"reason":           reason,
			"action_required":  record.RequiredActions,
		},
		Timestamp: now,
	}
	if e.dispatcher != nil {
		for channel, ok := range e.dispatcher.Dispatch(ctx, channels, msg) {
			record.Channels[channel] = ok
		}
	}

	e.logger.Warn("incident escalated",
		slog.String("incident_id", inc.ID),
		slog.String("escalation_id", record.ID),
		slog.Int("level", level),
		slog.String("reason", reason),
	)
	return record
}

// EscalationBody renders the plain-text notification body.
func EscalationBody(inc models.Incident, record models.EscalationRecord) string {
	severity := strings.ToUpper(orDefault(string(inc.Severity), "medium"))
	services := "Unknown"
	if len(inc.AffectedServices) > 0 {
		services = strings.Join(inc.AffectedServices, ", ")
	}
	detectedBy := "System"
	if v := inc.Metadata["detected_by"]; v != "" {
		detectedBy = v
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INCIDENT ESCALATION - %s\n\n", severity)
	fmt.Fprintf(&b, "Escalation ID: %s\n", record.ID)
	fmt.Fprintf(&b, "Incident ID: %s\n\n", inc.ID)
	fmt.Fprintf(&b, "Title: %s\n", orDefault(inc.Title, "Unknown"))
	fmt.Fprintf(&b, "Description: %s\n\n", orDefault(inc.Description, "No description"))
	fmt.Fprintf(&b, "Severity: %s\n", severity)
	fmt.Fprintf(&b, "Affected Services: %s\n", services)
	fmt.Fprintf(&b, "Detected By: %s\n", detectedBy)
	fmt.Fprintf(&b, "Reason: %s\n\n", record.Reason)
	b.WriteString("Action Required:\n")
	for _, a := range record.RequiredActions {
		fmt.Fprintf(&b, "- %s\n", a)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ApprovalRequested builds the message announcing a pending approval.
func ApprovalRequested(inc models.Incident, a models.Approval) Message {
	actions := a.Plan.Actions()
	lines := make([]string, 0, len(actions))
	for _, act := range actions {
		lines = append(lines, fmt.Sprintf("- %s (%s risk)", act.Description, act.Risk))
	}
	body := fmt.Sprintf("Approval %s requested for a %s risk remediation plan.\nExpires at %s.\n\n%s",
		a.ID, a.Risk, a.ExpiresAt.Format("2006-01-02 15:04:05 UTC"), strings.Join(lines, "\n"))
	return Message{
		Kind:       "approval_requested",
		IncidentID: inc.ID,
		Severity:   string(inc.Severity),
		Subject:    fmt.Sprintf("APPROVAL REQUIRED: %s [%s]", orDefault(inc.Title, "Incident"), inc.ID),
		Body:       body,
		Fields: map[string]any{
			"approval_id": a.ID,
			"risk_level":  string(a.Risk),
			"expires_at":  a.ExpiresAt,
		},
		Timestamp: a.CreatedAt,
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
