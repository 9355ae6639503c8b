package notify

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-incident/internal/models"
)

type recordingNotifier struct {
	fail map[string]bool
	sent []string
	msgs []Message
}

func (r *recordingNotifier) Send(_ context.Context, channel string, msg Message) error {
	if r.fail[channel] {
		return errors.New("smtp down")
	}
	r.sent = append(r.sent, channel)
	r.msgs = append(r.msgs, msg)
	return nil
}

type fakePublisher struct {
	subjects []string
	payloads [][]byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return nil
}

func fixedClock() time.Time { return time.Unix(1_700_000_000, 0).UTC() }

func TestEscalationLevelsAndChannels(t *testing.T) {
	cases := []struct {
		severity models.Severity
		level    int
		channels []string
	}{
		{models.SeverityCritical, 1, []string{ChannelBroadcast, ChannelEmail, ChannelChat, ChannelPager}},
		{models.SeverityHigh, 2, []string{ChannelBroadcast, ChannelEmail}},
		{models.SeverityMedium, 3, []string{ChannelEmail}},
		{models.SeverityLow, 4, nil},
	}
	for _, tc := range cases {
		t.Run(string(tc.severity), func(t *testing.T) {
			rec := &recordingNotifier{}
			esc := NewEscalator(NewDispatcher(rec, nil, time.Second, nil), fixedClock, nil)
			record := esc.Escalate(context.Background(), models.Incident{ID: "INC-1", Severity: tc.severity, Title: "db down"}, "")

			if record.Level != tc.level {
				t.Fatalf("expected level %d, got %d", tc.level, record.Level)
			}
			if strings.Join(rec.sent, ",") != strings.Join(tc.channels, ",") {
				t.Fatalf("expected channels %v, got %v", tc.channels, rec.sent)
			}
			for _, ch := range tc.channels {
				if !record.Channels[ch] {
					t.Fatalf("channel %s not marked delivered", ch)
				}
			}
			if record.ID != "ESC-1700000000" {
				t.Fatalf("unexpected escalation id %s", record.ID)
			}
			if record.Reason != DefaultEscalationReason {
				t.Fatalf("unexpected reason %q", record.Reason)
			}
		})
	}
}

func TestRequiredActions(t *testing.T) {
	got := RequiredActions(models.SeverityCritical)
	if len(got) != 4 || got[0] != "Immediate response required within 15 minutes" {
		t.Fatalf("unexpected critical actions %v", got)
	}
	got[0] = "mutated"
	if RequiredActions(models.SeverityCritical)[0] == "mutated" {
		t.Fatalf("RequiredActions must return a copy")
	}
	if low := RequiredActions(models.SeverityLow); len(low) != 2 || low[1] != "Document in ticketing system" {
		t.Fatalf("unexpected low actions %v", low)
	}
}

func TestDispatcherIsBestEffort(t *testing.T) {
	rec := &recordingNotifier{fail: map[string]bool{ChannelEmail: true}}
	pager := &recordingNotifier{}
	d := NewDispatcher(rec, map[string]Notifier{ChannelPager: pager}, time.Second, nil)

	delivered := d.Dispatch(context.Background(), []string{ChannelEmail, ChannelChat, ChannelPager}, Message{IncidentID: "INC-1"})
	if delivered[ChannelEmail] || !delivered[ChannelChat] || !delivered[ChannelPager] {
		t.Fatalf("unexpected delivery map %v", delivered)
	}
	if len(pager.sent) != 1 || len(rec.sent) != 1 {
		t.Fatalf("routing mismatch: fallback=%v pager=%v", rec.sent, pager.sent)
	}
}

func TestNATSNotifierPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	n := NewNATSNotifierWithPublisher(pub, "")
	msg := Message{Kind: "escalation", IncidentID: "INC-9", Subject: "hi"}
	if err := n.Send(context.Background(), ChannelPager, msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(pub.subjects) != 1 || pub.subjects[0] != "incidents.notify.pager" {
		t.Fatalf("unexpected subjects %v", pub.subjects)
	}
	var decoded Message
	if err := json.Unmarshal(pub.payloads[0], &decoded); err != nil || decoded.IncidentID != "INC-9" {
		t.Fatalf("unexpected payload %s (err=%v)", pub.payloads[0], err)
	}
}

func TestEscalationBody(t *testing.T) {
	inc := models.Incident{
		ID:               "INC-7",
		Title:            "Checkout errors",
		Severity:         models.SeverityHigh,
		AffectedServices: []string{"checkout", "payments"},
		Metadata:         map[string]string{"detected_by": "alertmanager"},
	}
	body := EscalationBody(inc, models.EscalationRecord{ID: "ESC-1", Reason: "execution failed", RequiredActions: RequiredActions(models.SeverityHigh)})
	for _, want := range []string{"INCIDENT ESCALATION - HIGH", "Affected Services: checkout, payments", "Detected By: alertmanager", "- Response required within 1 hour"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body missing %q:\n%s", want, body)
		}
	}
}

func TestApprovalRequestedMessage(t *testing.T) {
	a := models.Approval{
		ID:        "APPR-1234ABCD",
		Risk:      models.RiskHigh,
		ExpiresAt: fixedClock().Add(24 * time.Hour),
		Plan: models.RemediationPlan{ImmediateActions: []models.Action{
			{Description: "Restart checkout", Risk: models.RiskHigh},
		}},
	}
	msg := ApprovalRequested(models.Incident{ID: "INC-3", Title: "latency"}, a)
	if msg.Fields["approval_id"] != "APPR-1234ABCD" {
		t.Fatalf("unexpected fields %v", msg.Fields)
	}
	if !regexp.MustCompile(`- Restart checkout \(high risk\)`).MatchString(msg.Body) {
		t.Fatalf("unexpected body %q", msg.Body)
	}
}
