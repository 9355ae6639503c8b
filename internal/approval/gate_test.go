package approval

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/miradorstack/mirador-incident/internal/db"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func stores(t *testing.T) map[string]Store {
	t.Helper()
	conn, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "approvals.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return map[string]Store{"memory": NewMemoryStore(), "sqlite": NewSQLiteStore(conn)}
}

func highRiskPlan() models.RemediationPlan {
	return models.RemediationPlan{
		ImmediateActions: []models.Action{{Description: "restart checkout", Command: "docker restart checkout", Risk: models.RiskHigh, Reversible: true}},
	}
}

var approvalID = regexp.MustCompile(`^APPR-[0-9A-F]{8}$`)

func TestSubmitLowRiskNeedsNoApproval(t *testing.T) {
	clock := &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
	gate := NewGate(NewMemoryStore(), 0, "", clock.Now, nil)
	_, required, err := gate.Submit(context.Background(), models.Incident{ID: "INC-1"}, highRiskPlan(), models.RiskMedium)
	if err != nil || required {
		t.Fatalf("medium risk must not require approval: required=%v err=%v", required, err)
	}
}

func TestApprovalLifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			clock := &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
			gate := NewGate(store, time.Hour, "", clock.Now, nil)
			inc := models.Incident{ID: "INC-1"}

			a, required, err := gate.Submit(ctx, inc, highRiskPlan(), models.RiskHigh)
			if err != nil || !required {
				t.Fatalf("submit: required=%v err=%v", required, err)
			}
			if !approvalID.MatchString(a.ID) {
				t.Fatalf("unexpected approval id %q", a.ID)
			}
			if !a.ExpiresAt.Equal(clock.now.Add(time.Hour)) {
				t.Fatalf("unexpected expiry %v", a.ExpiresAt)
			}

			again, _, err := gate.Submit(ctx, inc, highRiskPlan(), models.RiskHigh)
			if err != nil || again.ID != a.ID {
				t.Fatalf("re-submission must return pending approval %s, got %s (err=%v)", a.ID, again.ID, err)
			}

			if ok, _ := gate.Verify(ctx, a.ID); ok {
				t.Fatalf("pending approval must not verify")
			}

			decided, err := gate.Decide(ctx, models.DecisionRequest{ApprovalID: a.ID, Decision: models.DecisionApprove, Approver: "alice", Comments: "go"})
			if err != nil || decided.Status != models.ApprovalApproved || decided.Approver != "alice" {
				t.Fatalf("decide: %+v err=%v", decided, err)
			}
			if ok, err := gate.Verify(ctx, a.ID); !ok || err != nil {
				t.Fatalf("approved approval must verify: ok=%v err=%v", ok, err)
			}

			if _, err := gate.Decide(ctx, models.DecisionRequest{ApprovalID: a.ID, Decision: models.DecisionReject}); !errors.Is(err, utils.ErrAlreadyProcessed) {
				t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
			}
			got, _ := gate.Get(ctx, a.ID)
			if got.Status != models.ApprovalApproved {
				t.Fatalf("second decision must not change status, got %s", got.Status)
			}

			clock.advance(2 * time.Hour)
			if ok, _ := gate.Verify(ctx, a.ID); ok {
				t.Fatalf("expired approval must not verify")
			}

			pending, _ := gate.ListPending(ctx)
			if len(pending) != 0 {
				t.Fatalf("expected no pending approvals, got %d", len(pending))
			}
		})
	}
}

func TestDecideErrors(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
	gate := NewGate(NewMemoryStore(), time.Hour, "", clock.Now, nil)

	if _, err := gate.Decide(ctx, models.DecisionRequest{ApprovalID: "APPR-NOPE0000", Decision: models.DecisionApprove}); !errors.Is(err, utils.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := gate.Decide(ctx, models.DecisionRequest{ApprovalID: "APPR-1", Decision: "maybe"}); utils.KindOf(err) != utils.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}

	a, _, _ := gate.Submit(ctx, models.Incident{ID: "INC-2"}, highRiskPlan(), models.RiskCritical)
	clock.advance(2 * time.Hour)
	expired, err := gate.Expired(ctx)
	if err != nil || len(expired) != 1 || expired[0].ID != a.ID {
		t.Fatalf("expected %s to be expired, got %+v err=%v", a.ID, expired, err)
	}
	if _, err := gate.Decide(ctx, models.DecisionRequest{ApprovalID: a.ID, Decision: models.DecisionApprove}); utils.KindOf(err) != utils.KindPolicy {
		t.Fatalf("expected policy error for expired approval, got %v", err)
	}
}

func TestRejectedApprovalDoesNotVerify(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
	gate := NewGate(NewMemoryStore(), 0, "", clock.Now, nil)
	a, _, _ := gate.Submit(ctx, models.Incident{ID: "INC-3"}, highRiskPlan(), models.RiskHigh)
	if _, err := gate.Decide(ctx, models.DecisionRequest{ApprovalID: a.ID, Decision: models.DecisionReject, Approver: "bob"}); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if ok, _ := gate.Verify(ctx, a.ID); ok {
		t.Fatalf("rejected approval must not verify")
	}
}
