package approval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// DefaultTTL bounds how long a pending approval may be decided and then used.
const DefaultTTL = 24 * time.Hour

const defaultRequester = "remediation-agent"

// Gate creates, decides and verifies approvals.
type Gate struct {
	store     Store
	ttl       time.Duration
	requester string
	clock     utils.Clock
	logger    *slog.Logger
}

// NewGate constructs a gate. A non-positive ttl selects DefaultTTL; requester names who asks for approvals.
func NewGate(store Store, ttl time.Duration, requester string, clock utils.Clock, logger *slog.Logger) *Gate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if requester == "" {
		requester = defaultRequester
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{store: store, ttl: ttl, requester: requester, clock: clock, logger: logger}
}

// Submit opens an approval when risk demands one and reports whether it did.
// Re-submitting the same plan for an incident returns the approval that is still pending.
func (g *Gate) Submit(ctx context.Context, inc models.Incident, plan models.RemediationPlan, risk models.Risk) (models.Approval, bool, error) {
	if !risk.RequiresApproval() {
		return models.Approval{}, false, nil
	}

	fp := fingerprint(plan)
	pending, err := g.store.FindPending(ctx, inc.ID)
	if err != nil {
		return models.Approval{}, true, err
	}
	for _, a := range pending {
		if fingerprint(a.Plan) == fp && a.Risk == risk {
			g.logger.Info("approval already pending", slog.String("incident_id", inc.ID), slog.String("approval_id", a.ID))
			return a, true, nil
		}
	}

	now := g.clock.Now()
	a := models.Approval{
		ID:          utils.NewApprovalID(),
		IncidentID:  inc.ID,
		Plan:        plan,
		Risk:        risk,
		Status:      models.ApprovalPending,
		RequestedBy: g.requester,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	}
	if err := g.store.Put(ctx, a); err != nil {
		return models.Approval{}, true, err
	}
	g.logger.Info("approval requested",
		slog.String("incident_id", inc.ID),
		slog.String("approval_id", a.ID),
		slog.String("risk", string(risk)),
		slog.Time("expires_at", a.ExpiresAt),
	)
	return a, true, nil
}

// Decide records a one-shot verdict. Expired approvals cannot be decided.
func (g *Gate) Decide(ctx context.Context, req models.DecisionRequest) (models.Approval, error) {
	status, ok := req.Decision.Status()
	if !ok {
		return models.Approval{}, utils.NewValidationError("approval.decide", fmt.Sprintf("unknown decision %q", req.Decision))
	}
	if strings.TrimSpace(req.ApprovalID) == "" {
		return models.Approval{}, utils.NewValidationError("approval.decide", "approval_id is required")
	}

	current, err := g.store.Get(ctx, req.ApprovalID)
	if err != nil {
		return models.Approval{}, err
	}
	if current.Status != models.ApprovalPending {
		return current, utils.ErrAlreadyProcessed
	}
	now := g.clock.Now()
	if current.Expired(now) {
		return current, utils.NewKindError(utils.KindPolicy, "approval.decide", "approval expired", nil)
	}

	decided, err := g.store.UpdateStatus(ctx, req.ApprovalID, status, req.Approver, req.Comments, now)
	if err != nil {
		return current, err
	}
	g.logger.Info("approval decided",
		slog.String("approval_id", decided.ID),
		slog.String("incident_id", decided.IncidentID),
		slog.String("status", string(decided.Status)),
		slog.String("approver", decided.Approver),
	)
	return decided, nil
}

// Verify reports whether the approval is granted and still within its TTL.
func (g *Gate) Verify(ctx context.Context, id string) (bool, error) {
	a, err := g.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return a.Status == models.ApprovalApproved && !a.Expired(g.clock.Now()), nil
}

func (g *Gate) Get(ctx context.Context, id string) (models.Approval, error) {
	return g.store.Get(ctx, id)
}

func (g *Gate) ListPending(ctx context.Context) ([]models.Approval, error) {
	return g.store.ListPending(ctx)
}

// Expired lists pending approvals whose TTL has elapsed.
func (g *Gate) Expired(ctx context.Context) ([]models.Approval, error) {
	pending, err := g.store.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	now := g.clock.Now()
	out := make([]models.Approval, 0)
	for _, a := range pending {
		if a.Expired(now) {
			out = append(out, a)
		}
	}
	return out, nil
}

func fingerprint(plan models.RemediationPlan) string {
	type entry struct {
		Command    string
		Risk       models.Risk
		Reversible bool
	}
	actions := plan.Actions()
	entries := make([]entry, 0, len(actions))
	for _, a := range actions {
		entries = append(entries, entry{Command: a.Command, Risk: a.Risk, Reversible: a.Reversible})
	}
	data, _ := json.Marshal(entries)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
