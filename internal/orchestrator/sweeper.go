package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/workflow"
)

// SweepReport summarises one housekeeping pass.
type SweepReport struct {
	ExpiredApprovals int
	AppliedDecisions int
	Rechecks         int
}

// Sweep escalates incidents whose approval expired undecided, applies decisions the gate recorded but the
// incident never received, and schedules rechecks for incidents that have been monitoring longer than the
// monitor window.
func (o *Orchestrator) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	expired, err := o.gate.Expired(ctx)
	if err != nil {
		return report, fmt.Errorf("list expired approvals: %w", err)
	}
	for _, a := range expired {
		if o.expireApproval(ctx, a) {
			report.ExpiredApprovals++
		}
	}

	waiting, err := o.store.Query(ctx, models.IncidentFilter{Statuses: []models.Status{models.StatusPendingApproval}})
	if err != nil {
		return report, fmt.Errorf("query pending incidents: %w", err)
	}
	for _, inc := range waiting {
		if o.applyStrandedDecision(ctx, inc.ID) {
			report.AppliedDecisions++
		}
	}

	stale, err := o.store.Query(ctx, models.IncidentFilter{
		Statuses:      []models.Status{models.StatusMonitoring},
		UpdatedBefore: o.clock.Now().Add(-o.monitorWindow),
	})
	if err != nil {
		return report, fmt.Errorf("query monitoring incidents: %w", err)
	}
	for _, inc := range stale {
		if err := o.enqueue(ctx, inc.ID, workflow.KindRecheck); err != nil {
			o.logger.Warn("recheck not scheduled", slog.String("incident_id", inc.ID), slog.Any("error", err))
			continue
		}
		report.Rechecks++
	}
	return report, nil
}

func (o *Orchestrator) expireApproval(ctx context.Context, a models.Approval) bool {
	unlock := o.locks.Lock(a.IncidentID)
	defer unlock()

	inc, err := o.store.Get(ctx, a.IncidentID)
	if err != nil {
		o.logger.Warn("expired approval without incident", slog.String("approval_id", a.ID), slog.Any("error", err))
		return false
	}
	if inc.Status != models.StatusPendingApproval || inc.ApprovalID != a.ID {
		return false
	}
	if err := o.escalate(ctx, &inc, fmt.Sprintf("Approval %s expired without a decision", a.ID)); err != nil {
		o.logger.Error("escalate expired approval", slog.String("incident_id", inc.ID), slog.Any("error", err))
		return false
	}
	return true
}

// applyStrandedDecision finishes a decision whose incident write failed after the gate had recorded it.
func (o *Orchestrator) applyStrandedDecision(ctx context.Context, id string) bool {
	unlock := o.locks.Lock(id)
	inc, err := o.store.Get(ctx, id)
	if err != nil || inc.Status != models.StatusPendingApproval || inc.ApprovalID == "" {
		unlock()
		return false
	}
	a, err := o.gate.Get(ctx, inc.ApprovalID)
	if err != nil || a.Status == models.ApprovalPending {
		unlock()
		return false
	}
	o.logger.Info("applying recorded decision",
		slog.String("incident_id", id),
		slog.String("approval_id", a.ID),
		slog.String("decision", string(a.Status)),
	)
	resume, err := o.applyDecision(ctx, &inc, a)
	unlock()
	if err != nil {
		o.logger.Error("apply recorded decision", slog.String("incident_id", id), slog.Any("error", err))
		return false
	}
	if resume {
		if err := o.enqueue(ctx, id, workflow.KindResume); err != nil {
			o.logger.Warn("resume not scheduled", slog.String("incident_id", id), slog.Any("error", err))
		}
	}
	return true
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (o *Orchestrator) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := o.Sweep(ctx)
			if err != nil {
				o.logger.Warn("sweep failed", slog.Any("error", err))
				continue
			}
			if report.ExpiredApprovals > 0 || report.AppliedDecisions > 0 || report.Rechecks > 0 {
				o.logger.Info("sweep completed",
					slog.Int("expired_approvals", report.ExpiredApprovals),
					slog.Int("applied_decisions", report.AppliedDecisions),
					slog.Int("rechecks", report.Rechecks),
				)
			}
		}
	}
}
