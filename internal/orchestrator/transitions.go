package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miradorstack/mirador-incident/internal/metrics"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// Timeline actors.
const (
	actorOrchestrator = "incident_orchestrator"
	actorTriage       = "triage_agent"
	actorInvestigator = "investigation_engine"
	actorApproval     = "approval_gate"
	actorExecutor     = "remediation_executor"
	actorVerifier     = "resolution_verifier"
	actorEscalation   = "escalation_handler"
)

var allowed = map[models.Status][]models.Status{
	models.StatusOpen:            {models.StatusTriaged, models.StatusEscalated},
	models.StatusTriaged:         {models.StatusInvestigating, models.StatusExecuting, models.StatusEscalated},
	models.StatusInvestigating:   {models.StatusPendingApproval, models.StatusExecuting, models.StatusEscalated},
	models.StatusPendingApproval: {models.StatusExecuting, models.StatusEscalated},
	models.StatusExecuting:       {models.StatusVerifying, models.StatusEscalated},
	models.StatusVerifying:       {models.StatusResolved, models.StatusMonitoring, models.StatusEscalated},
	models.StatusMonitoring:      {models.StatusVerifying, models.StatusEscalated},
}

// CanTransition reports whether the lifecycle permits moving from one status to another.
func CanTransition(from, to models.Status) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves inc to a new status, appending exactly one timeline event, and persists it with a version check.
// mutate runs before the write so that stage outputs land in the same update as the status change.
func (o *Orchestrator) transition(ctx context.Context, inc *models.Incident, to models.Status, event, actor string, details map[string]any, mutate func(*models.Incident)) error {
	if !CanTransition(inc.Status, to) {
		return utils.NewKindError(utils.KindConflict, "orchestrator.transition",
			fmt.Sprintf("%s cannot move from %s to %s", inc.ID, inc.Status, to), nil)
	}
	from := inc.Status
	next := inc.Clone()
	if mutate != nil {
		mutate(&next)
	}
	now := o.clock.Now()
	next.Status = to
	next.UpdatedAt = now
	next.Timeline = append(next.Timeline, models.TimelineEvent{
		Timestamp: now,
		Event:     event,
		Actor:     actor,
		Status:    to,
		Details:   details,
	})

	updated, err := o.store.Update(ctx, next)
	if err != nil {
		return fmt.Errorf("persist %s -> %s for %s: %w", from, to, inc.ID, err)
	}
	*inc = updated
	metrics.ObserveTransition(string(to))
	o.logger.Info("incident transition",
		slog.String("incident_id", updated.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("event", event),
	)
	return nil
}

// record appends a timeline event that does not change status.
func (o *Orchestrator) record(ctx context.Context, inc *models.Incident, event, actor string, details map[string]any, mutate func(*models.Incident)) error {
	next := inc.Clone()
	if mutate != nil {
		mutate(&next)
	}
	now := o.clock.Now()
	next.UpdatedAt = now
	next.Timeline = append(next.Timeline, models.TimelineEvent{
		Timestamp: now,
		Event:     event,
		Actor:     actor,
		Details:   details,
	})
	updated, err := o.store.Update(ctx, next)
	if err != nil {
		return fmt.Errorf("record %s for %s: %w", event, inc.ID, err)
	}
	*inc = updated
	return nil
}
