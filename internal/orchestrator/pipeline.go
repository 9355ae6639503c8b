package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-incident/internal/metrics"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/notify"
	"github.com/miradorstack/mirador-incident/internal/remediation"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// maxSteps bounds a single Process call; a full pass needs six.
const maxSteps = 12

// advance runs stage steps until the incident waits on a human, a recheck, or reaches a terminal state.
func (o *Orchestrator) advance(ctx context.Context, inc *models.Incident) error {
	for step := 0; step < maxSteps; step++ {
		var err error
		switch inc.Status {
		case models.StatusOpen:
			err = o.triageStep(ctx, inc)
		case models.StatusTriaged:
			err = o.routeStep(ctx, inc)
		case models.StatusInvestigating:
			err = o.investigateStep(ctx, inc)
		case models.StatusExecuting:
			err = o.executeStep(ctx, inc)
		case models.StatusVerifying:
			err = o.verify(ctx, inc)
		default:
			return nil
		}
		if err != nil {
			return err
		}
	}
	return fmt.Errorf("incident %s did not settle after %d steps (status %s)", inc.ID, maxSteps, inc.Status)
}

func (o *Orchestrator) triageStep(ctx context.Context, inc *models.Incident) error {
	tri := o.triage.Assess(ctx, *inc)
	details := map[string]any{
		"severity":   string(tri.Severity),
		"routing":    string(tri.Routing),
		"reasoning":  tri.Reasoning,
		"next_steps": tri.NextSteps,
	}
	if tri.Fallback {
		// A fallback assessment has no opinion on severity; the reported one stands.
		details["fallback"] = true
		details["severity"] = string(inc.Severity)
	}
	return o.transition(ctx, inc, models.StatusTriaged, models.EventTriageCompleted, actorTriage, details,
		func(next *models.Incident) {
			next.Triage = &tri
			if !tri.Fallback && tri.Severity != "" {
				next.Severity = tri.Severity
			}
		})
}

func (o *Orchestrator) routeStep(ctx context.Context, inc *models.Incident) error {
	routing := models.RoutingInvestigate
	if inc.Triage != nil && inc.Triage.Routing != "" {
		routing = inc.Triage.Routing
	}

	switch routing {
	case models.RoutingEscalate:
		reason := "Critical severity routed directly to on-call"
		if inc.Triage != nil && inc.Triage.Reasoning != "" {
			reason = inc.Triage.Reasoning
		}
		return o.escalate(ctx, inc, reason)
	case models.RoutingAutoResolve:
		plan := o.planner.Canned(*inc)
		risk := remediation.AssessRisk(plan)
		if risk.RequiresApproval() {
			o.logger.Info("canned plan needs approval, investigating instead",
				slog.String("incident_id", inc.ID),
				slog.String("risk", string(risk)),
			)
			return o.transition(ctx, inc, models.StatusInvestigating, models.EventInvestigationStarted, actorInvestigator,
				map[string]any{"reason": "auto-resolve plan requires approval", "risk_level": string(risk)}, nil)
		}
		return o.transition(ctx, inc, models.StatusExecuting, models.EventRemediationStarted, actorExecutor,
			map[string]any{"source": plan.Source, "risk_level": string(risk), "auto_resolve": true},
			func(next *models.Incident) {
				next.Plan = &plan
				next.Risk = risk
			})
	default:
		return o.transition(ctx, inc, models.StatusInvestigating, models.EventInvestigationStarted, actorInvestigator,
			map[string]any{"services": inc.AffectedServices}, nil)
	}
}

func (o *Orchestrator) investigateStep(ctx context.Context, inc *models.Incident) error {
	if inc.Investigation == nil {
		rec := o.investigator.Investigate(ctx, *inc)
		details := map[string]any{
			"root_cause": rec.RootCause,
			"confidence": string(rec.Confidence),
			"iterations": rec.Iterations,
			"concluded":  rec.Concluded,
		}
		if err := o.record(ctx, inc, models.EventRootCauseCompleted, actorInvestigator, details,
			func(next *models.Incident) { next.Investigation = &rec }); err != nil {
			return err
		}
	}

	plan := o.planner.Plan(ctx, *inc, inc.Investigation)
	risk := remediation.AssessRisk(plan)
	if ok, reason := remediation.SafetyCheck(plan); !ok {
		return o.escalate(ctx, inc, "Remediation plan failed safety check: "+reason)
	}

	if !risk.RequiresApproval() {
		return o.transition(ctx, inc, models.StatusExecuting, models.EventRemediationStarted, actorExecutor,
			map[string]any{"source": plan.Source, "risk_level": string(risk)},
			func(next *models.Incident) {
				next.Plan = &plan
				next.Risk = risk
			})
	}

	approval, _, err := o.gate.Submit(ctx, *inc, plan, risk)
	if err != nil {
		return fmt.Errorf("submit approval: %w", err)
	}
	err = o.transition(ctx, inc, models.StatusPendingApproval, models.EventApprovalRequested, actorApproval,
		map[string]any{"approval_id": approval.ID, "risk_level": string(risk), "expires_at": approval.ExpiresAt},
		func(next *models.Incident) {
			next.Plan = &plan
			next.Risk = risk
			next.ApprovalID = approval.ID
		})
	if err != nil {
		return err
	}
	if o.notifier != nil {
		o.notifier.Dispatch(ctx, []string{notify.ChannelApprovals}, notify.ApprovalRequested(*inc, approval))
	}
	return nil
}

func (o *Orchestrator) executeStep(ctx context.Context, inc *models.Incident) error {
	if inc.Plan == nil {
		return o.escalate(ctx, inc, "No remediation plan available for execution")
	}
	res := o.executor.Execute(ctx, inc.ID, *inc.Plan, inc.ApprovalID)
	details := map[string]any{
		"execution_id":   res.ExecutionID,
		"status":         string(res.Status),
		"executed":       res.Executed(),
		"failed_actions": res.FailedActions,
	}
	if err := o.record(ctx, inc, models.EventRemediationExecuted, actorExecutor, details,
		func(next *models.Incident) { next.Executions = append(next.Executions, res) }); err != nil {
		return err
	}

	switch res.Status {
	case models.ExecutionSuccess, models.ExecutionPartialSuccess:
		return o.transition(ctx, inc, models.StatusVerifying, models.EventVerificationStarted, actorVerifier,
			map[string]any{"execution_id": res.ExecutionID}, nil)
	default:
		msg := res.Message
		if msg == "" {
			msg = fmt.Sprintf("%d action(s) failed", len(res.FailedActions))
		}
		return o.escalate(ctx, inc, fmt.Sprintf("Remediation %s: %s", res.Status, msg))
	}
}

// verify runs resolution checks on a verifying incident.
func (o *Orchestrator) verify(ctx context.Context, inc *models.Incident) error {
	res := o.verifier.Verify(ctx, *inc)
	details := map[string]any{
		"confidence":    res.Confidence,
		"passed_checks": res.PassedChecks,
		"total_checks":  res.TotalChecks,
		"summary":       res.Summary,
	}
	appendResult := func(next *models.Incident) { next.Verifications = append(next.Verifications, res) }
	if res.Verified {
		details["minutes_to_resolve"] = utils.DurationMinutes(inc.CreatedAt, o.clock.Now())
		return o.transition(ctx, inc, models.StatusResolved, models.EventResolutionVerified, actorVerifier, details, appendResult)
	}
	details["recommendation"] = res.Recommendation
	return o.transition(ctx, inc, models.StatusMonitoring, models.EventVerificationUncertain, actorVerifier, details, appendResult)
}

func (o *Orchestrator) observe(start time.Time, inc models.Incident, outcome string) {
	metrics.ObservePipeline(time.Since(start), outcome)
	o.logger.Debug("pipeline pass finished",
		slog.String("incident_id", inc.ID),
		slog.String("status", string(inc.Status)),
		slog.Duration("duration", time.Since(start)),
	)
}
