package remediation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-incident/internal/metrics"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// ApprovalVerifier confirms that an approval is granted and still valid.
type ApprovalVerifier interface {
	Verify(ctx context.Context, approvalID string) (bool, error)
}

// Executor runs remediation plans.
type Executor struct {
	registry  *Registry
	approvals ApprovalVerifier
	clock     utils.Clock
	logger    *slog.Logger
}

// NewExecutor constructs an Executor.
func NewExecutor(registry *Registry, approvals ApprovalVerifier, clock utils.Clock, logger *slog.Logger) *Executor {
	if registry == nil {
		registry = NewRegistry(true)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{registry: registry, approvals: approvals, clock: clock, logger: logger}
}

// Execute runs plan for an incident. Every call yields a new ExecutionResult.
//
// When approvalID is set the approval is re-verified first; a plan containing a high-risk irreversible
// action is aborted before anything runs. Actions run sequentially, immediate before corrective. A failed
// critical action stops the run and the remaining actions are recorded as skipped.
func (e *Executor) Execute(ctx context.Context, incidentID string, plan models.RemediationPlan, approvalID string) models.ExecutionResult {
	started := e.clock.Now()
	result := models.ExecutionResult{
		ExecutionID:   utils.NewExecutionID(started),
		IncidentID:    incidentID,
		ApprovalID:    approvalID,
		Actions:       []models.ActionOutcome{},
		FailedActions: []string{},
		StartedAt:     started,
	}
	defer func() {
		metrics.ObserveExecution(string(result.Status))
	}()

	if approvalID != "" {
		ok, err := e.verify(ctx, approvalID)
		if !ok {
			result.Status = models.ExecutionBlocked
			result.Message = "Approval not granted or expired"
			if err != nil {
				result.Message = fmt.Sprintf("%s: %v", result.Message, err)
			}
			result.FinishedAt = e.clock.Now()
			e.logger.Warn("remediation blocked", slog.String("incident_id", incidentID), slog.String("approval_id", approvalID))
			return result
		}
	}

	if safe, reason := SafetyCheck(plan); !safe {
		result.Status = models.ExecutionAborted
		result.Message = "Safety check failed: " + reason
		result.FinishedAt = e.clock.Now()
		e.logger.Warn("remediation aborted", slog.String("incident_id", incidentID), slog.String("reason", reason))
		return result
	}

	type queued struct {
		action models.Action
		phase  models.Phase
	}
	queue := make([]queued, 0, len(plan.ImmediateActions)+len(plan.CorrectiveActions))
	for _, a := range plan.ImmediateActions {
		queue = append(queue, queued{action: a, phase: models.PhaseImmediate})
	}
	for _, a := range plan.CorrectiveActions {
		queue = append(queue, queued{action: a, phase: models.PhaseCorrective})
	}

	for i, item := range queue {
		outcome := e.run(ctx, item.action, item.phase)
		result.Actions = append(result.Actions, outcome)
		if outcome.Success {
			continue
		}
		result.FailedActions = append(result.FailedActions, item.action.Description)

		if item.phase == models.PhaseImmediate && item.action.Critical {
			for _, rest := range queue[i+1:] {
				result.Actions = append(result.Actions, models.ActionOutcome{
					Action:  rest.action.Description,
					Command: rest.action.Command,
					Phase:   rest.phase,
					Skipped: true,
					Error:   "skipped after critical failure",
				})
			}
			result.Status = models.ExecutionFailed
			result.Message = "Critical action failed: " + item.action.Description
			result.FinishedAt = e.clock.Now()
			return result
		}
	}

	executed := result.Executed()
	switch failed := len(result.FailedActions); {
	case failed == 0:
		result.Status = models.ExecutionSuccess
		result.Message = "All remediation actions completed successfully"
	case failed < executed:
		result.Status = models.ExecutionPartialSuccess
		result.Message = fmt.Sprintf("%d actions failed", failed)
	default:
		result.Status = models.ExecutionFailed
		result.Message = "Remediation failed"
	}
	result.FinishedAt = e.clock.Now()

	e.logger.Info("remediation executed",
		slog.String("incident_id", incidentID),
		slog.String("execution_id", result.ExecutionID),
		slog.String("status", string(result.Status)),
		slog.Int("actions", executed),
		slog.Int("failed", len(result.FailedActions)),
	)
	return result
}

func (e *Executor) verify(ctx context.Context, approvalID string) (bool, error) {
	if e.approvals == nil {
		return false, fmt.Errorf("no approval gate configured")
	}
	return e.approvals.Verify(ctx, approvalID)
}

func (e *Executor) run(ctx context.Context, action models.Action, phase models.Phase) models.ActionOutcome {
	outcome := models.ActionOutcome{Action: action.Description, Command: action.Command, Phase: phase}
	runner, ok := e.registry.Resolve(action.Command)
	if !ok {
		outcome.Error = fmt.Sprintf("no runner for command %q", action.Command)
		return outcome
	}
	outcome.Runner = runner.Name()

	start := time.Now()
	output, err := runner.Run(ctx, action)
	outcome.Duration = time.Since(start)
	outcome.Output = output
	if err != nil {
		outcome.Error = err.Error()
		e.logger.Warn("remediation action failed",
			slog.String("action", action.Description),
			slog.String("runner", runner.Name()),
			slog.Any("error", err),
		)
		return outcome
	}
	outcome.Success = true
	return outcome
}
