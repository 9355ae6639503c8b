// Package orchestrator owns the incident lifecycle: it is the only writer of incident status.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/notify"
	"github.com/miradorstack/mirador-incident/internal/store"
	"github.com/miradorstack/mirador-incident/internal/utils"
	"github.com/miradorstack/mirador-incident/internal/workflow"
)

// DefaultMonitorWindow is how long a monitoring incident waits before it is verified again.
const DefaultMonitorWindow = 30 * time.Minute

type Triager interface {
	Assess(ctx context.Context, inc models.Incident) models.TriageResult
}

type Investigator interface {
	Investigate(ctx context.Context, inc models.Incident) models.InvestigationRecord
}

type Planner interface {
	Plan(ctx context.Context, inc models.Incident, record *models.InvestigationRecord) models.RemediationPlan
	Canned(inc models.Incident) models.RemediationPlan
}

type ApprovalGate interface {
	Submit(ctx context.Context, inc models.Incident, plan models.RemediationPlan, risk models.Risk) (models.Approval, bool, error)
	Decide(ctx context.Context, req models.DecisionRequest) (models.Approval, error)
	Get(ctx context.Context, id string) (models.Approval, error)
	ListPending(ctx context.Context) ([]models.Approval, error)
	Expired(ctx context.Context) ([]models.Approval, error)
}

type Executor interface {
	Execute(ctx context.Context, incidentID string, plan models.RemediationPlan, approvalID string) models.ExecutionResult
}

type Verifier interface {
	Verify(ctx context.Context, inc models.Incident) models.VerificationResult
}

type Escalator interface {
	Escalate(ctx context.Context, inc models.Incident, reason string) models.EscalationRecord
}

type Notifier interface {
	Dispatch(ctx context.Context, channels []string, msg notify.Message) map[string]bool
}

// Deps are the collaborators the orchestrator drives. Notifier and Trigger are optional; without a trigger
// jobs run inline on the caller's goroutine.
type Deps struct {
	Store        store.Store
	Triage       Triager
	Investigator Investigator
	Planner      Planner
	Gate         ApprovalGate
	Executor     Executor
	Verifier     Verifier
	Escalator    Escalator
	Notifier     Notifier
	Trigger      workflow.Trigger
}

// Options tunes lifecycle housekeeping.
type Options struct {
	MonitorWindow time.Duration
	Clock         utils.Clock
	Logger        *slog.Logger
}

// Orchestrator drives incidents through triage, investigation, approval, remediation and verification.
type Orchestrator struct {
	store         store.Store
	triage        Triager
	investigator  Investigator
	planner       Planner
	gate          ApprovalGate
	executor      Executor
	verifier      Verifier
	escalator     Escalator
	notifier      Notifier
	trigger       workflow.Trigger
	monitorWindow time.Duration
	clock         utils.Clock
	logger        *slog.Logger
	locks         *keyedMutex
}

// New constructs an Orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if opts.MonitorWindow <= 0 {
		opts.MonitorWindow = DefaultMonitorWindow
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		store:         deps.Store,
		triage:        deps.Triage,
		investigator:  deps.Investigator,
		planner:       deps.Planner,
		gate:          deps.Gate,
		executor:      deps.Executor,
		verifier:      deps.Verifier,
		escalator:     deps.Escalator,
		notifier:      deps.Notifier,
		trigger:       deps.Trigger,
		monitorWindow: opts.MonitorWindow,
		clock:         opts.Clock,
		logger:        opts.Logger,
		locks:         newKeyedMutex(),
	}
}

// SetTrigger installs the job trigger. Triggers usually call back into HandleJob, so they are wired after New.
func (o *Orchestrator) SetTrigger(t workflow.Trigger) {
	o.trigger = t
}

// Submit validates a report, stores the incident and schedules its pipeline.
// Re-delivering a known incident ID is safe and returns the stored incident.
func (o *Orchestrator) Submit(ctx context.Context, report models.IncidentReport) models.ProcessResult {
	inc, err := o.newIncident(report)
	if err != nil {
		return errorResult(err, report.IncidentID, nil)
	}

	created, err := o.store.Create(ctx, inc)
	switch {
	case errors.Is(err, utils.ErrAlreadyExists):
		o.logger.Info("incident re-delivered", slog.String("incident_id", created.ID), slog.String("status", string(created.Status)))
		if created.Status != models.StatusOpen {
			return result(http.StatusOK, created, "incident already exists")
		}
	case err != nil:
		o.logger.Error("store incident failed", slog.String("incident_id", inc.ID), slog.Any("error", err))
		return errorResult(err, inc.ID, nil)
	default:
		o.logger.Info("incident created",
			slog.String("incident_id", created.ID),
			slog.String("severity", string(created.Severity)),
			slog.Int("services", len(created.AffectedServices)),
		)
	}

	if err := o.enqueue(ctx, created.ID, workflow.KindProcess); err != nil {
		return errorResult(err, created.ID, &created)
	}
	if o.trigger == nil {
		return o.Get(ctx, created.ID)
	}
	return result(http.StatusOK, created, "incident accepted")
}

func (o *Orchestrator) newIncident(report models.IncidentReport) (models.Incident, error) {
	title := strings.TrimSpace(report.Title)
	if title == "" {
		return models.Incident{}, utils.NewValidationError("orchestrator.submit", "title is required")
	}
	severity := models.SeverityMedium
	if report.Severity != "" {
		parsed, ok := models.ParseSeverity(string(report.Severity))
		if !ok {
			return models.Incident{}, utils.NewValidationError("orchestrator.submit", fmt.Sprintf("unknown severity %q", report.Severity))
		}
		severity = parsed
	}
	id := strings.TrimSpace(report.IncidentID)
	if id == "" {
		id = utils.NewIncidentID()
	}
	services := make([]string, 0, len(report.AffectedServices))
	for _, s := range report.AffectedServices {
		if s = strings.TrimSpace(s); s != "" {
			services = append(services, s)
		}
	}

	now := o.clock.Now()
	created := now
	if !report.ReportedAt.IsZero() {
		created = report.ReportedAt.UTC()
	}
	return models.Incident{
		ID:               id,
		CreatedAt:        created,
		UpdatedAt:        now,
		Title:            title,
		Description:      strings.TrimSpace(report.Description),
		Severity:         severity,
		Status:           models.StatusOpen,
		AffectedServices: services,
		Metadata:         report.Metadata,
		Timeline: []models.TimelineEvent{{
			Timestamp: now,
			Event:     models.EventIncidentCreated,
			Actor:     actorOrchestrator,
			Status:    models.StatusOpen,
			Details:   map[string]any{"severity": string(severity), "affected_services": services},
		}},
	}, nil
}

// Process advances an incident as far as it can go without human input.
func (o *Orchestrator) Process(ctx context.Context, id string) models.ProcessResult {
	unlock := o.locks.Lock(id)
	defer unlock()

	inc, err := o.store.Get(ctx, id)
	if err != nil {
		return errorResult(err, id, nil)
	}
	start := time.Now()
	err = o.advance(ctx, &inc)
	if err != nil {
		o.fail(ctx, &inc, err)
		o.observe(start, inc, "error")
		return errorResult(err, id, &inc)
	}
	o.observe(start, inc, string(inc.Status))
	return result(http.StatusOK, inc, "")
}

// Decide records an approval decision and resumes or escalates the waiting incident.
func (o *Orchestrator) Decide(ctx context.Context, req models.DecisionRequest) models.ProcessResult {
	if strings.TrimSpace(req.ApprovalID) == "" {
		return errorResult(utils.NewValidationError("orchestrator.decide", "approval_id is required"), "", nil)
	}
	if _, ok := req.Decision.Status(); !ok {
		return errorResult(utils.NewValidationError("orchestrator.decide", fmt.Sprintf("unknown decision %q", req.Decision)), "", nil)
	}

	approval, err := o.gate.Get(ctx, req.ApprovalID)
	if err != nil {
		return errorResult(err, "", nil)
	}

	unlock := o.locks.Lock(approval.IncidentID)
	inc, err := o.store.Get(ctx, approval.IncidentID)
	if err != nil {
		unlock()
		return errorResult(err, approval.IncidentID, nil)
	}

	if inc.Status != models.StatusPendingApproval || inc.ApprovalID != approval.ID {
		unlock()
		o.logger.Warn("decision for incident not awaiting it",
			slog.String("incident_id", inc.ID),
			slog.String("approval_id", approval.ID),
			slog.String("status", string(inc.Status)),
		)
		return errorResult(utils.NewKindError(utils.KindConflict, "orchestrator.decide",
			fmt.Sprintf("incident %s is %s, not awaiting approval %s", inc.ID, inc.Status, approval.ID), nil), inc.ID, &inc)
	}

	decided, err := o.gate.Decide(ctx, req)
	if err != nil {
		unlock()
		return errorResult(err, inc.ID, &inc)
	}
	resume, err := o.applyDecision(ctx, &inc, decided)
	if err != nil {
		o.fail(ctx, &inc, err)
		unlock()
		return errorResult(err, inc.ID, &inc)
	}
	unlock()

	res := result(http.StatusOK, inc, fmt.Sprintf("approval %s %s", decided.ID, decided.Status))
	if !resume {
		return res
	}
	if err := o.enqueue(ctx, inc.ID, workflow.KindResume); err != nil {
		return errorResult(err, inc.ID, &inc)
	}
	if o.trigger == nil {
		res = o.Get(ctx, inc.ID)
		res.Message = fmt.Sprintf("approval %s %s", decided.ID, decided.Status)
	}
	return res
}

// applyDecision moves a pending_approval incident on from a decided approval. It can be re-run for the same
// approval: the decision event is recorded once.
func (o *Orchestrator) applyDecision(ctx context.Context, inc *models.Incident, a models.Approval) (bool, error) {
	details := map[string]any{"approval_id": a.ID, "approver": a.Approver, "comments": a.Comments}
	if a.Status == models.ApprovalRejected {
		if !decisionRecorded(*inc, models.EventApprovalRejected, a.ID) {
			if err := o.record(ctx, inc, models.EventApprovalRejected, actorApproval, details, nil); err != nil {
				return false, err
			}
		}
		reason := fmt.Sprintf("Remediation plan rejected by %s", orDefault(a.Approver, "approver"))
		if a.Comments != "" {
			reason += ": " + a.Comments
		}
		return false, o.escalate(ctx, inc, reason)
	}

	if !decisionRecorded(*inc, models.EventApprovalApproved, a.ID) {
		if err := o.record(ctx, inc, models.EventApprovalApproved, actorApproval, details, nil); err != nil {
			return false, err
		}
	}
	return true, o.transition(ctx, inc, models.StatusExecuting, models.EventRemediationStarted, actorExecutor,
		map[string]any{"approval_id": a.ID, "risk_level": string(inc.Risk)}, nil)
}

func decisionRecorded(inc models.Incident, event, approvalID string) bool {
	for _, ev := range inc.Timeline {
		if ev.Event == event {
			if id, _ := ev.Details["approval_id"].(string); id == approvalID {
				return true
			}
		}
	}
	return false
}

// Escalate hands a non-terminal incident to humans on request.
func (o *Orchestrator) Escalate(ctx context.Context, id, reason string) models.ProcessResult {
	if strings.TrimSpace(id) == "" {
		return errorResult(utils.NewValidationError("orchestrator.escalate", "incident_id is required"), "", nil)
	}
	unlock := o.locks.Lock(id)
	defer unlock()

	inc, err := o.store.Get(ctx, id)
	if err != nil {
		return errorResult(err, id, nil)
	}
	if inc.Status.Terminal() {
		return errorResult(utils.NewKindError(utils.KindConflict, "orchestrator.escalate",
			fmt.Sprintf("incident %s is already %s", id, inc.Status), nil), id, &inc)
	}
	if strings.TrimSpace(reason) == "" {
		reason = "Manual escalation requested"
	}
	if err := o.escalate(ctx, &inc, reason); err != nil {
		return errorResult(err, id, &inc)
	}
	return result(http.StatusOK, inc, "incident escalated")
}

// Recheck verifies a monitoring incident again.
func (o *Orchestrator) Recheck(ctx context.Context, id string) models.ProcessResult {
	unlock := o.locks.Lock(id)
	defer unlock()

	inc, err := o.store.Get(ctx, id)
	if err != nil {
		return errorResult(err, id, nil)
	}
	if inc.Status != models.StatusMonitoring {
		return errorResult(utils.NewKindError(utils.KindConflict, "orchestrator.recheck",
			fmt.Sprintf("incident %s is %s, not monitoring", id, inc.Status), nil), id, &inc)
	}
	err = o.transition(ctx, &inc, models.StatusVerifying, models.EventVerificationStarted, actorVerifier,
		map[string]any{"recheck": true}, nil)
	if err == nil {
		err = o.verify(ctx, &inc)
	}
	if err != nil {
		o.fail(ctx, &inc, err)
		return errorResult(err, id, &inc)
	}
	return result(http.StatusOK, inc, "")
}

// HandleJob executes a workflow job. It is the handler behind every Trigger.
func (o *Orchestrator) HandleJob(ctx context.Context, job workflow.Job) error {
	var res models.ProcessResult
	switch job.Kind {
	case workflow.KindRecheck:
		res = o.Recheck(ctx, job.IncidentID)
	case workflow.KindProcess, workflow.KindResume, "":
		res = o.Process(ctx, job.IncidentID)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%s job for %s: %s", job.Kind, job.IncidentID, res.Message)
	}
	return nil
}

func (o *Orchestrator) Get(ctx context.Context, id string) models.ProcessResult {
	if strings.TrimSpace(id) == "" {
		return errorResult(utils.NewValidationError("orchestrator.get", "incident_id is required"), "", nil)
	}
	inc, err := o.store.Get(ctx, id)
	if err != nil {
		return errorResult(err, id, nil)
	}
	return result(http.StatusOK, inc, "")
}

func (o *Orchestrator) List(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error) {
	return o.store.Query(ctx, filter)
}

func (o *Orchestrator) ListApprovals(ctx context.Context) ([]models.Approval, error) {
	return o.gate.ListPending(ctx)
}

func (o *Orchestrator) enqueue(ctx context.Context, id string, kind workflow.Kind) error {
	job := workflow.NewJob(id, kind)
	if o.trigger == nil {
		// Inline execution reports failures through the incident itself.
		_ = o.HandleJob(ctx, job)
		return nil
	}
	if err := o.trigger.Start(ctx, job); err != nil {
		o.logger.Error("schedule job failed", slog.String("incident_id", id), slog.String("kind", string(kind)), slog.Any("error", err))
		return fmt.Errorf("schedule %s job: %w", kind, err)
	}
	return nil
}

// fail escalates an incident whose pipeline hit an unexpected error, leaving an auditable trail.
func (o *Orchestrator) fail(ctx context.Context, inc *models.Incident, cause error) {
	o.logger.Error("incident pipeline failed", slog.String("incident_id", inc.ID), slog.Any("error", cause))
	latest, err := o.store.Get(ctx, inc.ID)
	if err != nil {
		return
	}
	*inc = latest
	if inc.Status.Terminal() {
		return
	}
	if err := o.escalate(ctx, inc, fmt.Sprintf("Internal error: %v", cause)); err != nil {
		o.logger.Error("escalation after failure did not persist", slog.String("incident_id", inc.ID), slog.Any("error", err))
	}
}

func (o *Orchestrator) escalate(ctx context.Context, inc *models.Incident, reason string) error {
	rec := o.escalator.Escalate(ctx, *inc, reason)
	details := map[string]any{
		"escalation_id":    rec.ID,
		"escalation_level": rec.Level,
		"reason":           reason,
		"notifications":    rec.Channels,
	}
	return o.transition(ctx, inc, models.StatusEscalated, models.EventIncidentEscalated, actorEscalation, details,
		func(next *models.Incident) { next.Escalation = &rec })
}

func result(code int, inc models.Incident, msg string) models.ProcessResult {
	res := models.ProcessResult{
		StatusCode: code,
		IncidentID: inc.ID,
		Status:     inc.Status,
		Severity:   inc.Severity,
		ApprovalID: inc.ApprovalID,
		Message:    msg,
		Incident:   &inc,
	}
	if inc.Triage != nil {
		res.Routing = inc.Triage.Routing
	}
	return res
}

func errorResult(err error, id string, inc *models.Incident) models.ProcessResult {
	if inc != nil {
		res := result(StatusCode(err), *inc, err.Error())
		return res
	}
	return models.ProcessResult{StatusCode: StatusCode(err), IncidentID: id, Message: err.Error()}
}

// StatusCode maps an error onto the HTTP-style code carried by ProcessResult.
func StatusCode(err error) int {
	switch utils.KindOf(err) {
	case "":
		return http.StatusOK
	case utils.KindValidation:
		return http.StatusBadRequest
	case utils.KindNotFound:
		return http.StatusNotFound
	case utils.KindConflict, utils.KindPolicy:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
