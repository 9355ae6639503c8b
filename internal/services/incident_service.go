package services

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-incident/internal/api"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// Orchestrator is the lifecycle surface exposed over gRPC.
type Orchestrator interface {
	Submit(ctx context.Context, report models.IncidentReport) models.ProcessResult
	Get(ctx context.Context, id string) models.ProcessResult
	List(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error)
	Decide(ctx context.Context, req models.DecisionRequest) models.ProcessResult
	ListApprovals(ctx context.Context) ([]models.Approval, error)
	Escalate(ctx context.Context, id, reason string) models.ProcessResult
	Recheck(ctx context.Context, id string) models.ProcessResult
}

// IncidentService implements the IncidentEngine gRPC service.
type IncidentService struct {
	logger    *slog.Logger
	orch      Orchestrator
	latencies *utils.LatencyTracker
}

// NewIncidentService constructs the service facade.
func NewIncidentService(logger *slog.Logger, orch Orchestrator) *IncidentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IncidentService{logger: logger, orch: orch, latencies: utils.NewLatencyTracker(1024)}
}

// ProcessIncident accepts an incident report and runs or schedules its pipeline.
func (s *IncidentService) ProcessIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.orch == nil {
		return nil, status.Error(codes.FailedPrecondition, "orchestrator not configured")
	}
	report, err := api.FromProtoReport(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	res := s.orch.Submit(ctx, report)
	s.observe(time.Since(start))
	s.logger.Debug("ProcessIncident handled",
		slog.String("incident_id", res.IncidentID),
		slog.Int("status_code", res.StatusCode),
		slog.String("status", string(res.Status)),
	)
	return respond(res)
}

func (s *IncidentService) GetIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.orch == nil {
		return nil, status.Error(codes.FailedPrecondition, "orchestrator not configured")
	}
	id, _, err := api.FromProtoIncidentRef(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return respond(s.orch.Get(ctx, id))
}

func (s *IncidentService) ListIncidents(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.orch == nil {
		return nil, status.Error(codes.FailedPrecondition, "orchestrator not configured")
	}
	filter, err := api.FromProtoFilter(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	incidents, err := s.orch.List(ctx, filter)
	if err != nil {
		s.logger.Error("list incidents failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to list incidents")
	}
	return encoded(api.ToProtoIncidents(incidents))
}

// DecideApproval records a human approval decision.
func (s *IncidentService) DecideApproval(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.orch == nil {
		return nil, status.Error(codes.FailedPrecondition, "orchestrator not configured")
	}
	decision, err := api.FromProtoDecision(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	start := time.Now()
	res := s.orch.Decide(ctx, decision)
	s.observe(time.Since(start))
	return respond(res)
}

func (s *IncidentService) ListApprovals(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.orch == nil {
		return nil, status.Error(codes.FailedPrecondition, "orchestrator not configured")
	}
	approvals, err := s.orch.ListApprovals(ctx)
	if err != nil {
		s.logger.Error("list approvals failed", slog.Any("error", err))
		return nil, status.Error(codes.Internal, "failed to list approvals")
	}
	return encoded(api.ToProtoApprovals(approvals))
}

func (s *IncidentService) EscalateIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.orch == nil {
		return nil, status.Error(codes.FailedPrecondition, "orchestrator not configured")
	}
	id, reason, err := api.FromProtoIncidentRef(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return respond(s.orch.Escalate(ctx, id, reason))
}

func (s *IncidentService) RecheckIncident(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.orch == nil {
		return nil, status.Error(codes.FailedPrecondition, "orchestrator not configured")
	}
	id, _, err := api.FromProtoIncidentRef(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return respond(s.orch.Recheck(ctx, id))
}

// Latency returns the percentile summary of pipeline-driving calls.
func (s *IncidentService) Latency() utils.LatencySummary {
	return s.latencies.Summary()
}

func (s *IncidentService) observe(d time.Duration) {
	s.latencies.Observe(d)
	if total := s.latencies.Total(); total%50 == 0 {
		summary := s.latencies.Summary()
		s.logger.Info("pipeline call latency",
			slog.Duration("p50", summary.P50),
			slog.Duration("p95", summary.P95),
			slog.Int("samples", summary.Samples),
		)
	}
}

// respond returns the encoded result, or a status error carrying it as a detail when the code is not 200.
func respond(res models.ProcessResult) (*structpb.Struct, error) {
	body, err := api.ToProtoResult(res)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if res.StatusCode == http.StatusOK || res.StatusCode == 0 {
		return body, nil
	}
	st := status.New(CodeFor(res.StatusCode), res.Message)
	if detailed, derr := st.WithDetails(body); derr == nil {
		st = detailed
	}
	return nil, st.Err()
}

func encoded(body *structpb.Struct, err error) (*structpb.Struct, error) {
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return body, nil
}

// CodeFor maps a ProcessResult status code onto a gRPC code.
func CodeFor(statusCode int) codes.Code {
	switch statusCode {
	case http.StatusOK:
		return codes.OK
	case http.StatusBadRequest:
		return codes.InvalidArgument
	case http.StatusNotFound:
		return codes.NotFound
	case http.StatusConflict:
		return codes.FailedPrecondition
	case http.StatusServiceUnavailable:
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// ResultFromStatus recovers the ProcessResult attached to a status error, if any.
func ResultFromStatus(err error) (api.ResultPayload, bool) {
	st, ok := status.FromError(err)
	if !ok {
		return api.ResultPayload{}, false
	}
	for _, d := range st.Details() {
		body, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		var out api.ResultPayload
		if api.DecodeInto(body, &out) == nil {
			return out, true
		}
	}
	return api.ResultPayload{}, false
}
