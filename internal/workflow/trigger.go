// Package workflow schedules orchestration jobs onto workers, locally or across processes through NATS.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-incident/internal/utils"
)

// Kind selects what a job does with its incident.
type Kind string

const (
	KindProcess Kind = "process"
	KindResume  Kind = "resume"
	KindRecheck Kind = "recheck"
)

// Job is a unit of orchestration work.
type Job struct {
	ID         string    `json:"job_id"`
	IncidentID string    `json:"incident_id"`
	Kind       Kind      `json:"kind"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewJob stamps a job with an identifier and enqueue time.
func NewJob(incidentID string, kind Kind) Job {
	return Job{ID: uuid.NewString(), IncidentID: incidentID, Kind: kind, EnqueuedAt: time.Now().UTC()}
}

// Handler executes a job.
type Handler func(ctx context.Context, job Job) error

// Trigger schedules jobs.
type Trigger interface {
	Start(ctx context.Context, job Job) error
}

// ErrQueueFull is returned when the local queue cannot take more work.
var ErrQueueFull = utils.NewKindError(utils.KindExhaustion, "workflow.start", "job queue full", nil)

// ErrStopped is returned after the trigger has shut down.
var ErrStopped = errors.New("workflow trigger stopped")

// LocalTrigger runs jobs on a fixed pool of goroutines fed by a bounded queue.
type LocalTrigger struct {
	handler Handler
	workers int
	queue   chan Job
	logger  *slog.Logger

	mu      sync.RWMutex
	stopped bool
}

// NewLocalTrigger constructs a pool; it does not run jobs until Run is called.
func NewLocalTrigger(handler Handler, workers, queueSize int, logger *slog.Logger) *LocalTrigger {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 128
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalTrigger{handler: handler, workers: workers, queue: make(chan Job, queueSize), logger: logger}
}

// Start enqueues job without blocking.
func (t *LocalTrigger) Start(ctx context.Context, job Job) error {
	if job.IncidentID == "" {
		return utils.NewValidationError("workflow.start", "incident_id is required")
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.stopped {
		return ErrStopped
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case t.queue <- job:
		return nil
	default:
		return fmt.Errorf("enqueue %s job for %s: %w", job.Kind, job.IncidentID, ErrQueueFull)
	}
}

// Run processes jobs until ctx is cancelled, then finishes queued jobs and returns.
func (t *LocalTrigger) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < t.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for job := range t.queue {
				t.execute(job, worker)
			}
		}(i)
	}

	<-ctx.Done()
	t.mu.Lock()
	t.stopped = true
	close(t.queue)
	t.mu.Unlock()
	wg.Wait()
	return nil
}

func (t *LocalTrigger) execute(job Job, worker int) {
	// Jobs outlive the Run context so that shutdown drains in-flight work.
	ctx := context.Background()
	start := time.Now()
	if err := t.handler(ctx, job); err != nil {
		t.logger.Error("workflow job failed",
			slog.String("job_id", job.ID),
			slog.String("incident_id", job.IncidentID),
			slog.String("kind", string(job.Kind)),
			slog.Int("worker", worker),
			slog.Any("error", err),
		)
		return
	}
	t.logger.Debug("workflow job completed",
		slog.String("job_id", job.ID),
		slog.String("incident_id", job.IncidentID),
		slog.String("kind", string(job.Kind)),
		slog.Duration("elapsed", time.Since(start)),
	)
}
