package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject carries orchestration jobs between engine replicas.
const DefaultSubject = "incidents.jobs"

// Conn is the subset of *nats.Conn the NATS trigger uses.
type Conn interface {
	Publish(subject string, data []byte) error
	QueueSubscribe(subject, queue string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// NATSTrigger publishes jobs to a subject; replicas consume them through a queue group so each job runs once.
type NATSTrigger struct {
	conn    Conn
	nc      *nats.Conn
	subject string
	queue   string
	logger  *slog.Logger
}

// NewNATSTrigger connects to url.
func NewNATSTrigger(url, subject, queue string, logger *slog.Logger) (*NATSTrigger, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	t := NewNATSTriggerWithConn(nc, subject, queue, logger)
	t.nc = nc
	return t, nil
}

// NewNATSTriggerWithConn wraps an existing connection.
func NewNATSTriggerWithConn(conn Conn, subject, queue string, logger *slog.Logger) *NATSTrigger {
	if subject == "" {
		subject = DefaultSubject
	}
	if queue == "" {
		queue = "incident-engine"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSTrigger{conn: conn, subject: subject, queue: queue, logger: logger}
}

// Start publishes job.
func (t *NATSTrigger) Start(_ context.Context, job Job) error {
	if job.ID == "" {
		job = NewJob(job.IncidentID, job.Kind)
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := t.conn.Publish(t.subject, data); err != nil {
		return fmt.Errorf("publish job %s: %w", job.ID, err)
	}
	return nil
}

// Consume forwards jobs received from the queue group into local.
func (t *NATSTrigger) Consume(ctx context.Context, local Trigger) (*nats.Subscription, error) {
	sub, err := t.conn.QueueSubscribe(t.subject, t.queue, func(msg *nats.Msg) {
		var job Job
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			t.logger.Warn("discarding malformed job", slog.Int("bytes", len(msg.Data)), slog.Any("error", err))
			return
		}
		if err := local.Start(ctx, job); err != nil {
			t.logger.Error("failed to schedule job",
				slog.String("job_id", job.ID),
				slog.String("incident_id", job.IncidentID),
				slog.Any("error", err),
			)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", t.subject, err)
	}
	t.logger.Info("consuming workflow jobs", slog.String("subject", t.subject), slog.String("queue", t.queue))
	return sub, nil
}

// Close drains the connection when the trigger owns it.
func (t *NATSTrigger) Close() {
	if t.nc != nil {
		_ = t.nc.Drain()
		t.nc = nil
	}
}
