// Package notify delivers incident notifications to humans and escalates incidents.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Delivery channels.
const (
	ChannelBroadcast = "broadcast"
	ChannelEmail     = "email"
	ChannelChat      = "chat"
	ChannelPager     = "pager"
	ChannelApprovals = "approvals"
	ChannelLog       = "log"
)

// Message is a notification payload.
type Message struct {
	Kind       string         `json:"kind"`
	IncidentID string         `json:"incident_id"`
	Severity   string         `json:"severity,omitempty"`
	Subject    string         `json:"subject"`
	Body       string         `json:"body"`
	Fields     map[string]any `json:"fields,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Notifier sends a message on a channel.
type Notifier interface {
	Send(ctx context.Context, channel string, msg Message) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Send(_ context.Context, channel string, msg Message) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		slog.String("channel", channel),
		slog.String("kind", msg.Kind),
		slog.String("incident_id", msg.IncidentID),
		slog.String("subject", msg.Subject),
	)
	return nil
}

// Publisher is the subset of *nats.Conn used for notifications.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes notifications as JSON on <prefix>.<channel>.
type NATSNotifier struct {
	conn   Publisher
	nc     *nats.Conn
	prefix string
}

// NewNATSNotifier connects to url. The connection retries in the background when the server is not yet up.
func NewNATSNotifier(url, prefix string) (*NATSNotifier, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	n := NewNATSNotifierWithPublisher(nc, prefix)
	n.nc = nc
	return n, nil
}

// NewNATSNotifierWithPublisher wraps an existing publisher.
func NewNATSNotifierWithPublisher(conn Publisher, prefix string) *NATSNotifier {
	if prefix == "" {
		prefix = "incidents.notify"
	}
	return &NATSNotifier{conn: conn, prefix: prefix}
}

func (n *NATSNotifier) Send(_ context.Context, channel string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	subject := n.prefix + "." + channel
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains the underlying connection when the notifier owns one.
func (n *NATSNotifier) Close() {
	if n.nc != nil {
		_ = n.nc.Drain()
		n.nc = nil
	}
}

// Dispatcher routes messages to notifiers. Delivery is best effort: failures are logged and reported,
// never returned as errors.
type Dispatcher struct {
	fallback Notifier
	routes   map[string]Notifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewDispatcher sends every channel without a route to fallback.
func NewDispatcher(fallback Notifier, routes map[string]Notifier, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if fallback == nil {
		fallback = LogNotifier{Logger: logger}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{fallback: fallback, routes: routes, timeout: timeout, logger: logger}
}

// Dispatch sends msg on every channel and reports which deliveries succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, channels []string, msg Message) map[string]bool {
	delivered := make(map[string]bool, len(channels))
	for _, channel := range channels {
		n, ok := d.routes[channel]
		if !ok {
			n = d.fallback
		}
		sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
		err := n.Send(sendCtx, channel, msg)
		cancel()
		if err != nil {
			d.logger.Warn("notification failed",
				slog.String("channel", channel),
				slog.String("incident_id", msg.IncidentID),
				slog.Any("error", err),
			)
			delivered[channel] = false
			continue
		}
		delivered[channel] = true
	}
	return delivered
}
