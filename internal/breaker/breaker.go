// Package breaker tracks per-dependency failures and blocks calls to dependencies that keep failing.
package breaker

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-incident/internal/metrics"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// Status is the stored circuit state. Half-open is derived, never stored.
type Status string

const (
	StatusClosed Status = "CLOSED"
	StatusOpen   Status = "OPEN"
)

const (
	DefaultThreshold    = 5
	DefaultOpenDuration = 60 * time.Second
)

// Settings configure a single dependency.
type Settings struct {
	Threshold    int
	OpenDuration time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.Threshold <= 0 {
		s.Threshold = DefaultThreshold
	}
	if s.OpenDuration <= 0 {
		s.OpenDuration = DefaultOpenDuration
	}
	return s
}

// State is the persisted circuit state for one dependency.
type State struct {
	Name         string        `json:"name"`
	Status       Status        `json:"state"`
	Failures     int           `json:"failure_count"`
	LastFailure  time.Time     `json:"last_failure_time"`
	LastSuccess  time.Time     `json:"last_success_time"`
	Threshold    int           `json:"threshold"`
	OpenDuration time.Duration `json:"open_duration"`
}

// Store persists circuit state. Update must serialise read-modify-write per name.
type Store interface {
	Get(ctx context.Context, name string) (State, bool, error)
	Update(ctx context.Context, name string, mutate func(*State)) (State, error)
}

// Breaker applies the failure-count policy on top of a Store.
type Breaker struct {
	store     Store
	defaults  Settings
	overrides map[string]Settings
	clock     utils.Clock
	logger    *slog.Logger
}

// Option customises a Breaker.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(clock utils.Clock) Option {
	return func(b *Breaker) { b.clock = clock }
}

// WithOverrides sets per-dependency settings.
func WithOverrides(overrides map[string]Settings) Option {
	return func(b *Breaker) {
		for name, s := range overrides {
			b.overrides[name] = s.withDefaults()
		}
	}
}

// New constructs a Breaker. A nil store falls back to an in-memory store.
func New(store Store, defaults Settings, logger *slog.Logger, opts ...Option) *Breaker {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Breaker{
		store:     store,
		defaults:  defaults.withDefaults(),
		overrides: make(map[string]Settings),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SettingsFor returns the effective settings for a dependency.
func (b *Breaker) SettingsFor(name string) Settings {
	if s, ok := b.overrides[name]; ok {
		return s
	}
	return b.defaults
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *Breaker) RecordSuccess(ctx context.Context, name string) error {
	now := b.clock.Now()
	settings := b.SettingsFor(name)
	_, err := b.store.Update(ctx, name, func(s *State) {
		s.Name = name
		s.Status = StatusClosed
		s.Failures = 0
		s.LastSuccess = now
		s.Threshold = settings.Threshold
		s.OpenDuration = settings.OpenDuration
	})
	if err != nil {
		b.logger.Warn("breaker success not recorded", slog.String("dependency", name), slog.Any("error", err))
		return utils.NewAppError("breaker.success", name, err)
	}
	return nil
}

// RecordFailure increments the failure count and opens the circuit at the threshold.
func (b *Breaker) RecordFailure(ctx context.Context, name string) error {
	now := b.clock.Now()
	settings := b.SettingsFor(name)
	opened := false
	_, err := b.store.Update(ctx, name, func(s *State) {
		s.Name = name
		s.Failures++
		s.LastFailure = now
		s.Threshold = settings.Threshold
		s.OpenDuration = settings.OpenDuration
		if s.Failures >= settings.Threshold {
			opened = s.Status != StatusOpen
			s.Status = StatusOpen
		} else if s.Status == "" {
			s.Status = StatusClosed
		}
	})
	if err != nil {
		b.logger.Warn("breaker failure not recorded", slog.String("dependency", name), slog.Any("error", err))
		return utils.NewAppError("breaker.failure", name, err)
	}
	if opened {
		metrics.ObserveBreakerOpen(name)
		b.logger.Warn("circuit opened", slog.String("dependency", name), slog.Int("threshold", settings.Threshold))
	}
	return nil
}

// IsOpen reports whether calls to the dependency must be skipped.
// Once the open duration has elapsed calls are let through again (half-open) while the stored state stays OPEN until a success.
// A store failure is treated as closed so that an unavailable breaker store never blocks investigations.
func (b *Breaker) IsOpen(ctx context.Context, name string) bool {
	state, ok, err := b.store.Get(ctx, name)
	if err != nil {
		b.logger.Warn("breaker state unavailable", slog.String("dependency", name), slog.Any("error", err))
		return false
	}
	if !ok || state.Status != StatusOpen {
		return false
	}
	timeout := state.OpenDuration
	if timeout <= 0 {
		timeout = b.SettingsFor(name).OpenDuration
	}
	return b.clock.Now().Sub(state.LastFailure) < timeout
}

// RetryAfter returns how long until an open circuit becomes half-open.
func (b *Breaker) RetryAfter(ctx context.Context, name string) time.Duration {
	state, ok, err := b.store.Get(ctx, name)
	if err != nil || !ok || state.Status != StatusOpen {
		return 0
	}
	timeout := state.OpenDuration
	if timeout <= 0 {
		timeout = b.SettingsFor(name).OpenDuration
	}
	remaining := timeout - b.clock.Now().Sub(state.LastFailure)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Snapshot returns the stored state for a dependency.
func (b *Breaker) Snapshot(ctx context.Context, name string) (State, error) {
	state, ok, err := b.store.Get(ctx, name)
	if err != nil {
		return State{}, err
	}
	if !ok {
		settings := b.SettingsFor(name)
		return State{Name: name, Status: StatusClosed, Threshold: settings.Threshold, OpenDuration: settings.OpenDuration}, nil
	}
	return state, nil
}
