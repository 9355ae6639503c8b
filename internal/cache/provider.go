// Package cache holds short-lived observability query results so that repeated tool calls within an
// investigation do not hit the backend again.
package cache

import (
	"context"
	"errors"
	"time"
)

// Provider stores tool results by query key. Verification bypasses it through tools.Fresh.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// ErrCacheMiss is returned by Get for absent or expired keys.
var ErrCacheMiss = errors.New("cache miss")

// NoopProvider disables caching: every lookup misses and writes are dropped.
type NoopProvider struct{}

func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (NoopProvider) Close() error { return nil }
