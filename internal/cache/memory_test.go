package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryProviderTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	c := NewMemoryProvider()
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("unexpected get: %q %v", got, err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemoryProviderCopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryProvider()

	value := []byte("cpu")
	if err := c.Set(ctx, "tools:metrics:checkout:cpu:1h0m0s", value, 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	value[0] = 'x'
	got, err := c.Get(ctx, "tools:metrics:checkout:cpu:1h0m0s")
	if err != nil || string(got) != "cpu" {
		t.Fatalf("stored value must not alias the caller's slice: %q %v", got, err)
	}
	got[0] = 'y'
	again, _ := c.Get(ctx, "tools:metrics:checkout:cpu:1h0m0s")
	if string(again) != "cpu" {
		t.Fatalf("returned value must not alias the cache: %q", again)
	}
}

func TestNoopProviderAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	var p Provider = NoopProvider{}
	if err := p.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := p.Get(ctx, "k"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected miss, got %v", err)
	}
}
