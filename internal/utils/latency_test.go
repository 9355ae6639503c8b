package utils

import (
	"testing"
	"time"
)

func TestLatencyTrackerPercentiles(t *testing.T) {
	tracker := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	s := tracker.Summary()
	if s.Samples != 100 || s.P50 != 50*time.Millisecond || s.P95 != 95*time.Millisecond || s.P99 != 99*time.Millisecond {
		t.Fatalf("unexpected summary %+v", s)
	}
	if s.Max != 100*time.Millisecond || tracker.Percentile(0) != time.Millisecond {
		t.Fatalf("unexpected bounds %+v", s)
	}
}

func TestLatencyTrackerWindowOverwritesOldest(t *testing.T) {
	tracker := NewLatencyTracker(3)
	for i := 1; i <= 10; i++ {
		tracker.Observe(time.Duration(i) * time.Millisecond)
	}
	if tracker.Count() != 3 || tracker.Total() != 10 {
		t.Fatalf("count=%d total=%d", tracker.Count(), tracker.Total())
	}
	if got := tracker.Percentile(0); got != 8*time.Millisecond {
		t.Fatalf("oldest retained sample should be 8ms, got %v", got)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tracker := NewLatencyTracker(0)
	if tracker.Percentile(95) != 0 || tracker.Summary().Samples != 0 {
		t.Fatalf("empty tracker must report zeros")
	}
}
