package utils

import (
	"sort"
	"sync"
	"time"
)

// LatencyTracker keeps a bounded window of recent durations for percentile reporting.
type LatencyTracker struct {
	mu     sync.Mutex
	ring   []time.Duration
	next   int
	filled bool
	total  uint64
}

// LatencySummary is a percentile snapshot.
type LatencySummary struct {
	Samples int
	P50     time.Duration
	P95     time.Duration
	P99     time.Duration
	Max     time.Duration
}

// NewLatencyTracker keeps the last size samples (512 when size is not positive).
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 512
	}
	return &LatencyTracker{ring: make([]time.Duration, size)}
}

// Observe records a duration, overwriting the oldest sample once the window is full.
func (l *LatencyTracker) Observe(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ring[l.next] = d
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.filled = true
	}
	l.total++
}

// Count is the number of samples currently in the window.
func (l *LatencyTracker) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size()
}

// Total is the number of samples ever observed.
func (l *LatencyTracker) Total() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Percentile returns the nearest-rank p-th percentile (0-100) of the window.
func (l *LatencyTracker) Percentile(p float64) time.Duration {
	return percentileOf(l.sorted(), p)
}

// Summary returns the common percentiles in one pass.
func (l *LatencyTracker) Summary() LatencySummary {
	sorted := l.sorted()
	if len(sorted) == 0 {
		return LatencySummary{}
	}
	return LatencySummary{
		Samples: len(sorted),
		P50:     percentileOf(sorted, 50),
		P95:     percentileOf(sorted, 95),
		P99:     percentileOf(sorted, 99),
		Max:     sorted[len(sorted)-1],
	}
}

func (l *LatencyTracker) size() int {
	if l.filled {
		return len(l.ring)
	}
	return l.next
}

func (l *LatencyTracker) sorted() []time.Duration {
	l.mu.Lock()
	out := append([]time.Duration(nil), l.ring[:l.size()]...)
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func percentileOf(sorted []time.Duration, p float64) time.Duration {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	switch {
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[n-1]
	}
	rank := int(p/100*float64(n) + 0.999999)
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
