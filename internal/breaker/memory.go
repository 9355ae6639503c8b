package breaker

import (
	"context"
	"sync"
)

type memoryEntry struct {
	mu    sync.Mutex
	state State
	set   bool
}

// MemoryStore keeps circuit state in process with one lock per dependency.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

func (m *MemoryStore) entry(name string) *memoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		e = &memoryEntry{}
		m.entries[name] = e
	}
	return e
}

// Get returns the stored state.
func (m *MemoryStore) Get(_ context.Context, name string) (State, bool, error) {
	e := m.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.set, nil
}

// Update applies mutate under the dependency's lock.
func (m *MemoryStore) Update(_ context.Context, name string, mutate func(*State)) (State, error) {
	e := m.entry(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	next := e.state
	mutate(&next)
	e.state = next
	e.set = true
	return next, nil
}
