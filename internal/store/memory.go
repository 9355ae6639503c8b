package store

import (
	"context"
	"sort"
	"sync"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// MemoryStore keeps incidents in process memory.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]models.Incident
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{incidents: make(map[string]models.Incident)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (models.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inc, ok := m.incidents[id]
	if !ok {
		return models.Incident{}, utils.ErrNotFound
	}
	return inc.Clone(), nil
}

func (m *MemoryStore) Create(_ context.Context, inc models.Incident) (models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.incidents[inc.ID]; ok {
		return existing.Clone(), utils.ErrAlreadyExists
	}
	inc.Version = 1
	m.incidents[inc.ID] = inc.Clone()
	return inc.Clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, inc models.Incident) (models.Incident, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.incidents[inc.ID]
	if !ok {
		return models.Incident{}, utils.ErrNotFound
	}
	if current.Version != inc.Version {
		return models.Incident{}, utils.ErrVersionConflict
	}
	inc.Version++
	m.incidents[inc.ID] = inc.Clone()
	return inc.Clone(), nil
}

func (m *MemoryStore) AppendTimelineEvent(ctx context.Context, id string, event models.TimelineEvent) (models.Incident, error) {
	return appendWithRetry(ctx, m, id, event)
}

func (m *MemoryStore) Query(_ context.Context, filter models.IncidentFilter) ([]models.Incident, error) {
	m.mu.RLock()
	out := make([]models.Incident, 0)
	for _, inc := range m.incidents {
		if filter.Matches(inc) {
			out = append(out, inc.Clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
