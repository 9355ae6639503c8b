// Package approval implements the human approval gate in front of high-risk remediation.
package approval

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// Store persists approvals. UpdateStatus must only succeed while the approval is pending.
type Store interface {
	Get(ctx context.Context, id string) (models.Approval, error)
	Put(ctx context.Context, a models.Approval) error
	UpdateStatus(ctx context.Context, id string, status models.ApprovalStatus, approver, comments string, decidedAt time.Time) (models.Approval, error)
	ListPending(ctx context.Context) ([]models.Approval, error)
	FindPending(ctx context.Context, incidentID string) ([]models.Approval, error)
}

// MemoryStore keeps approvals in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	approvals map[string]models.Approval
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{approvals: make(map[string]models.Approval)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (models.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return models.Approval{}, utils.ErrNotFound
	}
	return a, nil
}

func (m *MemoryStore) Put(_ context.Context, a models.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[a.ID] = a
	return nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status models.ApprovalStatus, approver, comments string, decidedAt time.Time) (models.Approval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.approvals[id]
	if !ok {
		return models.Approval{}, utils.ErrNotFound
	}
	if a.Status != models.ApprovalPending {
		return models.Approval{}, utils.ErrAlreadyProcessed
	}
	a.Status = status
	a.Approver = approver
	a.Comments = comments
	a.DecidedAt = decidedAt
	m.approvals[id] = a
	return a, nil
}

func (m *MemoryStore) ListPending(_ context.Context) ([]models.Approval, error) {
	return m.pending(""), nil
}

func (m *MemoryStore) FindPending(_ context.Context, incidentID string) ([]models.Approval, error) {
	return m.pending(incidentID), nil
}

func (m *MemoryStore) pending(incidentID string) []models.Approval {
	m.mu.Lock()
	out := make([]models.Approval, 0)
	for _, a := range m.approvals {
		if a.Status != models.ApprovalPending {
			continue
		}
		if incidentID != "" && a.IncidentID != incidentID {
			continue
		}
		out = append(out, a)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
