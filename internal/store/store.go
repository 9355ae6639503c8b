// Package store persists incidents with optimistic concurrency.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

const appendRetries = 8

// Store persists incidents. Update succeeds only when the incident's Version matches the stored one,
// and the stored Version is then incremented.
type Store interface {
	Get(ctx context.Context, id string) (models.Incident, error)
	// Create is idempotent on ID: a duplicate returns the stored incident together with ErrAlreadyExists.
	Create(ctx context.Context, inc models.Incident) (models.Incident, error)
	Update(ctx context.Context, inc models.Incident) (models.Incident, error)
	AppendTimelineEvent(ctx context.Context, id string, event models.TimelineEvent) (models.Incident, error)
	Query(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error)
}

// appendWithRetry implements AppendTimelineEvent on top of Get and Update.
func appendWithRetry(ctx context.Context, s Store, id string, event models.TimelineEvent) (models.Incident, error) {
	for attempt := 0; attempt < appendRetries; attempt++ {
		inc, err := s.Get(ctx, id)
		if err != nil {
			return models.Incident{}, err
		}
		inc.Timeline = append(inc.Timeline, event)
		if event.Timestamp.After(inc.UpdatedAt) {
			inc.UpdatedAt = event.Timestamp
		}
		updated, err := s.Update(ctx, inc)
		if errors.Is(err, utils.ErrVersionConflict) {
			continue
		}
		return updated, err
	}
	return models.Incident{}, fmt.Errorf("append timeline event to %s: %w", id, utils.ErrVersionConflict)
}
