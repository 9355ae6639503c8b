package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/miradorstack/mirador-incident/internal/db"
	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	conn, err := db.Open(context.Background(), filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": NewSQLiteStore(conn),
	}
}

func incident(id string, status models.Status, created time.Time) models.Incident {
	return models.Incident{
		ID:               id,
		Title:            "checkout latency",
		Severity:         models.SeverityHigh,
		Status:           status,
		AffectedServices: []string{"checkout"},
		CreatedAt:        created,
		UpdatedAt:        created,
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	base := time.Unix(1_700_000_000, 0).UTC()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := s.Create(ctx, incident("INC-1", models.StatusOpen, base))
			if err != nil || created.Version != 1 {
				t.Fatalf("create: version=%d err=%v", created.Version, err)
			}

			dup := incident("INC-1", models.StatusResolved, base)
			dup.Title = "other"
			existing, err := s.Create(ctx, dup)
			if !errors.Is(err, utils.ErrAlreadyExists) {
				t.Fatalf("expected ErrAlreadyExists, got %v", err)
			}
			if existing.Title != "checkout latency" || existing.Status != models.StatusOpen {
				t.Fatalf("duplicate create must return stored incident, got %+v", existing)
			}
		})
	}
}

func TestUpdateCompareAndSet(t *testing.T) {
	base := time.Unix(1_700_000_000, 0).UTC()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			inc, _ := s.Create(ctx, incident("INC-2", models.StatusOpen, base))

			stale := inc
			inc.Status = models.StatusTriaged
			updated, err := s.Update(ctx, inc)
			if err != nil || updated.Version != 2 {
				t.Fatalf("update: version=%d err=%v", updated.Version, err)
			}

			stale.Status = models.StatusEscalated
			if _, err := s.Update(ctx, stale); !errors.Is(err, utils.ErrVersionConflict) {
				t.Fatalf("expected version conflict, got %v", err)
			}
			got, err := s.Get(ctx, "INC-2")
			if err != nil || got.Status != models.StatusTriaged || got.Version != 2 {
				t.Fatalf("stale write leaked: %+v err=%v", got, err)
			}

			missing := incident("INC-404", models.StatusOpen, base)
			if _, err := s.Update(ctx, missing); !errors.Is(err, utils.ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}

func TestAppendTimelineEventConcurrent(t *testing.T) {
	base := time.Unix(1_700_000_000, 0).UTC()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Create(ctx, incident("INC-3", models.StatusOpen, base)); err != nil {
				t.Fatalf("create: %v", err)
			}

			const writers = 4
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					event := models.TimelineEvent{Timestamp: base.Add(time.Duration(i+1) * time.Second), Event: "note", Actor: "test"}
					if _, err := s.AppendTimelineEvent(ctx, "INC-3", event); err != nil {
						t.Errorf("append: %v", err)
					}
				}(i)
			}
			wg.Wait()

			got, err := s.Get(ctx, "INC-3")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if len(got.Timeline) != writers {
				t.Fatalf("expected %d events, got %d", writers, len(got.Timeline))
			}
			if got.Version != writers+1 {
				t.Fatalf("expected version %d, got %d", writers+1, got.Version)
			}
		})
	}
}

func TestQueryFilters(t *testing.T) {
	base := time.Unix(1_700_000_000, 0).UTC()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s.Create(ctx, incident("INC-a", models.StatusOpen, base))
			s.Create(ctx, incident("INC-b", models.StatusMonitoring, base.Add(time.Minute)))
			other := incident("INC-c", models.StatusPendingApproval, base.Add(2*time.Minute))
			other.AffectedServices = []string{"payments"}
			s.Create(ctx, other)

			all, err := s.Query(ctx, models.IncidentFilter{})
			if err != nil || len(all) != 3 {
				t.Fatalf("query all: n=%d err=%v", len(all), err)
			}
			if all[0].ID != "INC-c" {
				t.Fatalf("expected newest first, got %s", all[0].ID)
			}

			active, _ := s.Query(ctx, models.IncidentFilter{Statuses: []models.Status{models.StatusMonitoring, models.StatusPendingApproval}})
			if len(active) != 2 {
				t.Fatalf("expected 2 by status, got %d", len(active))
			}

			bySvc, _ := s.Query(ctx, models.IncidentFilter{Service: "payments"})
			if len(bySvc) != 1 || bySvc[0].ID != "INC-c" {
				t.Fatalf("unexpected service filter result %+v", bySvc)
			}

			old, _ := s.Query(ctx, models.IncidentFilter{UpdatedBefore: base.Add(30 * time.Second)})
			if len(old) != 1 || old[0].ID != "INC-a" {
				t.Fatalf("unexpected updated-before result %+v", old)
			}

			limited, _ := s.Query(ctx, models.IncidentFilter{Limit: 1})
			if len(limited) != 1 {
				t.Fatalf("expected limit 1, got %d", len(limited))
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, utils.ErrNotFound) {
				t.Fatalf("expected not found, got %v", err)
			}
		})
	}
}
