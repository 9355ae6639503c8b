package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// SQLiteStore persists incidents as JSON documents with indexed lifecycle columns.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore wraps a migrated database opened by db.Open.
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type incidentRow struct {
	ID        string `db:"id"`
	Status    string `db:"status"`
	Severity  string `db:"severity"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
	Version   int64  `db:"version"`
	Document  string `db:"document"`
}

func (r incidentRow) incident() (models.Incident, error) {
	var inc models.Incident
	if err := json.Unmarshal([]byte(r.Document), &inc); err != nil {
		return models.Incident{}, fmt.Errorf("decode incident %s: %w", r.ID, err)
	}
	inc.Version = r.Version
	return inc, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (models.Incident, error) {
	var row incidentRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM incidents WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Incident{}, utils.ErrNotFound
	}
	if err != nil {
		return models.Incident{}, utils.NewAppError("store.get", id, err)
	}
	return row.incident()
}

func (s *SQLiteStore) Create(ctx context.Context, inc models.Incident) (models.Incident, error) {
	inc.Version = 1
	doc, err := json.Marshal(inc)
	if err != nil {
		return models.Incident{}, fmt.Errorf("encode incident: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (id, status, severity, created_at, updated_at, version, document)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, inc.ID, inc.Status, inc.Severity, inc.CreatedAt.UnixNano(), inc.UpdatedAt.UnixNano(), inc.Version, string(doc))
	if err != nil {
		return models.Incident{}, utils.NewAppError("store.create", inc.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := s.Get(ctx, inc.ID)
		if err != nil {
			return models.Incident{}, err
		}
		return existing, utils.ErrAlreadyExists
	}
	return inc, nil
}

func (s *SQLiteStore) Update(ctx context.Context, inc models.Incident) (models.Incident, error) {
	expected := inc.Version
	inc.Version = expected + 1
	doc, err := json.Marshal(inc)
	if err != nil {
		return models.Incident{}, fmt.Errorf("encode incident: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents
		SET status = ?, severity = ?, updated_at = ?, version = ?, document = ?
		WHERE id = ? AND version = ?
	`, inc.Status, inc.Severity, inc.UpdatedAt.UnixNano(), inc.Version, string(doc), inc.ID, expected)
	if err != nil {
		return models.Incident{}, utils.NewAppError("store.update", inc.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, inc.ID); err != nil {
			return models.Incident{}, err
		}
		return models.Incident{}, utils.ErrVersionConflict
	}
	return inc, nil
}

func (s *SQLiteStore) AppendTimelineEvent(ctx context.Context, id string, event models.TimelineEvent) (models.Incident, error) {
	return appendWithRetry(ctx, s, id, event)
}

func (s *SQLiteStore) Query(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error) {
	clauses := make([]string, 0, 3)
	args := make([]any, 0, 4)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, st := range filter.Statuses {
			statuses = append(statuses, string(st))
		}
		clauses = append(clauses, "status IN (?)")
		args = append(args, statuses)
	}
	if filter.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if !filter.UpdatedBefore.IsZero() {
		clauses = append(clauses, "updated_at < ?")
		args = append(args, filter.UpdatedBefore.UnixNano())
	}

	query := `SELECT * FROM incidents`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []incidentRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, utils.NewAppError("store.query", "incidents", err)
	}

	out := make([]models.Incident, 0, len(rows))
	for _, row := range rows {
		inc, err := row.incident()
		if err != nil {
			return nil, err
		}
		if !filter.Matches(inc) {
			continue
		}
		out = append(out, inc)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}
