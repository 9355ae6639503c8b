package approval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/miradorstack/mirador-incident/internal/models"
	"github.com/miradorstack/mirador-incident/internal/utils"
)

// SQLiteStore persists approvals in the approvals table.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore wraps a migrated database opened by db.Open.
func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type approvalRow struct {
	ID          string `db:"id"`
	IncidentID  string `db:"incident_id"`
	Status      string `db:"status"`
	Risk        string `db:"risk"`
	Plan        string `db:"plan"`
	RequestedBy string `db:"requested_by"`
	Approver    string `db:"approver"`
	Comments    string `db:"comments"`
	CreatedAt   int64  `db:"created_at"`
	ExpiresAt   int64  `db:"expires_at"`
	DecidedAt   int64  `db:"decided_at"`
}

func (r approvalRow) approval() (models.Approval, error) {
	a := models.Approval{
		ID:          r.ID,
		IncidentID:  r.IncidentID,
		Status:      models.ApprovalStatus(r.Status),
		Risk:        models.Risk(r.Risk),
		RequestedBy: r.RequestedBy,
		Approver:    r.Approver,
		Comments:    r.Comments,
		CreatedAt:   fromNanos(r.CreatedAt),
		ExpiresAt:   fromNanos(r.ExpiresAt),
		DecidedAt:   fromNanos(r.DecidedAt),
	}
	if err := json.Unmarshal([]byte(r.Plan), &a.Plan); err != nil {
		return models.Approval{}, fmt.Errorf("decode approval plan %s: %w", r.ID, err)
	}
	return a, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (models.Approval, error) {
	var row approvalRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM approvals WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Approval{}, utils.ErrNotFound
	}
	if err != nil {
		return models.Approval{}, utils.NewAppError("approval.get", id, err)
	}
	return row.approval()
}

func (s *SQLiteStore) Put(ctx context.Context, a models.Approval) error {
	plan, err := json.Marshal(a.Plan)
	if err != nil {
		return fmt.Errorf("encode approval plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO approvals (id, incident_id, status, risk, plan, requested_by, approver, comments, created_at, expires_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			risk = excluded.risk,
			plan = excluded.plan,
			approver = excluded.approver,
			comments = excluded.comments,
			expires_at = excluded.expires_at,
			decided_at = excluded.decided_at
	`, a.ID, a.IncidentID, a.Status, a.Risk, string(plan), a.RequestedBy, a.Approver, a.Comments,
		toNanos(a.CreatedAt), toNanos(a.ExpiresAt), toNanos(a.DecidedAt))
	if err != nil {
		return utils.NewAppError("approval.put", a.ID, err)
	}
	return nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status models.ApprovalStatus, approver, comments string, decidedAt time.Time) (models.Approval, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE approvals
		SET status = ?, approver = ?, comments = ?, decided_at = ?
		WHERE id = ? AND status = 'pending'
	`, status, approver, comments, toNanos(decidedAt), id)
	if err != nil {
		return models.Approval{}, utils.NewAppError("approval.update_status", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return models.Approval{}, err
		}
		return models.Approval{}, utils.ErrAlreadyProcessed
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]models.Approval, error) {
	return s.selectApprovals(ctx, `SELECT * FROM approvals WHERE status = 'pending' ORDER BY created_at, id`)
}

func (s *SQLiteStore) FindPending(ctx context.Context, incidentID string) ([]models.Approval, error) {
	return s.selectApprovals(ctx, `SELECT * FROM approvals WHERE incident_id = ? AND status = 'pending' ORDER BY created_at, id`, incidentID)
}

func (s *SQLiteStore) selectApprovals(ctx context.Context, query string, args ...any) ([]models.Approval, error) {
	var rows []approvalRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, utils.NewAppError("approval.select", "approvals", err)
	}
	out := make([]models.Approval, 0, len(rows))
	for _, row := range rows {
		a, err := row.approval()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
