package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/inseam/inseam/internal/domain"
	"github.com/inseam/inseam/internal/service/updates"
)

// UpdateRepo implements updates.Repository against PostgreSQL.
type UpdateRepo struct{ db *sql.DB }

// NewUpdateRepo creates a Postgres-backed centralized update repository.
func NewUpdateRepo(db *sql.DB) *UpdateRepo { return &UpdateRepo{db: db} }

const updateColumns = `
	id, user_id, source, source_id, matches, proposals, category, title,
	summary, sender_name, sender_addr, source_quote, source_time,
	processed, approved, rejected, created_at, viewed_at`

// Insert stores a new update. The (user_id, source, source_id) unique
// constraint makes replays a no-op: ON CONFLICT DO NOTHING inserts zero
// rows, and the follow-up SELECT returns the existing record's ID.
func (r *UpdateRepo) Insert(ctx context.Context, u *domain.CentralizedUpdate) (string, bool, error) {
	matches, err := json.Marshal(u.Matches)
	if err != nil {
		return "", false, fmt.Errorf("encode matches: %w", err)
	}
	proposals, err := json.Marshal(u.Proposals)
	if err != nil {
		return "", false, fmt.Errorf("encode proposals: %w", err)
	}

	var id string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO centralized_updates (
			id, user_id, source, source_id, matches, proposals, category,
			title, summary, sender_name, sender_addr, source_quote,
			source_time, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (user_id, source, source_id) DO NOTHING
		RETURNING id
	`, u.ID, u.UserID, u.Source, u.SourceID, matches, proposals, u.Category,
		u.Title, u.Summary, u.SenderName, u.SenderAddr, u.SourceQuote,
		u.SourceTime, u.CreatedAt,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if err != sql.ErrNoRows {
		return "", false, fmt.Errorf("insert update: %w", err)
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT id FROM centralized_updates
		WHERE user_id = $1 AND source = $2 AND source_id = $3
	`, u.UserID, u.Source, u.SourceID).Scan(&id)
	if err != nil {
		return "", false, fmt.Errorf("lookup existing update: %w", err)
	}
	return id, false, nil
}

func (r *UpdateRepo) Get(ctx context.Context, id string) (*domain.CentralizedUpdate, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+updateColumns+`
		FROM centralized_updates
		WHERE id = $1
	`, id)

	u, err := scanUpdate(row)
	if err == sql.ErrNoRows {
		return nil, updates.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get update: %w", err)
	}
	return u, nil
}

func (r *UpdateRepo) List(ctx context.Context, userID string, f updates.ListFilter) ([]domain.CentralizedUpdate, error) {
	query := `
		SELECT ` + updateColumns + `
		FROM centralized_updates
		WHERE user_id = $1`
	args := []interface{}{userID}
	if f.Pending {
		query += ` AND processed = false`
	}
	query += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(` OFFSET $%d`, len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list updates: %w", err)
	}
	defer rows.Close()

	var out []domain.CentralizedUpdate
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan update: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (r *UpdateRepo) MarkApproved(ctx context.Context, id string) error {
	return r.markProcessed(ctx, id, "approved")
}

func (r *UpdateRepo) MarkRejected(ctx context.Context, id string) error {
	return r.markProcessed(ctx, id, "rejected")
}

func (r *UpdateRepo) markProcessed(ctx context.Context, id, flag string) error {
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE centralized_updates
		SET processed = true, %s = true
		WHERE id = $1
	`, flag), id)
	if err != nil {
		return fmt.Errorf("mark %s: %w", flag, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return updates.ErrNotFound
	}
	return nil
}

func (r *UpdateRepo) MarkAllViewed(ctx context.Context, userID string) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE centralized_updates
		SET viewed_at = now()
		WHERE user_id = $1 AND viewed_at IS NULL
	`, userID)
	if err != nil {
		return 0, fmt.Errorf("mark viewed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark viewed: %w", err)
	}
	return int(n), nil
}

func scanUpdate(s rowScanner) (*domain.CentralizedUpdate, error) {
	var u domain.CentralizedUpdate
	var matches, proposals []byte
	var sourceTime, viewedAt sql.NullTime
	err := s.Scan(
		&u.ID, &u.UserID, &u.Source, &u.SourceID, &matches, &proposals,
		&u.Category, &u.Title, &u.Summary, &u.SenderName, &u.SenderAddr,
		&u.SourceQuote, &sourceTime, &u.Processed, &u.Approved, &u.Rejected,
		&u.CreatedAt, &viewedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(matches, &u.Matches); err != nil {
		return nil, fmt.Errorf("decode matches: %w", err)
	}
	if err := json.Unmarshal(proposals, &u.Proposals); err != nil {
		return nil, fmt.Errorf("decode proposals: %w", err)
	}
	if sourceTime.Valid {
		u.SourceTime = sourceTime.Time
	}
	if viewedAt.Valid {
		t := viewedAt.Time
		u.ViewedAt = &t
	}
	return &u, nil
}
