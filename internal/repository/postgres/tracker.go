package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/inseam/inseam/internal/domain"
	"github.com/inseam/inseam/internal/service/tracker"
)

// TrackerRepo implements tracker.Repository against PostgreSQL.
type TrackerRepo struct{ db *sql.DB }

// NewTrackerRepo creates a Postgres-backed tracker repository.
func NewTrackerRepo(db *sql.DB) *TrackerRepo { return &TrackerRepo{db: db} }

func (r *TrackerRepo) Get(ctx context.Context, id string) (*domain.Tracker, error) {
	t := &domain.Tracker{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, slug, description, color, primary_key, created_at, updated_at
		FROM trackers
		WHERE id = $1
	`, id).Scan(
		&t.ID, &t.UserID, &t.Name, &t.Slug, &t.Description, &t.Color,
		&t.PrimaryKey, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, tracker.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracker: %w", err)
	}

	cols, err := r.loadColumns(ctx, []string{t.ID})
	if err != nil {
		return nil, err
	}
	t.Columns = cols[t.ID]
	return t, nil
}

func (r *TrackerRepo) ListByUser(ctx context.Context, userID string) ([]domain.Tracker, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, slug, description, color, primary_key, created_at, updated_at
		FROM trackers
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list trackers: %w", err)
	}
	defer rows.Close()

	var out []domain.Tracker
	var ids []string
	for rows.Next() {
		var t domain.Tracker
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Name, &t.Slug, &t.Description, &t.Color,
			&t.PrimaryKey, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tracker: %w", err)
		}
		out = append(out, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list trackers: %w", err)
	}

	if len(ids) > 0 {
		cols, err := r.loadColumns(ctx, ids)
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i].Columns = cols[out[i].ID]
		}
	}
	return out, nil
}

func (r *TrackerRepo) loadColumns(ctx context.Context, trackerIDs []string) (map[string][]domain.Column, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT tracker_id, id, name, key, type, required, enum_options, aliases, ai_enabled, color, position
		FROM tracker_columns
		WHERE tracker_id = ANY($1)
		ORDER BY tracker_id, position
	`, pq.Array(trackerIDs))
	if err != nil {
		return nil, fmt.Errorf("load columns: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]domain.Column)
	for rows.Next() {
		var trackerID string
		var c domain.Column
		var enumOptions, aliases []byte
		if err := rows.Scan(
			&trackerID, &c.ID, &c.Name, &c.Key, &c.Type, &c.Required,
			&enumOptions, &aliases, &c.AIEnabled, &c.Color, &c.Position,
		); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		if err := json.Unmarshal(enumOptions, &c.EnumOptions); err != nil {
			return nil, fmt.Errorf("decode enum options: %w", err)
		}
		if err := json.Unmarshal(aliases, &c.Aliases); err != nil {
			return nil, fmt.Errorf("decode aliases: %w", err)
		}
		out[trackerID] = append(out[trackerID], c)
	}
	return out, rows.Err()
}

func (r *TrackerRepo) Create(ctx context.Context, t *domain.Tracker) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("create tracker: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trackers (id, user_id, name, slug, description, color, primary_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, t.ID, t.UserID, t.Name, t.Slug, t.Description, t.Color, t.PrimaryKey, t.CreatedAt, t.UpdatedAt)
	if isUniqueViolation(err) {
		return "", tracker.ErrDuplicateSlug
	}
	if err != nil {
		return "", fmt.Errorf("insert tracker: %w", err)
	}

	if err := insertColumns(ctx, tx, t.ID, t.Columns); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("create tracker: %w", err)
	}
	return t.ID, nil
}

func (r *TrackerRepo) Update(ctx context.Context, t *domain.Tracker) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update tracker: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE trackers
		SET name = $2, slug = $3, description = $4, color = $5, primary_key = $6, updated_at = $7
		WHERE id = $1
	`, t.ID, t.Name, t.Slug, t.Description, t.Color, t.PrimaryKey, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update tracker: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tracker.ErrNotFound
	}

	// Column set is replaced wholesale; row data keyed by column key survives
	if _, err := tx.ExecContext(ctx, `DELETE FROM tracker_columns WHERE tracker_id = $1`, t.ID); err != nil {
		return fmt.Errorf("replace columns: %w", err)
	}
	if err := insertColumns(ctx, tx, t.ID, t.Columns); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update tracker: %w", err)
	}
	return nil
}

func insertColumns(ctx context.Context, tx *sql.Tx, trackerID string, cols []domain.Column) error {
	for _, c := range cols {
		enumOptions, err := json.Marshal(orEmpty(c.EnumOptions))
		if err != nil {
			return fmt.Errorf("encode enum options: %w", err)
		}
		aliases, err := json.Marshal(orEmpty(c.Aliases))
		if err != nil {
			return fmt.Errorf("encode aliases: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tracker_columns (id, tracker_id, name, key, type, required, enum_options, aliases, ai_enabled, color, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, c.ID, trackerID, c.Name, c.Key, c.Type, c.Required, enumOptions, aliases, c.AIEnabled, c.Color, c.Position)
		if err != nil {
			return fmt.Errorf("insert column %q: %w", c.Key, err)
		}
	}
	return nil
}

func (r *TrackerRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM trackers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete tracker: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tracker.ErrNotFound
	}
	return nil
}

func (r *TrackerRepo) ListRows(ctx context.Context, trackerID string) ([]domain.Row, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tracker_id, data, created_at, updated_at
		FROM tracker_rows
		WHERE tracker_id = $1
		ORDER BY created_at
	`, trackerID)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	defer rows.Close()

	var out []domain.Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

func (r *TrackerRepo) FindRowByValue(ctx context.Context, trackerID, key string, value interface{}) (*domain.Row, error) {
	// JSONB text comparison; values are normalized to their JSON form
	valJSON, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode lookup value: %w", err)
	}
	row := r.db.QueryRowContext(ctx, `
		SELECT id, tracker_id, data, created_at, updated_at
		FROM tracker_rows
		WHERE tracker_id = $1 AND data -> $2 = $3::jsonb
		LIMIT 1
	`, trackerID, key, string(valJSON))

	out, err := scanRowSingle(row)
	if err == sql.ErrNoRows {
		return nil, tracker.ErrRowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find row: %w", err)
	}
	return out, nil
}

func (r *TrackerRepo) InsertRow(ctx context.Context, row *domain.Row) (string, error) {
	data, err := json.Marshal(row.Data)
	if err != nil {
		return "", fmt.Errorf("encode row data: %w", err)
	}
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO tracker_rows (id, tracker_id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
	`, row.ID, row.TrackerID, data, now)
	if err != nil {
		return "", fmt.Errorf("insert row: %w", err)
	}
	return row.ID, nil
}

// PatchRow merges data into the row's JSONB document. The || merge runs
// inside the UPDATE so concurrent patches serialize at the database; the
// last writer wins per key.
func (r *TrackerRepo) PatchRow(ctx context.Context, rowID string, data map[string]interface{}) error {
	patch, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE tracker_rows
		SET data = data || $2::jsonb, updated_at = now()
		WHERE id = $1
	`, rowID, patch)
	if err != nil {
		return fmt.Errorf("patch row: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return tracker.ErrRowNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRow(s rowScanner) (*domain.Row, error) {
	var row domain.Row
	var data []byte
	if err := s.Scan(&row.ID, &row.TrackerID, &data, &row.CreatedAt, &row.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &row.Data); err != nil {
		return nil, fmt.Errorf("decode row data: %w", err)
	}
	return &row, nil
}

func scanRowSingle(s rowScanner) (*domain.Row, error) {
	row, err := scanRow(s)
	if err != nil {
		return nil, err
	}
	return row, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
