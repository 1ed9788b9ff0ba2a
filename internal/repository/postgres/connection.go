package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/inseam/inseam/internal/connector"
	"github.com/inseam/inseam/internal/domain"
)

// ConnectionRepo stores per-user inbox grants.
type ConnectionRepo struct{ db *sql.DB }

// NewConnectionRepo creates a Postgres-backed email connection repository.
func NewConnectionRepo(db *sql.DB) *ConnectionRepo { return &ConnectionRepo{db: db} }

// Get returns the user's inbox connection, or connector.ErrNotConnected
// when no inbox has been authorized.
func (r *ConnectionRepo) Get(ctx context.Context, userID string) (*domain.EmailConnection, error) {
	c := &domain.EmailConnection{}
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, grant_id, email, auto_refresh, created_at, updated_at
		FROM email_connections
		WHERE user_id = $1
	`, userID).Scan(&c.UserID, &c.GrantID, &c.Email, &c.AutoRefresh, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, connector.ErrNotConnected
	}
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return c, nil
}

// Save inserts or replaces the user's connection. Reconnecting swaps the
// grant in place and preserves the auto-refresh preference.
func (r *ConnectionRepo) Save(ctx context.Context, c *domain.EmailConnection) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_connections (user_id, grant_id, email, auto_refresh, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (user_id) DO UPDATE
		SET grant_id = EXCLUDED.grant_id, email = EXCLUDED.email, updated_at = now()
	`, c.UserID, c.GrantID, c.Email, c.AutoRefresh)
	if err != nil {
		return fmt.Errorf("save connection: %w", err)
	}
	return nil
}

// SetAutoRefresh toggles background inbox polling for the user.
func (r *ConnectionRepo) SetAutoRefresh(ctx context.Context, userID string, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_connections
		SET auto_refresh = $2, updated_at = now()
		WHERE user_id = $1
	`, userID, enabled)
	if err != nil {
		return fmt.Errorf("set auto refresh: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return connector.ErrNotConnected
	}
	return nil
}

// Delete disconnects the user's inbox.
func (r *ConnectionRepo) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM email_connections WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return nil
}

// ListAutoRefresh returns every connection with background refresh
// enabled, for the periodic inbox worker.
func (r *ConnectionRepo) ListAutoRefresh(ctx context.Context) ([]domain.EmailConnection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, grant_id, email, auto_refresh, created_at, updated_at
		FROM email_connections
		WHERE auto_refresh = true
		ORDER BY user_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list auto refresh: %w", err)
	}
	defer rows.Close()

	var out []domain.EmailConnection
	for rows.Next() {
		var c domain.EmailConnection
		if err := rows.Scan(&c.UserID, &c.GrantID, &c.Email, &c.AutoRefresh, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
