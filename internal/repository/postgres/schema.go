// Package postgres implements the service repository interfaces against
// PostgreSQL. Tracker schemas live in normalized tables; row data and
// embedded proposals are JSONB documents.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureSchema creates the Inseam tables when they do not exist yet.
// Production deployments run real migrations; this keeps local and test
// environments bootable from an empty database.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trackers (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			slug TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			primary_key TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (user_id, slug)
		)`,
		`CREATE TABLE IF NOT EXISTS tracker_columns (
			id UUID PRIMARY KEY,
			tracker_id UUID NOT NULL REFERENCES trackers(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			key TEXT NOT NULL,
			type TEXT NOT NULL,
			required BOOLEAN NOT NULL DEFAULT false,
			enum_options JSONB NOT NULL DEFAULT '[]',
			aliases JSONB NOT NULL DEFAULT '[]',
			ai_enabled BOOLEAN NOT NULL DEFAULT true,
			color TEXT NOT NULL DEFAULT '',
			position INT NOT NULL DEFAULT 0,
			UNIQUE (tracker_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS tracker_rows (
			id UUID PRIMARY KEY,
			tracker_id UUID NOT NULL REFERENCES trackers(id) ON DELETE CASCADE,
			data JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS centralized_updates (
			id UUID PRIMARY KEY,
			user_id TEXT NOT NULL,
			source TEXT NOT NULL,
			source_id TEXT NOT NULL,
			matches JSONB NOT NULL DEFAULT '[]',
			proposals JSONB NOT NULL DEFAULT '[]',
			category TEXT NOT NULL DEFAULT 'general',
			title TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			sender_name TEXT NOT NULL DEFAULT '',
			sender_addr TEXT NOT NULL DEFAULT '',
			source_quote TEXT NOT NULL DEFAULT '',
			source_time TIMESTAMPTZ,
			processed BOOLEAN NOT NULL DEFAULT false,
			approved BOOLEAN NOT NULL DEFAULT false,
			rejected BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			viewed_at TIMESTAMPTZ,
			UNIQUE (user_id, source, source_id)
		)`,
		`CREATE TABLE IF NOT EXISTS email_connections (
			user_id TEXT PRIMARY KEY,
			grant_id TEXT NOT NULL,
			email TEXT NOT NULL,
			auto_refresh BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_updates_user_pending
			ON centralized_updates (user_id, processed, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_rows_tracker
			ON tracker_rows (tracker_id)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
