package tracker

import (
	"context"

	"github.com/inseam/inseam/internal/domain"
)

// Repository defines the data access contract for trackers and their rows.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Get returns a single tracker with its columns. Returns ErrNotFound
	// if it doesn't exist. Ownership is NOT checked here; that's the
	// service's job.
	Get(ctx context.Context, id string) (*domain.Tracker, error)

	// ListByUser returns all trackers owned by the user, with columns,
	// ordered by created_at.
	ListByUser(ctx context.Context, userID string) ([]domain.Tracker, error)

	// Create inserts a tracker and its columns, returning the new ID.
	// Returns ErrDuplicateSlug when the (user, slug) pair already exists.
	Create(ctx context.Context, t *domain.Tracker) (string, error)

	// Update replaces the tracker's mutable attributes and column set.
	Update(ctx context.Context, t *domain.Tracker) error

	// Delete removes a tracker and all of its rows.
	Delete(ctx context.Context, id string) error

	// ListRows returns the tracker's rows ordered by created_at.
	ListRows(ctx context.Context, trackerID string) ([]domain.Row, error)

	// FindRowByValue returns the row whose data[key] equals value, or
	// ErrRowNotFound. Used for primary-key matching.
	FindRowByValue(ctx context.Context, trackerID, key string, value interface{}) (*domain.Row, error)

	// InsertRow inserts a new row and returns its ID.
	InsertRow(ctx context.Context, row *domain.Row) (string, error)

	// PatchRow merges data into the row's existing values. The read and
	// write happen in one transaction so concurrent patches serialize at
	// the database.
	PatchRow(ctx context.Context, rowID string, data map[string]interface{}) error
}
