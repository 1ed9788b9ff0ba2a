package updates

import (
	"context"

	"github.com/inseam/inseam/internal/domain"
)

// Repository defines the data access contract for centralized updates.
// Implementations must be safe for concurrent use.
type Repository interface {
	// Insert stores a new update. Idempotent on (userID, source,
	// sourceID): when a record for that key already exists, Insert
	// returns its ID with created=false and performs no second insert.
	Insert(ctx context.Context, u *domain.CentralizedUpdate) (id string, created bool, err error)

	// Get returns a single update with embedded proposals. Returns
	// ErrNotFound if it doesn't exist.
	Get(ctx context.Context, id string) (*domain.CentralizedUpdate, error)

	// List returns the user's updates, newest first.
	List(ctx context.Context, userID string, f ListFilter) ([]domain.CentralizedUpdate, error)

	// MarkApproved sets approved=true, processed=true.
	MarkApproved(ctx context.Context, id string) error

	// MarkRejected sets rejected=true, processed=true.
	MarkRejected(ctx context.Context, id string) error

	// MarkAllViewed sets viewed_at=now for the user's unviewed updates
	// and returns how many were touched.
	MarkAllViewed(ctx context.Context, userID string) (int, error)
}

// ListFilter controls filtering for update lists.
type ListFilter struct {
	// Pending limits results to unprocessed updates.
	Pending bool
	Limit   int
	Offset  int
}
