// Package pipeline runs the email-to-tracker batch: fetch unseen
// messages, match and extract per email with the LLM, build row
// proposals, and store them for review. One email's failure never
// aborts its siblings.
package pipeline

import (
	"context"
	"fmt"

	"github.com/inseam/inseam/internal/domain"
	"github.com/inseam/inseam/internal/pkg/logger"
	"github.com/inseam/inseam/internal/storage"
)

// EmailSource reads recent messages for an authorized grant. The
// connector client satisfies this; fetch retries live inside it.
type EmailSource interface {
	FetchRecentEmails(ctx context.Context, grantID string, count int) ([]domain.Email, error)
}

// ConnectionSource resolves a user's inbox grant. Returns
// connector.ErrNotConnected when no inbox is linked.
type ConnectionSource interface {
	Get(ctx context.Context, userID string) (*domain.EmailConnection, error)
}

// overfetchFactor covers messages the checkpoint filter will drop, so a
// mostly-processed inbox still fills the batch.
const overfetchFactor = 4

// Fetcher pulls unseen emails for a user: connector fetch, then
// checkpoint filter, then cap at the batch limit. Order is the
// connector's newest-first and is preserved through filtering.
type Fetcher struct {
	source      EmailSource
	connections ConnectionSource
	store       storage.Store
}

func NewFetcher(source EmailSource, connections ConnectionSource, store storage.Store) *Fetcher {
	return &Fetcher{source: source, connections: connections, store: store}
}

// FetchNew returns up to limit unseen emails, newest first. A user with
// no linked inbox gets connector.ErrNotConnected, which callers must
// keep distinct from an empty (caught-up) result.
func (f *Fetcher) FetchNew(ctx context.Context, userID string, limit int) ([]domain.Email, error) {
	conn, err := f.connections.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	emails, err := f.source.FetchRecentEmails(ctx, conn.GrantID, limit*overfetchFactor)
	if err != nil {
		return nil, fmt.Errorf("fetching emails: %w", err)
	}
	if len(emails) == 0 {
		return nil, nil
	}

	ids := make([]string, len(emails))
	byID := make(map[string]domain.Email, len(emails))
	for i, e := range emails {
		ids[i] = e.ID
		byID[e.ID] = e
	}

	unseen, err := f.store.FilterUnprocessed(ctx, userID, ids)
	if err != nil {
		return nil, fmt.Errorf("filtering processed emails: %w", err)
	}

	var out []domain.Email
	for _, id := range unseen {
		out = append(out, byID[id])
		if len(out) == limit {
			break
		}
	}

	logger.Debug("fetched inbox batch",
		"user_id", userID,
		"fetched", len(emails),
		"unseen", len(unseen),
		"batch", len(out))
	return out, nil
}
