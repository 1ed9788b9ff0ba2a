package updates

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inseam/inseam/internal/domain"
	"github.com/inseam/inseam/internal/pkg/distlock"
	"github.com/inseam/inseam/internal/pkg/logger"
	"github.com/inseam/inseam/internal/service/tracker"
)

// LockFactory builds a distributed lock for a key. Nil disables locking
// (single-instance deployments and tests).
type LockFactory func(key string) distlock.DistLock

// Service implements update review logic: storing pipeline output and
// applying or discarding it on user decision.
type Service struct {
	repo     Repository
	trackers tracker.Repository
	newLock  LockFactory
}

// NewService creates an updates service.
func NewService(repo Repository, trackers tracker.Repository, newLock LockFactory) *Service {
	return &Service{repo: repo, trackers: trackers, newLock: newLock}
}

// Store persists the pipeline's result for one email. Idempotent per
// (userID, source, sourceID); replaying an already-stored email returns
// the existing ID.
func (s *Service) Store(ctx context.Context, u *domain.CentralizedUpdate) (string, error) {
	if u.UserID == "" || u.SourceID == "" {
		return "", fmt.Errorf("updates: user id and source id are required")
	}
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Source == "" {
		u.Source = domain.SourceEmail
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}

	id, created, err := s.repo.Insert(ctx, u)
	if err != nil {
		return "", fmt.Errorf("updates: store: %w", err)
	}
	if !created {
		logger.Debug("duplicate update store resolved to existing record",
			"source_id", u.SourceID, "update_id", id)
	}
	return id, nil
}

// Get returns an owned update.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.CentralizedUpdate, error) {
	u, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if u.UserID != userID {
		return nil, ErrForbidden
	}
	return u, nil
}

// List returns the user's updates.
func (s *Service) List(ctx context.Context, userID string, f ListFilter) ([]domain.CentralizedUpdate, error) {
	return s.repo.List(ctx, userID, f)
}

// Approve applies the update's proposals to tracker rows and marks it
// approved+processed. editedProposals, when non-nil, replaces the stored
// proposals (the user may have corrected values in review). An update
// that is already processed is never applied twice.
//
// Concurrent approvals touching the same row serialize on a per-row
// distributed lock; within the merge itself, last write wins.
func (s *Service) Approve(ctx context.Context, userID, updateID string, editedProposals []domain.TrackerProposal) error {
	u, err := s.Get(ctx, userID, updateID)
	if err != nil {
		return err
	}
	if u.Processed {
		return ErrAlreadyProcessed
	}

	proposals := u.Proposals
	if editedProposals != nil {
		proposals = editedProposals
	}

	for _, p := range proposals {
		if err := s.applyProposal(ctx, userID, p); err != nil {
			return fmt.Errorf("updates: apply proposal for tracker %s: %w", p.TrackerID, err)
		}
	}

	if err := s.repo.MarkApproved(ctx, updateID); err != nil {
		return fmt.Errorf("updates: mark approved: %w", err)
	}
	logger.Info("update approved", "update_id", updateID, "proposals", len(proposals))
	return nil
}

// Reject marks the update rejected+processed without touching any rows.
func (s *Service) Reject(ctx context.Context, userID, updateID string) error {
	u, err := s.Get(ctx, userID, updateID)
	if err != nil {
		return err
	}
	if u.Processed {
		return ErrAlreadyProcessed
	}
	if err := s.repo.MarkRejected(ctx, updateID); err != nil {
		return fmt.Errorf("updates: mark rejected: %w", err)
	}
	logger.Info("update rejected", "update_id", updateID)
	return nil
}

// MarkAllViewed stamps viewed_at on every unviewed update for the user.
func (s *Service) MarkAllViewed(ctx context.Context, userID string) (int, error) {
	return s.repo.MarkAllViewed(ctx, userID)
}

// applyProposal mutates one tracker's row data under ownership and
// row-lock checks.
func (s *Service) applyProposal(ctx context.Context, userID string, p domain.TrackerProposal) error {
	t, err := s.trackers.Get(ctx, p.TrackerID)
	if err != nil {
		return err
	}
	if t.UserID != userID {
		return tracker.ErrForbidden
	}

	data := make(map[string]interface{}, len(p.Updates))
	for _, cu := range p.Updates {
		if t.ColumnByKey(cu.ColumnKey) == nil {
			return fmt.Errorf("unknown column %q", cu.ColumnKey)
		}
		data[cu.ColumnKey] = cu.ProposedValue
	}
	if len(data) == 0 {
		return nil
	}

	// Serialize concurrent approvals hitting the same logical row
	lockKey := fmt.Sprintf("approve:%s:%s", p.TrackerID, p.RowID)
	if p.IsNewRow {
		lockKey = fmt.Sprintf("approve:%s:new:%v", p.TrackerID, data[t.PrimaryKey])
	}
	if s.newLock != nil {
		lock := s.newLock(lockKey)
		acquired, err := lock.Acquire(ctx)
		if err != nil {
			return fmt.Errorf("acquire row lock: %w", err)
		}
		if !acquired {
			return fmt.Errorf("row is being modified by another approval")
		}
		defer lock.Release(ctx)
	}

	if p.IsNewRow {
		// Primary-key value may have landed while the proposal sat in
		// review; re-check before inserting a duplicate row.
		if t.PrimaryKey != "" {
			if pk, ok := data[t.PrimaryKey]; ok {
				if existing, err := s.trackers.FindRowByValue(ctx, t.ID, t.PrimaryKey, pk); err == nil {
					return s.trackers.PatchRow(ctx, existing.ID, data)
				} else if err != tracker.ErrRowNotFound {
					return err
				}
			}
		}
		_, err := s.trackers.InsertRow(ctx, &domain.Row{
			ID:        uuid.New().String(),
			TrackerID: t.ID,
			Data:      data,
		})
		return err
	}

	rowID := p.RowID
	if rowID == "" {
		return fmt.Errorf("proposal targets an existing row but has no row id")
	}
	return s.trackers.PatchRow(ctx, rowID, data)
}
