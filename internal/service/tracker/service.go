package tracker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inseam/inseam/internal/domain"
)

// Service implements tracker business logic over a Repository.
type Service struct {
	repo Repository
}

// NewService creates a tracker service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// GetOwned returns the tracker if it exists and belongs to userID.
func (s *Service) GetOwned(ctx context.Context, userID, id string) (*domain.Tracker, error) {
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrForbidden
	}
	return t, nil
}

// List returns all trackers owned by the user.
func (s *Service) List(ctx context.Context, userID string) ([]domain.Tracker, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Create validates and inserts a new tracker for the user. The slug is
// derived from the name when absent.
func (s *Service) Create(ctx context.Context, userID string, t *domain.Tracker) (*domain.Tracker, error) {
	t.UserID = userID
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Slug == "" {
		t.Slug = domain.Slugify(t.Name)
	}
	for i := range t.Columns {
		if t.Columns[i].ID == "" {
			t.Columns[i].ID = uuid.New().String()
		}
		if t.Columns[i].Position == 0 {
			t.Columns[i].Position = i
		}
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracker: %w", err)
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	if _, err := s.repo.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Update validates and persists changes to an owned tracker.
func (s *Service) Update(ctx context.Context, userID string, t *domain.Tracker) error {
	existing, err := s.GetOwned(ctx, userID, t.ID)
	if err != nil {
		return err
	}
	t.UserID = existing.UserID
	t.CreatedAt = existing.CreatedAt
	for i := range t.Columns {
		if t.Columns[i].ID == "" {
			t.Columns[i].ID = uuid.New().String()
		}
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid tracker: %w", err)
	}
	t.UpdatedAt = time.Now().UTC()
	return s.repo.Update(ctx, t)
}

// Delete removes an owned tracker and its rows.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.GetOwned(ctx, userID, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

// ListRows returns the rows of an owned tracker.
func (s *Service) ListRows(ctx context.Context, userID, trackerID string) ([]domain.Row, error) {
	if _, err := s.GetOwned(ctx, userID, trackerID); err != nil {
		return nil, err
	}
	return s.repo.ListRows(ctx, trackerID)
}
