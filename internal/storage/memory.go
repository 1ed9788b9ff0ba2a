package storage

import (
	"context"
	"sync"
	"time"

	"github.com/inseam/inseam/internal/domain"
)

// MemoryStore is an in-process Store for tests and deployments without
// AWS. Checkpoints expire by TTL the same way DynamoDB prunes them.
type MemoryStore struct {
	mu            sync.RWMutex
	checkpoints   map[string]map[string]time.Time
	workflows     map[string]map[string]*WorkflowStatus
	archived      map[string][]domain.Email
	checkpointTTL time.Duration
	now           func() time.Time
}

// NewMemoryStore creates an empty store. A zero ttl means checkpoints
// never expire.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		checkpoints:   make(map[string]map[string]time.Time),
		workflows:     make(map[string]map[string]*WorkflowStatus),
		archived:      make(map[string][]domain.Email),
		checkpointTTL: ttl,
		now:           time.Now,
	}
}

func (m *MemoryStore) FilterUnprocessed(ctx context.Context, userID string, emailIDs []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := m.checkpoints[userID]
	now := m.now()

	var out []string
	for _, id := range emailIDs {
		at, ok := seen[id]
		if ok && m.checkpointTTL > 0 && now.Sub(at) > m.checkpointTTL {
			ok = false
		}
		if !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkProcessed(ctx context.Context, userID string, emailIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := m.checkpoints[userID]
	if seen == nil {
		seen = make(map[string]time.Time)
		m.checkpoints[userID] = seen
	}
	now := m.now()
	for _, id := range emailIDs {
		seen[id] = now
	}
	return nil
}

func (m *MemoryStore) SaveWorkflowStatus(ctx context.Context, ws *WorkflowStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := m.workflows[ws.UserID]
	if runs == nil {
		runs = make(map[string]*WorkflowStatus)
		m.workflows[ws.UserID] = runs
	}
	cp := *ws
	runs[ws.ID] = &cp
	return nil
}

func (m *MemoryStore) GetWorkflowStatus(ctx context.Context, userID, workflowID string) (*WorkflowStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ws, ok := m.workflows[userID][workflowID]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	cp := *ws
	return &cp, nil
}

func (m *MemoryStore) ArchiveEmail(ctx context.Context, userID string, email domain.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archived[userID] = append(m.archived[userID], email)
	return nil
}

// ArchivedEmails returns the archive for inspection in tests.
func (m *MemoryStore) ArchivedEmails(userID string) []domain.Email {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]domain.Email(nil), m.archived[userID]...)
}
