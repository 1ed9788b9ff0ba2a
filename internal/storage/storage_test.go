package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inseam/inseam/internal/domain"
)

func TestMemoryStore_FilterUnprocessed(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	ids := []string{"email-1", "email-2", "email-3"}
	got, err := store.FilterUnprocessed(ctx, "user-1", ids)
	require.NoError(t, err)
	assert.Equal(t, ids, got)

	require.NoError(t, store.MarkProcessed(ctx, "user-1", []string{"email-2"}))

	got, err = store.FilterUnprocessed(ctx, "user-1", ids)
	require.NoError(t, err)
	assert.Equal(t, []string{"email-1", "email-3"}, got)
}

func TestMemoryStore_CheckpointsAreScopedPerUser(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.MarkProcessed(ctx, "user-1", []string{"email-1"}))

	got, err := store.FilterUnprocessed(ctx, "user-2", []string{"email-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"email-1"}, got)
}

func TestMemoryStore_MarkProcessedTwiceIsHarmless(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	require.NoError(t, store.MarkProcessed(ctx, "user-1", []string{"email-1"}))
	require.NoError(t, store.MarkProcessed(ctx, "user-1", []string{"email-1"}))

	got, err := store.FilterUnprocessed(ctx, "user-1", []string{"email-1"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStore_CheckpointTTLExpiry(t *testing.T) {
	store := NewMemoryStore(24 * time.Hour)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	require.NoError(t, store.MarkProcessed(ctx, "user-1", []string{"email-1"}))

	// Within TTL the checkpoint holds
	store.now = func() time.Time { return base.Add(23 * time.Hour) }
	got, err := store.FilterUnprocessed(ctx, "user-1", []string{"email-1"})
	require.NoError(t, err)
	assert.Empty(t, got)

	// After TTL the ID is eligible for reprocessing again
	store.now = func() time.Time { return base.Add(25 * time.Hour) }
	got, err = store.FilterUnprocessed(ctx, "user-1", []string{"email-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"email-1"}, got)
}

func TestMemoryStore_WorkflowStatus(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	_, err := store.GetWorkflowStatus(ctx, "user-1", "wf-1")
	assert.ErrorIs(t, err, ErrWorkflowNotFound)

	ws := &WorkflowStatus{
		ID:          "wf-1",
		UserID:      "user-1",
		Status:      WorkflowRunning,
		TotalEmails: 5,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, store.SaveWorkflowStatus(ctx, ws))

	got, err := store.GetWorkflowStatus(ctx, "user-1", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, WorkflowRunning, got.Status)
	assert.Equal(t, 5, got.TotalEmails)

	// Saved record is a copy; mutating the original must not leak through
	ws.Status = WorkflowFailed
	got, err = store.GetWorkflowStatus(ctx, "user-1", "wf-1")
	require.NoError(t, err)
	assert.Equal(t, WorkflowRunning, got.Status)
}

func TestMemoryStore_ArchiveEmail(t *testing.T) {
	store := NewMemoryStore(0)
	ctx := context.Background()

	email := domain.Email{ID: "email-1", Subject: "Your order shipped"}
	require.NoError(t, store.ArchiveEmail(ctx, "user-1", email))

	archived := store.ArchivedEmails("user-1")
	require.Len(t, archived, 1)
	assert.Equal(t, "Your order shipped", archived[0].Subject)
	assert.Empty(t, store.ArchivedEmails("user-2"))
}

func TestDynamoKeyLayout(t *testing.T) {
	assert.Equal(t, "USER#user-1#EMAIL", checkpointPK("user-1"))
	assert.Equal(t, "USER#user-1#WORKFLOW", workflowPK("user-1"))
}
