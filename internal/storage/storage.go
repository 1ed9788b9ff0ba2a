// Package storage tracks pipeline state that lives outside PostgreSQL:
// which email IDs each user has already processed, workflow status records
// for run polling, and an archive of raw messages. DynamoDB backs
// production; an in-memory store backs tests and AWS-less deployments.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/inseam/inseam/internal/domain"
)

// ErrWorkflowNotFound is returned when a polled workflow ID is unknown.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Workflow run states.
const (
	WorkflowRunning   = "running"
	WorkflowCompleted = "completed"
	WorkflowFailed    = "failed"
)

// WorkflowStatus is the pollable record of one inbox processing run.
type WorkflowStatus struct {
	ID              string     `json:"id" dynamodbav:"-"`
	UserID          string     `json:"user_id" dynamodbav:"-"`
	Status          string     `json:"status"`
	TotalEmails     int        `json:"total_emails"`
	ProcessedEmails int        `json:"processed_emails"`
	FailedEmails    int        `json:"failed_emails"`
	TotalProposals  int        `json:"total_proposals"`
	Error           string     `json:"error,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// Store is the pipeline's side-state contract.
type Store interface {
	// FilterUnprocessed returns the subset of emailIDs the user has not
	// processed yet, preserving input order.
	FilterUnprocessed(ctx context.Context, userID string, emailIDs []string) ([]string, error)

	// MarkProcessed checkpoints the given email IDs. Re-marking an
	// already-checkpointed ID is a harmless overwrite.
	MarkProcessed(ctx context.Context, userID string, emailIDs []string) error

	// SaveWorkflowStatus upserts a run's status record.
	SaveWorkflowStatus(ctx context.Context, ws *WorkflowStatus) error

	// GetWorkflowStatus returns a run's status, or ErrWorkflowNotFound.
	GetWorkflowStatus(ctx context.Context, userID, workflowID string) (*WorkflowStatus, error)

	// ArchiveEmail persists the raw message for later audit. Archive
	// failures are not fatal to the pipeline; callers log and continue.
	ArchiveEmail(ctx context.Context, userID string, email domain.Email) error
}
