package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inseam/inseam/internal/agent"
	"github.com/inseam/inseam/internal/domain"
	"github.com/inseam/inseam/internal/pkg/logger"
	"github.com/inseam/inseam/internal/service/tracker"
	"github.com/inseam/inseam/internal/storage"
)

// EmailResult is one successfully processed email.
type EmailResult struct {
	EmailID   string `json:"email_id"`
	UpdateID  string `json:"update_id"`
	Title     string `json:"title"`
	Proposals int    `json:"proposals"`
}

// EmailFailure records one email whose pipeline failed. The email stays
// unprocessed and comes back on the next fetch cycle.
type EmailFailure struct {
	EmailID string `json:"email_id"`
	Error   string `json:"error"`
}

// BatchStats summarizes one orchestrator run.
type BatchStats struct {
	WorkflowID               string         `json:"workflow_id,omitempty"`
	TotalEmails              int            `json:"total_emails"`
	SuccessfulUpdates        int            `json:"successful_updates"`
	FailedProcessing         int            `json:"failed_processing"`
	TotalProposals           int            `json:"total_proposals"`
	AverageProposalsPerEmail float64        `json:"average_proposals_per_email"`
	Results                  []EmailResult  `json:"results,omitempty"`
	Failures                 []EmailFailure `json:"failures,omitempty"`
}

// UpdateStore persists one email's pipeline output.
type UpdateStore interface {
	Store(ctx context.Context, u *domain.CentralizedUpdate) (string, error)
}

// Orchestrator drives a batch through fetch, concurrent per-email
// dispatch, sequential aggregation, and checkpointing. One batch runs
// per call; concurrency lives inside the batch.
type Orchestrator struct {
	fetcher        *Fetcher
	matcher        agent.Matcher
	trackers       tracker.Repository
	updates        UpdateStore
	store          storage.Store
	batchSize      int
	maxConcurrency int
}

func NewOrchestrator(fetcher *Fetcher, matcher agent.Matcher, trackers tracker.Repository, updateStore UpdateStore, store storage.Store, batchSize, maxConcurrency int) *Orchestrator {
	if batchSize <= 0 {
		batchSize = 5
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &Orchestrator{
		fetcher:        fetcher,
		matcher:        matcher,
		trackers:       trackers,
		updates:        updateStore,
		store:          store,
		batchSize:      batchSize,
		maxConcurrency: maxConcurrency,
	}
}

// emailOutcome is a pipeline's immutable result, written once into a
// per-email slot. Shared stats are only touched in the aggregation
// phase, after every pipeline resolves.
type emailOutcome struct {
	result  *EmailResult
	failure *EmailFailure
}

// ProcessInbox runs one batch for the user. Zero new emails
// short-circuits with empty stats and no workflow ID. A user with no
// linked inbox gets connector.ErrNotConnected, never an empty success.
func (o *Orchestrator) ProcessInbox(ctx context.Context, userID string, count int) (*BatchStats, error) {
	if count <= 0 || count > o.batchSize {
		count = o.batchSize
	}

	// Fetch
	emails, err := o.fetcher.FetchNew(ctx, userID, count)
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return &BatchStats{}, nil
	}

	trackers, err := o.trackers.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("loading trackers: %w", err)
	}
	rowsByTracker, err := o.loadRows(ctx, trackers)
	if err != nil {
		return nil, err
	}

	workflowID := uuid.New().String()
	started := time.Now().UTC()
	o.saveStatus(ctx, &storage.WorkflowStatus{
		ID:          workflowID,
		UserID:      userID,
		Status:      storage.WorkflowRunning,
		TotalEmails: len(emails),
		StartedAt:   started,
	})

	// Dispatch: one pipeline per email, bounded fan-out. Each goroutine
	// owns exactly one outcome slot.
	outcomes := make([]emailOutcome, len(emails))
	sem := make(chan struct{}, o.maxConcurrency)
	done := make(chan int, len(emails))
	for i := range emails {
		go func(i int) {
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = o.processEmail(ctx, userID, emails[i], trackers, rowsByTracker)
			done <- i
		}(i)
	}
	for range emails {
		<-done
	}

	// Aggregate
	stats := &BatchStats{WorkflowID: workflowID, TotalEmails: len(emails)}
	var processedIDs []string
	for i, oc := range outcomes {
		if oc.failure != nil {
			stats.FailedProcessing++
			stats.Failures = append(stats.Failures, *oc.failure)
			continue
		}
		stats.SuccessfulUpdates++
		stats.TotalProposals += oc.result.Proposals
		stats.Results = append(stats.Results, *oc.result)
		processedIDs = append(processedIDs, emails[i].ID)
	}
	if stats.SuccessfulUpdates > 0 {
		stats.AverageProposalsPerEmail = float64(stats.TotalProposals) / float64(stats.SuccessfulUpdates)
	}

	// Checkpoint: only fully-successful emails advance the marker.
	if len(processedIDs) > 0 {
		if err := o.store.MarkProcessed(ctx, userID, processedIDs); err != nil {
			o.saveStatus(ctx, failedStatus(workflowID, userID, stats, started, err))
			return nil, fmt.Errorf("checkpointing processed emails: %w", err)
		}
	}

	completed := time.Now().UTC()
	o.saveStatus(ctx, &storage.WorkflowStatus{
		ID:              workflowID,
		UserID:          userID,
		Status:          storage.WorkflowCompleted,
		TotalEmails:     stats.TotalEmails,
		ProcessedEmails: stats.SuccessfulUpdates,
		FailedEmails:    stats.FailedProcessing,
		TotalProposals:  stats.TotalProposals,
		StartedAt:       started,
		CompletedAt:     &completed,
	})

	logger.Info("inbox batch completed",
		"user_id", userID,
		"workflow_id", workflowID,
		"total", stats.TotalEmails,
		"succeeded", stats.SuccessfulUpdates,
		"failed", stats.FailedProcessing,
		"proposals", stats.TotalProposals)
	return stats, nil
}

// processEmail runs one email's pipeline end to end. Every error is
// captured here as a failure record; nothing escapes to siblings.
func (o *Orchestrator) processEmail(ctx context.Context, userID string, email domain.Email, trackers []domain.Tracker, rowsByTracker map[string][]domain.Row) emailOutcome {
	fail := func(err error) emailOutcome {
		logger.Warn("email pipeline failed", "email_id", email.ID, "error", err.Error())
		return emailOutcome{failure: &EmailFailure{EmailID: email.ID, Error: err.Error()}}
	}

	// Archive failures are logged, not fatal: the pipeline's own result
	// is what matters.
	if err := o.store.ArchiveEmail(ctx, userID, email); err != nil {
		logger.Warn("email archive failed", "email_id", email.ID, "error", err.Error())
	}

	matchResult, err := o.matcher.MatchAndExtract(ctx, email, trackers)
	if err != nil {
		return fail(fmt.Errorf("matching: %w", err))
	}

	built, err := BuildProposals(matchResult, trackers, rowsByTracker, email)
	if err != nil {
		return fail(fmt.Errorf("building proposals: %w", err))
	}

	update := &domain.CentralizedUpdate{
		UserID:      userID,
		Source:      domain.SourceEmail,
		SourceID:    email.ID,
		Matches:     built.Matches,
		Proposals:   built.Proposals,
		Category:    built.Category,
		Title:       built.Title,
		Summary:     built.Summary,
		SenderName:  email.SenderName,
		SenderAddr:  email.SenderAddr,
		SourceQuote: built.Quote,
		SourceTime:  email.ReceivedAt,
	}
	updateID, err := o.updates.Store(ctx, update)
	if err != nil {
		return fail(fmt.Errorf("storing update: %w", err))
	}

	return emailOutcome{result: &EmailResult{
		EmailID:   email.ID,
		UpdateID:  updateID,
		Title:     built.Title,
		Proposals: len(built.Proposals),
	}}
}

func (o *Orchestrator) loadRows(ctx context.Context, trackers []domain.Tracker) (map[string][]domain.Row, error) {
	out := make(map[string][]domain.Row, len(trackers))
	for _, t := range trackers {
		rows, err := o.trackers.ListRows(ctx, t.ID)
		if err != nil {
			return nil, fmt.Errorf("loading rows for tracker %s: %w", t.ID, err)
		}
		out[t.ID] = rows
	}
	return out, nil
}

// GetBatchStatus returns the pollable status for a prior run.
func (o *Orchestrator) GetBatchStatus(ctx context.Context, userID, workflowID string) (*storage.WorkflowStatus, error) {
	return o.store.GetWorkflowStatus(ctx, userID, workflowID)
}

// saveStatus is best-effort; a status write failure must not sink the
// batch itself.
func (o *Orchestrator) saveStatus(ctx context.Context, ws *storage.WorkflowStatus) {
	if err := o.store.SaveWorkflowStatus(ctx, ws); err != nil {
		logger.Warn("workflow status save failed", "workflow_id", ws.ID, "error", err.Error())
	}
}

func failedStatus(workflowID, userID string, stats *BatchStats, started time.Time, err error) *storage.WorkflowStatus {
	completed := time.Now().UTC()
	return &storage.WorkflowStatus{
		ID:              workflowID,
		UserID:          userID,
		Status:          storage.WorkflowFailed,
		TotalEmails:     stats.TotalEmails,
		ProcessedEmails: stats.SuccessfulUpdates,
		FailedEmails:    stats.FailedProcessing,
		TotalProposals:  stats.TotalProposals,
		Error:           err.Error(),
		StartedAt:       started,
		CompletedAt:     &completed,
	}
}
