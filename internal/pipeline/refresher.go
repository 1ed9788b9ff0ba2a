package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/inseam/inseam/internal/connector"
	"github.com/inseam/inseam/internal/domain"
	"github.com/inseam/inseam/internal/pkg/logger"
)

// ConnectionLister enumerates users who opted into background refresh.
type ConnectionLister interface {
	ListAutoRefresh(ctx context.Context) ([]domain.EmailConnection, error)
}

// DigestNotifier delivers a proposals-waiting digest after a background
// batch, since nobody is watching the UI when it runs.
type DigestNotifier interface {
	SendProposalDigest(ctx context.Context, toEmail string, updates []domain.CentralizedUpdate) error
}

// UpdateGetter loads stored updates for digest content.
type UpdateGetter interface {
	Get(ctx context.Context, userID, id string) (*domain.CentralizedUpdate, error)
}

// Lock guards one user's refresh so multiple server instances don't poll
// the same inbox simultaneously.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Refresher periodically runs the orchestrator for every auto-refresh
// connection, so proposals appear without a manual inbox refresh.
type Refresher struct {
	orchestrator *Orchestrator
	connections  ConnectionLister
	interval     time.Duration

	notifier DigestNotifier
	updates  UpdateGetter
	locks    func(key string) Lock

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewRefresher(orchestrator *Orchestrator, connections ConnectionLister, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &Refresher{
		orchestrator: orchestrator,
		connections:  connections,
		interval:     interval,
	}
}

// WithDigest enables post-batch email digests. Both arguments must be
// non-nil for digests to fire.
func (r *Refresher) WithDigest(notifier DigestNotifier, updates UpdateGetter) *Refresher {
	r.notifier = notifier
	r.updates = updates
	return r
}

// WithLocks makes each user's refresh exclusive across server instances.
// Without it, refreshes are still safe (the update store is idempotent)
// but concurrent instances would burn duplicate LLM calls.
func (r *Refresher) WithLocks(locks func(key string) Lock) *Refresher {
	r.locks = locks
	return r
}

// Start launches the refresh loop. Returns an error if already running.
func (r *Refresher) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("refresher already running")
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.loop()

	logger.Info("inbox refresher started", "interval", r.interval.String())
	return nil
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	r.mu.Unlock()

	r.wg.Wait()
	logger.Info("inbox refresher stopped")
}

func (r *Refresher) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.refreshAll()
		}
	}
}

// refreshAll runs one cycle. Users are processed sequentially; a batch
// already rate-shapes its own external calls, and one slow user must
// not multiply load across the fleet.
func (r *Refresher) refreshAll() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	conns, err := r.connections.ListAutoRefresh(ctx)
	if err != nil {
		logger.Error("listing auto-refresh connections failed", "error", err.Error())
		return
	}

	for _, conn := range conns {
		select {
		case <-r.stopCh:
			return
		default:
		}

		stats, err := r.refreshUser(ctx, conn)
		if err != nil {
			// A grant revoked mid-cycle just skips the user; they will
			// see the reconnect prompt on next visit.
			if errors.Is(err, connector.ErrNotConnected) {
				continue
			}
			logger.Error("background refresh failed", "user_id", conn.UserID, "error", err.Error())
			continue
		}
		if stats != nil && stats.TotalEmails > 0 {
			logger.Info("background refresh processed batch",
				"user_id", conn.UserID,
				"emails", stats.TotalEmails,
				"proposals", stats.TotalProposals)
			r.sendDigest(ctx, conn, stats)
		}
	}
}

// refreshUser runs one user's batch, under a cross-instance lock when
// one is configured. A held lock means another instance is already on
// this user; returning empty stats skips them quietly.
func (r *Refresher) refreshUser(ctx context.Context, conn domain.EmailConnection) (*BatchStats, error) {
	if r.locks == nil {
		return r.orchestrator.ProcessInbox(ctx, conn.UserID, 0)
	}

	lock := r.locks("refresh:" + conn.UserID)
	ok, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring refresh lock: %w", err)
	}
	if !ok {
		return nil, nil
	}
	defer func() {
		if err := lock.Release(ctx); err != nil {
			logger.Warn("releasing refresh lock failed", "user_id", conn.UserID, "error", err.Error())
		}
	}()

	return r.orchestrator.ProcessInbox(ctx, conn.UserID, 0)
}

// sendDigest emails the user about proposals created in this cycle.
// Delivery is best effort; the batch already committed.
func (r *Refresher) sendDigest(ctx context.Context, conn domain.EmailConnection, stats *BatchStats) {
	if r.notifier == nil || r.updates == nil || stats.TotalProposals == 0 {
		return
	}

	var created []domain.CentralizedUpdate
	for _, res := range stats.Results {
		if res.Proposals == 0 {
			continue
		}
		upd, err := r.updates.Get(ctx, conn.UserID, res.UpdateID)
		if err != nil {
			logger.Warn("loading update for digest failed", "update_id", res.UpdateID, "error", err.Error())
			continue
		}
		created = append(created, *upd)
	}
	if len(created) == 0 {
		return
	}

	if err := r.notifier.SendProposalDigest(ctx, conn.Email, created); err != nil {
		logger.Warn("proposal digest delivery failed", "user_id", conn.UserID, "error", err.Error())
	}
}
