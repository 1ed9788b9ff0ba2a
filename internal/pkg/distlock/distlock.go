// Package distlock serializes row-level approval commits across server
// instances. Redis SET NX is the preferred backend; deployments without
// Redis fall back to PostgreSQL advisory locks on the primary database.
package distlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is a single-use distributed lock. Instances are not shared
// across goroutines; callers create one per critical section.
type DistLock interface {
	// Acquire tries to take the lock without blocking. Returns true on
	// success.
	Acquire(ctx context.Context) (bool, error)
	// Release frees the lock if this instance still owns it.
	Release(ctx context.Context) error
}

// Factory builds locks for arbitrary keys, choosing the backend once at
// startup. redisClient may be nil; db must not be.
func Factory(redisClient *redis.Client, db *sql.DB, ttl time.Duration) func(key string) DistLock {
	return func(key string) DistLock {
		if redisClient != nil {
			return NewRedisLock(redisClient, key, ttl)
		}
		return NewPGAdvisoryLock(db, key)
	}
}

// PGAdvisoryLock holds a session-scoped pg_advisory lock. Advisory locks
// belong to the session that took them, so the lock pins one *sql.Conn
// for its whole lifetime: acquiring through the pool would lock one
// pooled session and try to unlock another. The pinned connection is
// released back to the pool in Release (or on a failed Acquire). The lock
// drops automatically if the connection dies, so a crashed approval
// cannot wedge its row.
type PGAdvisoryLock struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

// NewPGAdvisoryLock derives a deterministic 64-bit lock ID from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

// Acquire is non-blocking: pg_try_advisory_lock returns immediately. On
// success the checked-out connection stays pinned until Release.
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return false, fmt.Errorf("distlock: lock already acquired")
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Release unlocks on the session that holds the lock and returns the
// pinned connection to the pool. Safe to call when Acquire failed.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil

	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	if cerr := conn.Close(); err == nil {
		err = cerr
	}
	return err
}
