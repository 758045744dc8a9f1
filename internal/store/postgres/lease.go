package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/crunkdevs/predictor-sub000/internal/store"
)

// AdvisoryLease implements store.Lease on Postgres session advisory locks.
// Each held name pins a dedicated connection; the lock dies with the
// connection, so a crashed holder releases automatically.
type AdvisoryLease struct {
	db *sqlx.DB

	mu    sync.Mutex
	conns map[string]*sqlx.Conn
}

func NewAdvisoryLease(db *sqlx.DB) *AdvisoryLease {
	return &AdvisoryLease{db: db, conns: make(map[string]*sqlx.Conn)}
}

var _ store.Lease = (*AdvisoryLease)(nil)

func leaseKey(name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return int64(h.Sum64())
}

func (l *AdvisoryLease) TryAcquire(ctx context.Context, name string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.conns[name]; held {
		return false, nil
	}

	conn, err := l.db.Connx(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get lease connection: %w", err)
	}

	var got bool
	err = conn.GetContext(ctx, &got,
		`SELECT pg_try_advisory_lock($1)`, leaseKey(name))
	if err != nil {
		conn.Close()
		return false, fmt.Errorf("failed to acquire lease %q: %w", name, err)
	}
	if !got {
		conn.Close()
		return false, nil
	}

	l.conns[name] = conn
	return true, nil
}

func (l *AdvisoryLease) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	conn, held := l.conns[name]
	delete(l.conns, name)
	l.mu.Unlock()

	if !held {
		return nil
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx,
		`SELECT pg_advisory_unlock($1)`, leaseKey(name)); err != nil {
		return fmt.Errorf("failed to release lease %q: %w", name, err)
	}
	return nil
}
