package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/crunkdevs/predictor-sub000/internal/store"
)

// pgStore is the sqlx-backed Store. The zero-value ext is the pool; inside
// WithTx it is the transaction, so repos created from the tx-bound store
// share the transaction and its row locks.
type pgStore struct {
	db      *sqlx.DB
	ext     sqlx.ExtContext
	timeout time.Duration

	loc          *time.Location
	firstPredict time.Duration
}

// New builds the Postgres store. firstPredict is the delay between a
// window's start and its first-eligible-prediction timestamp.
func New(db *sqlx.DB, timeout time.Duration, loc *time.Location, firstPredict time.Duration) store.Store {
	return &pgStore{
		db:           db,
		ext:          db,
		timeout:      timeout,
		loc:          loc,
		firstPredict: firstPredict,
	}
}

func (s *pgStore) Windows() store.WindowRepo         { return &windowRepo{s} }
func (s *pgStore) States() store.StateRepo           { return &stateRepo{s} }
func (s *pgStore) Predictions() store.PredictionRepo { return &predictionRepo{s} }
func (s *pgStore) Outcomes() store.OutcomeRepo       { return &outcomeRepo{s} }
func (s *pgStore) Transitions() store.TransitionRepo { return &transitionRepo{s} }
func (s *pgStore) Snapshots() store.SnapshotRepo     { return &snapshotRepo{s} }

func (s *pgStore) WithTx(ctx context.Context, fn func(store.Store) error) error {
	if s.db == nil {
		// Already transaction-bound; nested calls join the outer tx.
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	bound := &pgStore{
		ext:          tx,
		timeout:      s.timeout,
		loc:          s.loc,
		firstPredict: s.firstPredict,
	}

	if err := fn(bound); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed (%v) after: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// withTimeout applies the per-call query timeout only outside transactions;
// inside a transaction the caller's deadline governs the whole unit.
func (s *pgStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.db == nil {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
