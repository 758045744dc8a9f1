package store

import (
	"context"
	"errors"
	"time"

	"github.com/crunkdevs/predictor-sub000/internal/domain"
)

// ErrNotFound is returned when a single-row lookup matches nothing.
var ErrNotFound = errors.New("store: not found")

// Store aggregates the engine repositories. WithTx runs fn against a
// transaction-bound view of the same store; repos obtained inside fn share
// that transaction, which is what makes window row locks effective.
type Store interface {
	Windows() WindowRepo
	States() StateRepo
	Predictions() PredictionRepo
	Outcomes() OutcomeRepo
	Transitions() TransitionRepo
	Snapshots() SnapshotRepo

	WithTx(ctx context.Context, fn func(Store) error) error
}

// WindowRepo owns the day-partitioned window rows.
type WindowRepo interface {
	// EnsureDay creates the fixed slots for a day if absent. Idempotent on
	// the (day, idx) unique constraint.
	EnsureDay(ctx context.Context, day string) error
	// CloseExpired flips status to closed for windows whose end has passed.
	CloseExpired(ctx context.Context, now time.Time) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Window, error)
	GetByDayIndex(ctx context.Context, day string, idx int) (*domain.Window, error)
	// Lock takes a row lock for the duration of the enclosing transaction.
	// Outside a transaction it is a no-op read.
	Lock(ctx context.Context, id int64) error
	SetPattern(ctx context.Context, id int64, p domain.PatternCode) error
}

// StateRepo owns the 1:1 learned state of each window. All mutations are
// single-statement updates.
type StateRepo interface {
	Ensure(ctx context.Context, windowID int64) error
	Get(ctx context.Context, windowID int64) (*domain.WindowPatternState, error)
	SetPattern(ctx context.Context, windowID int64, p domain.PatternCode) error
	SetMode(ctx context.Context, windowID int64, mode domain.Mode, pauseUntil *time.Time) error
	// RecordCorrect increments the correct streak and zeroes the wrong streak.
	RecordCorrect(ctx context.Context, windowID int64) error
	// RecordWrong increments the wrong streak, zeroes the correct streak and
	// returns the new wrong streak.
	RecordWrong(ctx context.Context, windowID int64) (int, error)
	SetLastPrediction(ctx context.Context, windowID int64, t time.Time) error
	SetReactivation(ctx context.Context, windowID int64, active bool, snapshotID *int64, similarity float64) error
}

// PredictionRepo owns decision events.
type PredictionRepo interface {
	Insert(ctx context.Context, p *domain.Prediction) error
	LatestForWindow(ctx context.Context, windowID int64) (*domain.Prediction, error)
	// LatestUnevaluatedBefore finds the newest unevaluated prediction for the
	// window created strictly before the given instant.
	LatestUnevaluatedBefore(ctx context.Context, windowID int64, before time.Time) (*domain.Prediction, error)
	// MarkEvaluated writes the evaluation fields exactly once; it returns
	// false when the prediction was already evaluated.
	MarkEvaluated(ctx context.Context, id, outcomeID int64, correct bool, at time.Time) (bool, error)
	CountBySourceSince(ctx context.Context, source domain.PredictionSource, since time.Time) (int, error)
	CountBySourceForWindow(ctx context.Context, source domain.PredictionSource, windowID int64) (int, error)
	LastCreatedBySource(ctx context.Context, source domain.PredictionSource) (*time.Time, error)
	// ExistsSince reports whether any prediction for the window was created
	// at or after the given instant. Used by the debounce re-check.
	ExistsSince(ctx context.Context, windowID int64, since time.Time) (bool, error)
}

// OutcomeRepo owns the append-only result log.
type OutcomeRepo interface {
	// Insert appends an outcome, idempotent on observed_at; it reports
	// whether the row was newly inserted and backfills the id either way.
	Insert(ctx context.Context, o *domain.Outcome) (bool, error)
	RecentOutcomes(ctx context.Context, limit int) ([]domain.Outcome, error)
	OutcomesSince(ctx context.Context, since time.Time) ([]domain.Outcome, error)
	Between(ctx context.Context, from, to time.Time) ([]domain.Outcome, error)
	// PreviousBefore returns the newest outcome observed strictly before t.
	PreviousBefore(ctx context.Context, t time.Time) (*domain.Outcome, error)
}

// TransitionRepo owns the monotonically growing Markov counters.
type TransitionRepo interface {
	Increment(ctx context.Context, from, to int) error
	IncrementWindowed(ctx context.Context, from, to, windowIdx int) error
	// IncrementFollowUp counts how often a value shows up in a given window
	// index; the cross-window follow-up prior.
	IncrementFollowUp(ctx context.Context, windowIdx, value int) error
	Targets(ctx context.Context, from, limit int) ([]domain.TransitionCount, error)
	WindowedTargets(ctx context.Context, from, windowIdx, limit int) ([]domain.TransitionCount, error)
	WindowedDistinct(ctx context.Context, from, windowIdx int) (int, error)
}

// SnapshotRepo owns pattern snapshots and their outcome log.
type SnapshotRepo interface {
	// Upsert inserts or refreshes a snapshot keyed by (start_at, end_at).
	Upsert(ctx context.Context, s *domain.PatternSnapshot) error
	Get(ctx context.Context, id int64) (*domain.PatternSnapshot, error)
	LatestEndingAfter(ctx context.Context, t time.Time) (*domain.PatternSnapshot, error)
	Recent(ctx context.Context, limit int) ([]domain.PatternSnapshot, error)
	LogOutcome(ctx context.Context, snapshotID int64, correct bool, at time.Time) error
	SetHitRate(ctx context.Context, snapshotID int64, rate float64) error
}

// Lease is a named mutual-exclusion lease with try-acquire semantics. A tick
// that cannot acquire it returns immediately without side effects.
type Lease interface {
	TryAcquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}
