package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/store"
)

type stateRepo struct {
	s *pgStore
}

func (r *stateRepo) Ensure(ctx context.Context, windowID int64) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	if _, err := r.s.ext.ExecContext(ctx, `
		INSERT INTO window_pattern_states (window_id)
		VALUES ($1)
		ON CONFLICT (window_id) DO NOTHING`, windowID); err != nil {
		return fmt.Errorf("failed to ensure pattern state: %w", err)
	}
	return nil
}

func (r *stateRepo) Get(ctx context.Context, windowID int64) (*domain.WindowPatternState, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var st domain.WindowPatternState
	err := sqlx.GetContext(ctx, r.s.ext, &st, `
		SELECT window_id, pattern, consecutive_correct, consecutive_wrong,
		       pause_until, mode, last_prediction_at, reactivation_active,
		       reactivation_snapshot_id, reactivation_similarity, updated_at
		FROM window_pattern_states
		WHERE window_id = $1`, windowID)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern state: %w", err)
	}
	return &st, nil
}

func (r *stateRepo) SetPattern(ctx context.Context, windowID int64, p domain.PatternCode) error {
	return r.exec(ctx, `
		UPDATE window_pattern_states
		SET pattern = $2, updated_at = now()
		WHERE window_id = $1`, "set pattern", windowID, p)
}

func (r *stateRepo) SetMode(ctx context.Context, windowID int64, mode domain.Mode, pauseUntil *time.Time) error {
	return r.exec(ctx, `
		UPDATE window_pattern_states
		SET mode = $2, pause_until = $3, updated_at = now()
		WHERE window_id = $1`, "set mode", windowID, mode, pauseUntil)
}

func (r *stateRepo) RecordCorrect(ctx context.Context, windowID int64) error {
	return r.exec(ctx, `
		UPDATE window_pattern_states
		SET consecutive_correct = consecutive_correct + 1,
		    consecutive_wrong = 0,
		    updated_at = now()
		WHERE window_id = $1`, "record correct", windowID)
}

func (r *stateRepo) RecordWrong(ctx context.Context, windowID int64) (int, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var streak int
	err := sqlx.GetContext(ctx, r.s.ext, &streak, `
		UPDATE window_pattern_states
		SET consecutive_wrong = consecutive_wrong + 1,
		    consecutive_correct = 0,
		    updated_at = now()
		WHERE window_id = $1
		RETURNING consecutive_wrong`, windowID)
	if err == sql.ErrNoRows {
		return 0, store.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record wrong result: %w", err)
	}
	return streak, nil
}

func (r *stateRepo) SetLastPrediction(ctx context.Context, windowID int64, t time.Time) error {
	return r.exec(ctx, `
		UPDATE window_pattern_states
		SET last_prediction_at = $2, updated_at = now()
		WHERE window_id = $1`, "set last prediction", windowID, t)
}

func (r *stateRepo) SetReactivation(ctx context.Context, windowID int64, active bool, snapshotID *int64, similarity float64) error {
	return r.exec(ctx, `
		UPDATE window_pattern_states
		SET reactivation_active = $2,
		    reactivation_snapshot_id = $3,
		    reactivation_similarity = $4,
		    updated_at = now()
		WHERE window_id = $1`, "set reactivation", windowID, active, snapshotID, similarity)
}

func (r *stateRepo) exec(ctx context.Context, query, op string, args ...interface{}) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	if _, err := r.s.ext.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}
