package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/crunkdevs/predictor-sub000/internal/domain"
)

type transitionRepo struct {
	s *pgStore
}

func (r *transitionRepo) Increment(ctx context.Context, from, to int) error {
	return r.exec(ctx, `
		INSERT INTO number_transitions (from_value, to_value, cnt)
		VALUES ($1, $2, 1)
		ON CONFLICT (from_value, to_value)
		DO UPDATE SET cnt = number_transitions.cnt + 1`,
		"increment transition", from, to)
}

func (r *transitionRepo) IncrementWindowed(ctx context.Context, from, to, windowIdx int) error {
	return r.exec(ctx, `
		INSERT INTO number_transitions_windowed (from_value, to_value, window_idx, cnt)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (from_value, to_value, window_idx)
		DO UPDATE SET cnt = number_transitions_windowed.cnt + 1`,
		"increment windowed transition", from, to, windowIdx)
}

func (r *transitionRepo) IncrementFollowUp(ctx context.Context, windowIdx, value int) error {
	return r.exec(ctx, `
		INSERT INTO window_followups (window_idx, value, cnt)
		VALUES ($1, $2, 1)
		ON CONFLICT (window_idx, value)
		DO UPDATE SET cnt = window_followups.cnt + 1`,
		"increment follow-up", windowIdx, value)
}

func (r *transitionRepo) Targets(ctx context.Context, from, limit int) ([]domain.TransitionCount, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var rows []domain.TransitionCount
	err := sqlx.SelectContext(ctx, r.s.ext, &rows, `
		SELECT from_value, to_value, cnt
		FROM number_transitions
		WHERE from_value = $1
		ORDER BY cnt DESC, to_value ASC
		LIMIT $2`, from, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get transition targets: %w", err)
	}
	return rows, nil
}

func (r *transitionRepo) WindowedTargets(ctx context.Context, from, windowIdx, limit int) ([]domain.TransitionCount, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var rows []domain.TransitionCount
	err := sqlx.SelectContext(ctx, r.s.ext, &rows, `
		SELECT from_value, to_value, cnt
		FROM number_transitions_windowed
		WHERE from_value = $1 AND window_idx = $2
		ORDER BY cnt DESC, to_value ASC
		LIMIT $3`, from, windowIdx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get windowed targets: %w", err)
	}
	return rows, nil
}

func (r *transitionRepo) WindowedDistinct(ctx context.Context, from, windowIdx int) (int, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var n int
	err := sqlx.GetContext(ctx, r.s.ext, &n, `
		SELECT COUNT(*)
		FROM number_transitions_windowed
		WHERE from_value = $1 AND window_idx = $2`, from, windowIdx)
	if err != nil {
		return 0, fmt.Errorf("failed to count windowed targets: %w", err)
	}
	return n, nil
}

func (r *transitionRepo) exec(ctx context.Context, query, op string, args ...interface{}) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	if _, err := r.s.ext.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}
