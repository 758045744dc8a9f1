package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/crunkdevs/predictor-sub000/internal/domain"
)

type outcomeRepo struct {
	s *pgStore
}

const outcomeColumns = `id, value, color, parity, size, observed_at, created_at`

func (r *outcomeRepo) Insert(ctx context.Context, o *domain.Outcome) (bool, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	if !domain.ValidValue(o.Value) {
		return false, fmt.Errorf("outcome value %d out of range", o.Value)
	}

	err := sqlx.GetContext(ctx, r.s.ext, &o.ID, `
		INSERT INTO outcomes (value, color, parity, size, observed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (observed_at) DO NOTHING
		RETURNING id`,
		o.Value, o.Color, o.Parity, o.Size, o.ObservedAt)
	if err == nil {
		return true, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to insert outcome: %w", err)
	}

	// Conflict path: the observation is already recorded. Backfill the id
	// so callers can still reference the existing row.
	err = sqlx.GetContext(ctx, r.s.ext, &o.ID,
		`SELECT id FROM outcomes WHERE observed_at = $1`, o.ObservedAt)
	if err != nil {
		return false, fmt.Errorf("failed to resolve existing outcome: %w", err)
	}
	return false, nil
}

func (r *outcomeRepo) RecentOutcomes(ctx context.Context, limit int) ([]domain.Outcome, error) {
	return r.list(ctx, `
		SELECT `+outcomeColumns+`
		FROM outcomes
		ORDER BY observed_at DESC
		LIMIT $1`, limit)
}

func (r *outcomeRepo) OutcomesSince(ctx context.Context, since time.Time) ([]domain.Outcome, error) {
	return r.list(ctx, `
		SELECT `+outcomeColumns+`
		FROM outcomes
		WHERE observed_at >= $1
		ORDER BY observed_at DESC`, since)
}

func (r *outcomeRepo) Between(ctx context.Context, from, to time.Time) ([]domain.Outcome, error) {
	return r.list(ctx, `
		SELECT `+outcomeColumns+`
		FROM outcomes
		WHERE observed_at >= $1 AND observed_at < $2
		ORDER BY observed_at DESC`, from, to)
}

func (r *outcomeRepo) PreviousBefore(ctx context.Context, t time.Time) (*domain.Outcome, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var o domain.Outcome
	err := sqlx.GetContext(ctx, r.s.ext, &o, `
		SELECT `+outcomeColumns+`
		FROM outcomes
		WHERE observed_at < $1
		ORDER BY observed_at DESC
		LIMIT 1`, t)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get previous outcome: %w", err)
	}
	return &o, nil
}

func (r *outcomeRepo) list(ctx context.Context, query string, args ...interface{}) ([]domain.Outcome, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var outs []domain.Outcome
	if err := sqlx.SelectContext(ctx, r.s.ext, &outs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list outcomes: %w", err)
	}
	return outs, nil
}
