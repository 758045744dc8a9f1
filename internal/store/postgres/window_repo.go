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

type windowRepo struct {
	s *pgStore
}

func (r *windowRepo) EnsureDay(ctx context.Context, day string) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO windows (day, idx, start_at, end_at, first_predict_at, status)
		VALUES ($1, $2, $3, $4, $5, 'open')
		ON CONFLICT (day, idx) DO NOTHING`

	for idx := 0; idx < domain.WindowsPerDay; idx++ {
		start, end := domain.WindowBounds(day, idx, r.s.loc)
		if _, err := r.s.ext.ExecContext(ctx, query,
			day, idx, start, end, start.Add(r.s.firstPredict)); err != nil {
			return fmt.Errorf("failed to ensure window %s/%d: %w", day, idx, err)
		}
	}
	return nil
}

func (r *windowRepo) CloseExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	res, err := r.s.ext.ExecContext(ctx,
		`UPDATE windows SET status = 'closed' WHERE status = 'open' AND end_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to close expired windows: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

const windowColumns = `id, day, idx, start_at, end_at, first_predict_at, status, pattern, created_at`

func (r *windowRepo) Get(ctx context.Context, id int64) (*domain.Window, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var w domain.Window
	err := sqlx.GetContext(ctx, r.s.ext, &w,
		`SELECT `+windowColumns+` FROM windows WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get window: %w", err)
	}
	return &w, nil
}

func (r *windowRepo) GetByDayIndex(ctx context.Context, day string, idx int) (*domain.Window, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var w domain.Window
	err := sqlx.GetContext(ctx, r.s.ext, &w,
		`SELECT `+windowColumns+` FROM windows WHERE day = $1 AND idx = $2`, day, idx)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get window %s/%d: %w", day, idx, err)
	}
	return &w, nil
}

func (r *windowRepo) Lock(ctx context.Context, id int64) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var got int64
	err := sqlx.GetContext(ctx, r.s.ext, &got,
		`SELECT id FROM windows WHERE id = $1 FOR UPDATE`, id)
	if err == sql.ErrNoRows {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock window %d: %w", id, err)
	}
	return nil
}

func (r *windowRepo) SetPattern(ctx context.Context, id int64, p domain.PatternCode) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	if _, err := r.s.ext.ExecContext(ctx,
		`UPDATE windows SET pattern = $2 WHERE id = $1`, id, p); err != nil {
		return fmt.Errorf("failed to set window pattern: %w", err)
	}
	return nil
}
