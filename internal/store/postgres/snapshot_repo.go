package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/store"
)

type snapshotRepo struct {
	s *pgStore
}

type snapshotRow struct {
	domain.PatternSnapshot
	ColorSharesJSON []byte `db:"color_shares"`
	TopPoolJSON     []byte `db:"top_pool"`
}

func (row *snapshotRow) unpack() (*domain.PatternSnapshot, error) {
	snap := row.PatternSnapshot
	if err := json.Unmarshal(row.ColorSharesJSON, &snap.ColorShares); err != nil {
		return nil, fmt.Errorf("failed to unmarshal color shares: %w", err)
	}
	if err := json.Unmarshal(row.TopPoolJSON, &snap.TopPool); err != nil {
		return nil, fmt.Errorf("failed to unmarshal top pool: %w", err)
	}
	return &snap, nil
}

const snapshotColumns = `
	id, start_at, end_at, color_shares, odd_pct, small_pct, max_run,
	top_pool, hit_rate, sample_count, created_at`

func (r *snapshotRepo) Upsert(ctx context.Context, snap *domain.PatternSnapshot) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	sharesJSON, err := json.Marshal(snap.ColorShares)
	if err != nil {
		return fmt.Errorf("failed to marshal color shares: %w", err)
	}
	poolJSON, err := json.Marshal(snap.TopPool)
	if err != nil {
		return fmt.Errorf("failed to marshal top pool: %w", err)
	}

	// Re-upserting the same span refreshes the signature but keeps the
	// learned hit_rate untouched.
	err = sqlx.GetContext(ctx, r.s.ext, &snap.ID, `
		INSERT INTO pattern_snapshots
			(start_at, end_at, color_shares, odd_pct, small_pct, max_run, top_pool, sample_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (start_at, end_at) DO UPDATE SET
			color_shares = EXCLUDED.color_shares,
			odd_pct      = EXCLUDED.odd_pct,
			small_pct    = EXCLUDED.small_pct,
			max_run      = EXCLUDED.max_run,
			top_pool     = EXCLUDED.top_pool,
			sample_count = EXCLUDED.sample_count
		RETURNING id`,
		snap.StartAt, snap.EndAt, sharesJSON, snap.OddPct, snap.SmallPct,
		snap.MaxRun, poolJSON, snap.SampleCount)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot: %w", err)
	}
	return nil
}

func (r *snapshotRepo) Get(ctx context.Context, id int64) (*domain.PatternSnapshot, error) {
	return r.getOne(ctx, `
		SELECT `+snapshotColumns+`
		FROM pattern_snapshots
		WHERE id = $1`, id)
}

func (r *snapshotRepo) LatestEndingAfter(ctx context.Context, t time.Time) (*domain.PatternSnapshot, error) {
	return r.getOne(ctx, `
		SELECT `+snapshotColumns+`
		FROM pattern_snapshots
		WHERE end_at > $1
		ORDER BY end_at DESC
		LIMIT 1`, t)
}

func (r *snapshotRepo) getOne(ctx context.Context, query string, args ...interface{}) (*domain.PatternSnapshot, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var row snapshotRow
	err := sqlx.GetContext(ctx, r.s.ext, &row, query, args...)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return row.unpack()
}

func (r *snapshotRepo) Recent(ctx context.Context, limit int) ([]domain.PatternSnapshot, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var rows []snapshotRow
	err := sqlx.SelectContext(ctx, r.s.ext, &rows, `
		SELECT `+snapshotColumns+`
		FROM pattern_snapshots
		ORDER BY end_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	snaps := make([]domain.PatternSnapshot, 0, len(rows))
	for i := range rows {
		snap, err := rows[i].unpack()
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, *snap)
	}
	return snaps, nil
}

func (r *snapshotRepo) LogOutcome(ctx context.Context, snapshotID int64, correct bool, at time.Time) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	if _, err := r.s.ext.ExecContext(ctx, `
		INSERT INTO pattern_snapshot_outcomes (snapshot_id, correct, created_at)
		VALUES ($1, $2, $3)`, snapshotID, correct, at); err != nil {
		return fmt.Errorf("failed to log snapshot outcome: %w", err)
	}
	return nil
}

func (r *snapshotRepo) SetHitRate(ctx context.Context, snapshotID int64, rate float64) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	if _, err := r.s.ext.ExecContext(ctx, `
		UPDATE pattern_snapshots SET hit_rate = $2 WHERE id = $1`,
		snapshotID, rate); err != nil {
		return fmt.Errorf("failed to set snapshot hit rate: %w", err)
	}
	return nil
}
