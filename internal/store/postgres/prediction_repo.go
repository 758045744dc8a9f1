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

type predictionRepo struct {
	s *pgStore
}

// predictionRow carries the JSONB columns alongside the scannable fields.
type predictionRow struct {
	domain.Prediction
	HotJSON     []byte `db:"hot"`
	ColdJSON    []byte `db:"cold"`
	ContextJSON []byte `db:"context"`
}

func (row *predictionRow) unpack() (*domain.Prediction, error) {
	p := row.Prediction
	if err := json.Unmarshal(row.HotJSON, &p.Hot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hot pool: %w", err)
	}
	if err := json.Unmarshal(row.ColdJSON, &p.Cold); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cold pool: %w", err)
	}
	if len(row.ContextJSON) > 0 {
		if err := json.Unmarshal(row.ContextJSON, &p.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signal context: %w", err)
		}
	}
	return &p, nil
}

const predictionColumns = `
	id, window_id, source, pattern, hot, cold, context,
	created_at, evaluated, correct, outcome_id, evaluated_at`

func (r *predictionRepo) Insert(ctx context.Context, p *domain.Prediction) error {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	if len(p.Hot) != domain.HotSize || len(p.Cold) != domain.ColdSize {
		return fmt.Errorf("malformed candidate pool: hot=%d cold=%d", len(p.Hot), len(p.Cold))
	}

	hotJSON, err := json.Marshal(p.Hot)
	if err != nil {
		return fmt.Errorf("failed to marshal hot pool: %w", err)
	}
	coldJSON, err := json.Marshal(p.Cold)
	if err != nil {
		return fmt.Errorf("failed to marshal cold pool: %w", err)
	}
	ctxJSON, err := json.Marshal(p.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal signal context: %w", err)
	}

	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}

	err = sqlx.GetContext(ctx, r.s.ext, &p.ID, `
		INSERT INTO predictions (window_id, source, pattern, hot, cold, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		p.WindowID, p.Source, p.Pattern, hotJSON, coldJSON, ctxJSON, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	return nil
}

func (r *predictionRepo) LatestForWindow(ctx context.Context, windowID int64) (*domain.Prediction, error) {
	return r.getOne(ctx, `
		SELECT `+predictionColumns+`
		FROM predictions
		WHERE window_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, windowID)
}

func (r *predictionRepo) LatestUnevaluatedBefore(ctx context.Context, windowID int64, before time.Time) (*domain.Prediction, error) {
	return r.getOne(ctx, `
		SELECT `+predictionColumns+`
		FROM predictions
		WHERE window_id = $1 AND evaluated = FALSE AND created_at < $2
		ORDER BY created_at DESC
		LIMIT 1`, windowID, before)
}

func (r *predictionRepo) getOne(ctx context.Context, query string, args ...interface{}) (*domain.Prediction, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var row predictionRow
	err := sqlx.GetContext(ctx, r.s.ext, &row, query, args...)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query prediction: %w", err)
	}
	return row.unpack()
}

func (r *predictionRepo) MarkEvaluated(ctx context.Context, id, outcomeID int64, correct bool, at time.Time) (bool, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	// The evaluated marker is the idempotency guard: a second delivery of
	// the same outcome matches zero rows.
	res, err := r.s.ext.ExecContext(ctx, `
		UPDATE predictions
		SET evaluated = TRUE, correct = $3, outcome_id = $2, evaluated_at = $4
		WHERE id = $1 AND evaluated = FALSE`,
		id, outcomeID, correct, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark prediction evaluated: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (r *predictionRepo) CountBySourceSince(ctx context.Context, source domain.PredictionSource, since time.Time) (int, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var n int
	err := sqlx.GetContext(ctx, r.s.ext, &n, `
		SELECT COUNT(*) FROM predictions
		WHERE source = $1 AND created_at >= $2`, source, since)
	if err != nil {
		return 0, fmt.Errorf("failed to count predictions by source: %w", err)
	}
	return n, nil
}

func (r *predictionRepo) CountBySourceForWindow(ctx context.Context, source domain.PredictionSource, windowID int64) (int, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var n int
	err := sqlx.GetContext(ctx, r.s.ext, &n, `
		SELECT COUNT(*) FROM predictions
		WHERE source = $1 AND window_id = $2`, source, windowID)
	if err != nil {
		return 0, fmt.Errorf("failed to count window predictions: %w", err)
	}
	return n, nil
}

func (r *predictionRepo) LastCreatedBySource(ctx context.Context, source domain.PredictionSource) (*time.Time, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var t time.Time
	err := sqlx.GetContext(ctx, r.s.ext, &t, `
		SELECT created_at FROM predictions
		WHERE source = $1
		ORDER BY created_at DESC
		LIMIT 1`, source)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last prediction time: %w", err)
	}
	return &t, nil
}

func (r *predictionRepo) ExistsSince(ctx context.Context, windowID int64, since time.Time) (bool, error) {
	ctx, cancel := r.s.withTimeout(ctx)
	defer cancel()

	var exists bool
	err := sqlx.GetContext(ctx, r.s.ext, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM predictions
			WHERE window_id = $1 AND created_at >= $2
		)`, windowID, since)
	if err != nil {
		return false, fmt.Errorf("failed to check recent predictions: %w", err)
	}
	return exists, nil
}
