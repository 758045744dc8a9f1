// Package reactivation persists periodic regime signatures and matches the
// current regime against them so proven candidate pools can be reused.
package reactivation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/stats"
	"github.com/crunkdevs/predictor-sub000/internal/store"
)

// Match is an accepted snapshot match.
type Match struct {
	Snapshot   *domain.PatternSnapshot `json:"snapshot"`
	Similarity float64                 `json:"similarity"`
}

// Matcher builds 48h signatures and scores them against stored snapshots.
type Matcher struct {
	store store.Store
	stats stats.Provider
	cfg   config.ReactivationConfig
}

func NewMatcher(st store.Store, sp stats.Provider, cfg config.ReactivationConfig) *Matcher {
	return &Matcher{store: st, stats: sp, cfg: cfg}
}

// EnsureSnapshot stores the current signature unless one already ends within
// the snapshot interval. Returns the stored snapshot or nil when skipped.
func (m *Matcher) EnsureSnapshot(ctx context.Context, now time.Time) (*domain.PatternSnapshot, error) {
	_, err := m.store.Snapshots().LatestEndingAfter(ctx, now.Add(-m.cfg.SnapshotInterval))
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to check latest snapshot: %w", err)
	}

	snap, err := m.signature(ctx, now)
	if err != nil {
		return nil, err
	}
	if snap.SampleCount == 0 {
		return nil, nil
	}

	if err := m.store.Snapshots().Upsert(ctx, snap); err != nil {
		return nil, err
	}
	log.Info().
		Int64("snapshot_id", snap.ID).
		Int("samples", snap.SampleCount).
		Msg("Stored pattern snapshot")
	return snap, nil
}

// Find scores the current signature against the most recent stored snapshots
// and returns the best match at or above the similarity threshold, or nil.
func (m *Matcher) Find(ctx context.Context, now time.Time) (*Match, error) {
	current, err := m.signature(ctx, now)
	if err != nil {
		return nil, err
	}
	if current.SampleCount == 0 {
		return nil, nil
	}

	snaps, err := m.store.Snapshots().Recent(ctx, m.cfg.MatchLimit)
	if err != nil {
		return nil, err
	}

	var best *domain.PatternSnapshot
	bestSim := -1.0
	for i := range snaps {
		snap := &snaps[i]
		// The snapshot covering the current span would trivially match itself.
		if snap.EndAt.After(current.StartAt) {
			continue
		}
		sim := Similarity(current, snap)
		if sim > bestSim {
			best, bestSim = snap, sim
		}
	}

	if best == nil || bestSim < m.cfg.MinSimilarity {
		return nil, nil
	}

	log.Debug().
		Int64("snapshot_id", best.ID).
		Float64("similarity", bestSim).
		Float64("hit_rate", best.HitRate).
		Msg("Reactivation match")
	return &Match{Snapshot: best, Similarity: bestSim}, nil
}

// RecordResult logs an evaluated prediction made under the snapshot and
// folds the result into its hit-rate EMA. s may be a transaction-bound
// store when called from the evaluator.
func (m *Matcher) RecordResult(ctx context.Context, s store.Store, snapshotID int64, correct bool, at time.Time) error {
	if err := s.Snapshots().LogOutcome(ctx, snapshotID, correct, at); err != nil {
		return err
	}

	snap, err := s.Snapshots().Get(ctx, snapshotID)
	if err != nil {
		return err
	}

	observed := 0.0
	if correct {
		observed = 1.0
	}
	rate := (1-m.cfg.HitRateAlpha)*snap.HitRate + m.cfg.HitRateAlpha*observed
	return s.Snapshots().SetHitRate(ctx, snapshotID, rate)
}

func (m *Matcher) signature(ctx context.Context, now time.Time) (*domain.PatternSnapshot, error) {
	start := now.Add(-m.cfg.SnapshotSpan)
	outs, err := m.store.Outcomes().Between(ctx, start, now)
	if err != nil {
		return nil, fmt.Errorf("failed to load signature outcomes: %w", err)
	}

	shares := stats.ClassSharesOf(outs)
	return &domain.PatternSnapshot{
		StartAt:     start,
		EndAt:       now,
		ColorShares: stats.ColorSharesOf(outs),
		OddPct:      shares.OddPct,
		SmallPct:    shares.SmallPct,
		MaxRun:      stats.MaxColorRunOf(outs),
		TopPool:     stats.TopValuesOf(outs, m.cfg.TopPoolSize),
		SampleCount: len(outs),
	}, nil
}

// Similarity is the weighted likeness of two signatures: color distribution
// (0.4), parity split (0.2), size split (0.2) and top-pool overlap (0.2).
func Similarity(a, b *domain.PatternSnapshot) float64 {
	var l1 float64
	for _, c := range domain.AllColors {
		l1 += math.Abs(a.ColorShares[c] - b.ColorShares[c])
	}
	colorSim := 1 - l1/2

	oddSim := 1 - math.Abs(a.OddPct-b.OddPct)/100
	smallSim := 1 - math.Abs(a.SmallPct-b.SmallPct)/100

	return 0.4*colorSim + 0.2*oddSim + 0.2*smallSim + 0.2*jaccard(a.TopPool, b.TopPool)
}

func jaccard(a, b []int) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[int]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	inter := 0
	for _, v := range b {
		if _, ok := set[v]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
