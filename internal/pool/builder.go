// Package pool assembles the fixed-size candidate set the scorer ranks.
package pool

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/reactivation"
	"github.com/crunkdevs/predictor-sub000/internal/stats"
	"github.com/crunkdevs/predictor-sub000/internal/store"
)

// transitionTargetLimit caps how many Markov targets seed the pool, leaving
// room for at least one value from the later steps.
const transitionTargetLimit = 13 - 1

// Input carries everything a single pool build depends on.
type Input struct {
	Last         *domain.Outcome // newest outcome, nil on a cold start
	Pattern      domain.PatternCode
	WindowIdx    int
	Reactivation *reactivation.Match // nil when no snapshot matched
}

// Builder fills a 13-value pool in five deterministic steps, each skipped
// once the pool is full: transition priors, reactivation seed, the active
// pattern's rule, one smart-overdue pick, then ascending fill.
type Builder struct {
	stats       stats.Provider
	transitions store.TransitionRepo
	cfg         config.PoolConfig
}

func NewBuilder(sp stats.Provider, tr store.TransitionRepo, cfg config.PoolConfig) *Builder {
	return &Builder{stats: sp, transitions: tr, cfg: cfg}
}

// Build returns exactly domain.PoolSize distinct values in 0..27.
func (b *Builder) Build(ctx context.Context, in Input) ([]int, error) {
	pool := make([]int, 0, domain.PoolSize)
	var seen [domain.NumValues]bool
	add := func(v int) {
		if len(pool) >= domain.PoolSize || !domain.ValidValue(v) || seen[v] {
			return
		}
		seen[v] = true
		pool = append(pool, v)
	}

	if in.Last != nil {
		targets, err := b.transitionTargets(ctx, in.Last.Value, in.WindowIdx)
		if err != nil {
			return nil, err
		}
		for _, tc := range targets {
			add(tc.To)
		}
	}

	if in.Reactivation != nil {
		for _, v := range in.Reactivation.Snapshot.TopPool {
			add(v)
		}
	}

	if in.Last != nil && len(pool) < domain.PoolSize {
		switch in.Pattern {
		case domain.PatternB:
			b.addOppositeClasses(in.Last, add)
		case domain.PatternC:
			if err := b.addByGapDescending(ctx, add); err != nil {
				return nil, err
			}
		}
	}

	if in.Last != nil && len(pool) < domain.PoolSize {
		if err := b.addSmartOverdue(ctx, in.Last, &seen, add); err != nil {
			return nil, err
		}
	}

	for v := 0; v < domain.NumValues && len(pool) < domain.PoolSize; v++ {
		add(v)
	}

	return pool, nil
}

// transitionTargets prefers the window-indexed counters and falls back to
// the global table when the windowed slice is too thin to trust.
func (b *Builder) transitionTargets(ctx context.Context, last, windowIdx int) ([]domain.TransitionCount, error) {
	distinct, err := b.transitions.WindowedDistinct(ctx, last, windowIdx)
	if err != nil {
		return nil, fmt.Errorf("failed to probe windowed transitions: %w", err)
	}
	if distinct >= b.cfg.TransitionMinSupport {
		return b.transitions.WindowedTargets(ctx, last, windowIdx, transitionTargetLimit)
	}
	return b.transitions.Targets(ctx, last, transitionTargetLimit)
}

// addOppositeClasses implements the balanced-regime rule: after a value,
// favor the opposite parity or the opposite size.
func (b *Builder) addOppositeClasses(last *domain.Outcome, add func(int)) {
	wantParity := domain.OppositeParity(last.Parity)
	wantSize := domain.OppositeSize(last.Size)
	for v := 0; v < domain.NumValues; v++ {
		if domain.ParityOf(v) == wantParity || domain.SizeOf(v) == wantSize {
			add(v)
		}
	}
}

// addByGapDescending implements the overdue-regime rule: most-starved values
// first.
func (b *Builder) addByGapDescending(ctx context.Context, add func(int)) error {
	gaps, err := b.stats.ValueGaps(ctx, b.cfg.PatternLookback)
	if err != nil {
		return fmt.Errorf("failed to load gaps: %w", err)
	}
	values := make([]int, 0, domain.NumValues)
	for v := 0; v < domain.NumValues; v++ {
		values = append(values, v)
	}
	sort.Slice(values, func(i, j int) bool {
		gi, gj := gaps[values[i]], gaps[values[j]]
		if gi.SinceLast != gj.SinceLast {
			return gi.SinceLast > gj.SinceLast
		}
		return values[i] < values[j]
	})
	for _, v := range values {
		add(v)
	}
	return nil
}

// addSmartOverdue adds at most one long-absent value whose past occurrences
// were reliably preceded by the current color.
func (b *Builder) addSmartOverdue(ctx context.Context, last *domain.Outcome, seen *[domain.NumValues]bool, add func(int)) error {
	gaps, err := b.stats.ValueGaps(ctx, b.cfg.OverdueHistoryLookback)
	if err != nil {
		return fmt.Errorf("failed to load overdue gaps: %w", err)
	}

	var candidates []int
	for v := 0; v < domain.NumValues; v++ {
		if seen[v] {
			continue
		}
		if gaps[v].SinceLast >= b.cfg.OverdueGap {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) < b.cfg.OverdueMinCandidates {
		return nil
	}

	best := -1
	var bestRate float64
	for _, v := range candidates {
		occurrences, rate, err := b.stats.PrecededByColorRate(ctx, v, last.Color, b.cfg.OverdueHistoryLookback)
		if err != nil {
			return fmt.Errorf("failed to compute conditional rate: %w", err)
		}
		if occurrences < b.cfg.OverdueMinOccurrences || rate < b.cfg.OverdueMinHitRate {
			continue
		}
		if best == -1 || rate > bestRate ||
			(rate == bestRate && gaps[v].SinceLast > gaps[best].SinceLast) {
			best, bestRate = v, rate
		}
	}
	if best >= 0 {
		log.Debug().Int("value", best).Float64("rate", bestRate).Msg("Smart overdue pick")
		add(best)
	}
	return nil
}
