package scorer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/reactivation"
	"github.com/crunkdevs/predictor-sub000/internal/signals"
	"github.com/crunkdevs/predictor-sub000/internal/stats"
	"github.com/crunkdevs/predictor-sub000/internal/store/storetest"
)

var anchor = time.Date(2026, 1, 6, 15, 0, 0, 0, time.UTC)

func newScorer(t *testing.T, values []int) *Scorer {
	t.Helper()
	mem := storetest.NewMem(time.UTC, 20*time.Minute)
	ctx := context.Background()
	for i, v := range values {
		o := domain.NewOutcome(v, anchor.Add(-time.Duration(len(values)-i)*time.Minute))
		_, err := mem.Outcomes().Insert(ctx, &o)
		require.NoError(t, err)
	}
	provider := stats.NewComputedWithClock(mem.Outcomes(), time.UTC, func() time.Time { return anchor })
	return NewScorer(provider, config.Default().Scoring)
}

func fullPool() []int {
	return []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
}

func TestScoreEmptyPoolRejected(t *testing.T) {
	s := newScorer(t, nil)
	_, err := s.Score(context.Background(), nil, Context{})
	assert.Error(t, err)
}

func TestScoreNormalizationBounds(t *testing.T) {
	values := make([]int, 200)
	for i := range values {
		values[i] = (i * 5) % domain.NumValues
	}
	s := newScorer(t, values)

	r, err := s.Score(context.Background(), fullPool(), Context{})
	require.NoError(t, err)
	require.Len(t, r.Values, domain.PoolSize)

	// Sorted descending, so the extremes sit at the ends.
	assert.InDelta(t, 1.0, r.Values[0].Score, 1e-9)
	assert.InDelta(t, 0.0, r.Values[len(r.Values)-1].Score, 1e-9)
	for i := 1; i < len(r.Values); i++ {
		assert.LessOrEqual(t, r.Values[i].Score, r.Values[i-1].Score)
	}
}

func TestScoreZeroSpanYieldsAllZero(t *testing.T) {
	// No outcomes at all: every factor is identical for every candidate,
	// so the raw span is zero and every normalized score must be 0.0.
	s := newScorer(t, nil)

	pool := []int{1, 3, 5, 15, 17, 19, 8, 10, 12, 22, 24, 26, 4}
	r, err := s.Score(context.Background(), pool, Context{})
	require.NoError(t, err)
	for _, sv := range r.Values {
		assert.Equal(t, 0.0, sv.Score)
	}
	// Ties resolve by ascending value.
	assert.Equal(t, []int{1, 3, 4, 5, 8}, r.Hot)
}

func TestScorePartition(t *testing.T) {
	values := make([]int, 200)
	for i := range values {
		values[i] = (i * 3) % domain.NumValues
	}
	s := newScorer(t, values)

	r, err := s.Score(context.Background(), fullPool(), Context{})
	require.NoError(t, err)

	require.Len(t, r.Hot, domain.HotSize)
	require.Len(t, r.Cold, domain.ColdSize)

	seen := map[int]bool{}
	for _, v := range append(append([]int{}, r.Hot...), r.Cold...) {
		assert.False(t, seen[v])
		seen[v] = true
	}
	for _, v := range fullPool() {
		assert.True(t, seen[v], "pool value %d missing from partition", v)
	}
	// Every hot score is at least every cold score.
	assert.GreaterOrEqual(t, r.Values[domain.HotSize-1].Score, r.Values[domain.HotSize].Score)
}

func TestScoreStreakBreakFavorsOppositeCluster(t *testing.T) {
	// A long red run: warm cluster. Cool values get the streak-break part.
	values := make([]int, 40)
	for i := range values {
		values[i] = 0 // red
	}
	s := newScorer(t, values)

	r, err := s.Score(context.Background(), []int{1, 0}, Context{}) // dark blue (cool) vs red (warm)
	require.NoError(t, err)

	byValue := map[int]domain.ScoredValue{}
	for _, sv := range r.Values {
		byValue[sv.Value] = sv
	}
	assert.Greater(t, byValue[1].Parts["streak_break"], 0.0)
	assert.Zero(t, byValue[0].Parts["streak_break"])
	assert.Equal(t, 1, r.Values[0].Value)
}

func TestScoreReactivationBoostRampsWithSimilarity(t *testing.T) {
	s := newScorer(t, []int{5, 6, 7})
	cfg := config.Default().Scoring

	match := func(sim float64) Context {
		return Context{Reactivation: &reactivation.Match{
			Snapshot:   &domain.PatternSnapshot{TopPool: []int{3}},
			Similarity: sim,
		}}
	}

	r, err := s.Score(context.Background(), []int{3, 4}, match(1.0))
	require.NoError(t, err)
	boosted := r.Values[0]
	require.Equal(t, 3, boosted.Value)
	assert.InDelta(t, cfg.Reactivation, boosted.Parts["reactivation"], 1e-9)

	r, err = s.Score(context.Background(), []int{3, 4}, match(0.85))
	require.NoError(t, err)
	require.Equal(t, 3, r.Values[0].Value)
	assert.InDelta(t, cfg.Reactivation*0.5, r.Values[0].Parts["reactivation"], 1e-9)
}

func TestScoreTrendReversalMatchesPredictedClasses(t *testing.T) {
	s := newScorer(t, []int{0, 1, 2})
	cfg := config.Default().Scoring

	sctx := Context{Reversal: &signals.ReversalResult{
		TrendReversal: true,
		NextCluster:   domain.ClusterCool,
		NextSize:      domain.SizeBig,
	}}

	// 17 -> color index 3 (green, cool) and big: full 0.6 + 0.4 match.
	r, err := s.Score(context.Background(), []int{17, 0}, sctx)
	require.NoError(t, err)

	byValue := map[int]domain.ScoredValue{}
	for _, sv := range r.Values {
		byValue[sv.Value] = sv
	}
	assert.InDelta(t, cfg.TrendReversal, byValue[17].Parts["trend_reversal"], 1e-9)
	assert.Zero(t, byValue[0].Parts["trend_reversal"])
}
