package reactivation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/stats"
	"github.com/crunkdevs/predictor-sub000/internal/store/storetest"
)

var now = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func newMatcher(t *testing.T, cfg config.ReactivationConfig) (*Matcher, *storetest.Mem) {
	t.Helper()
	mem := storetest.NewMem(time.UTC, 20*time.Minute)
	provider := stats.NewComputedWithClock(mem.Outcomes(), time.UTC, func() time.Time { return now })
	return NewMatcher(mem, provider, cfg), mem
}

func seedSpan(t *testing.T, mem *storetest.Mem, values []int, from, to time.Time) {
	t.Helper()
	ctx := context.Background()
	step := to.Sub(from) / time.Duration(len(values))
	for i, v := range values {
		o := domain.NewOutcome(v, from.Add(time.Duration(i)*step))
		_, err := mem.Outcomes().Insert(ctx, &o)
		require.NoError(t, err)
	}
}

func repeat(cycle []int, n int) []int {
	out := make([]int, 0, n)
	for len(out) < n {
		out = append(out, cycle[len(out)%len(cycle)])
	}
	return out
}

func TestSimilarityIdenticalSignatures(t *testing.T) {
	a := &domain.PatternSnapshot{
		ColorShares: map[domain.Color]float64{domain.ColorRed: 0.5, domain.ColorDarkBlue: 0.5},
		OddPct:      50,
		SmallPct:    100,
		TopPool:     []int{0, 1, 2},
	}
	assert.InDelta(t, 1.0, Similarity(a, a), 1e-9)
}

func TestSimilarityWeightsComponents(t *testing.T) {
	a := &domain.PatternSnapshot{
		ColorShares: map[domain.Color]float64{domain.ColorRed: 1},
		OddPct:      50,
		SmallPct:    50,
		TopPool:     []int{0, 1},
	}
	b := &domain.PatternSnapshot{
		ColorShares: map[domain.Color]float64{domain.ColorRed: 1},
		OddPct:      50,
		SmallPct:    25, // size term drops to 0.75
		TopPool:     []int{2, 3},
	}
	// 0.4*1 + 0.2*1 + 0.2*0.75 + 0.2*0 = 0.75
	assert.InDelta(t, 0.75, Similarity(a, b), 1e-9)
}

func TestFindAcceptsAtThreshold(t *testing.T) {
	cfg := config.Default().Reactivation
	m, mem := newMatcher(t, cfg)
	ctx := context.Background()

	seedSpan(t, mem, repeat([]int{0, 1}, 96), now.Add(-cfg.SnapshotSpan), now)

	old := &domain.PatternSnapshot{
		StartAt:     now.Add(-240 * time.Hour),
		EndAt:       now.Add(-192 * time.Hour),
		ColorShares: map[domain.Color]float64{domain.ColorRed: 0.5, domain.ColorDarkBlue: 0.5},
		OddPct:      50,
		SmallPct:    75, // pulls similarity below 1 but above any sane threshold
		TopPool:     []int{0, 1},
		SampleCount: 96,
	}
	require.NoError(t, mem.Snapshots().Upsert(ctx, old))

	// Configure the threshold to the exact computed similarity: the match
	// must still be accepted because the comparison is inclusive.
	cur, err := m.signature(ctx, now)
	require.NoError(t, err)
	sim := Similarity(cur, old)
	require.Greater(t, sim, 0.7)

	m.cfg.MinSimilarity = sim
	match, err := m.Find(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, old.ID, match.Snapshot.ID)
	assert.InDelta(t, sim, match.Similarity, 1e-12)

	// A hair above the computed similarity rejects it.
	m.cfg.MinSimilarity = sim + 1e-9
	match, err = m.Find(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestFindPrefersBestMatch(t *testing.T) {
	cfg := config.Default().Reactivation
	cfg.MinSimilarity = 0.5
	m, mem := newMatcher(t, cfg)
	ctx := context.Background()

	seedSpan(t, mem, repeat([]int{0, 1}, 96), now.Add(-cfg.SnapshotSpan), now)

	similar := &domain.PatternSnapshot{
		StartAt:     now.Add(-240 * time.Hour),
		EndAt:       now.Add(-192 * time.Hour),
		ColorShares: map[domain.Color]float64{domain.ColorRed: 0.5, domain.ColorDarkBlue: 0.5},
		OddPct:      50,
		SmallPct:    100,
		TopPool:     []int{0, 1},
	}
	dissimilar := &domain.PatternSnapshot{
		StartAt:     now.Add(-480 * time.Hour),
		EndAt:       now.Add(-432 * time.Hour),
		ColorShares: map[domain.Color]float64{domain.ColorGreen: 1},
		OddPct:      0,
		SmallPct:    0,
		TopPool:     []int{20, 21},
	}
	require.NoError(t, mem.Snapshots().Upsert(ctx, similar))
	require.NoError(t, mem.Snapshots().Upsert(ctx, dissimilar))

	match, err := m.Find(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, match)
	assert.Equal(t, similar.ID, match.Snapshot.ID)
	assert.Greater(t, match.Similarity, 0.95)
}

func TestFindIgnoresOverlappingSnapshot(t *testing.T) {
	cfg := config.Default().Reactivation
	m, mem := newMatcher(t, cfg)
	ctx := context.Background()

	seedSpan(t, mem, repeat([]int{0, 1}, 96), now.Add(-cfg.SnapshotSpan), now)

	// A snapshot of the current span itself would always score 1.0.
	self, err := m.signature(ctx, now)
	require.NoError(t, err)
	require.NoError(t, mem.Snapshots().Upsert(ctx, self))

	match, err := m.Find(ctx, now)
	require.NoError(t, err)
	assert.Nil(t, match)
}

func TestEnsureSnapshotRespectsInterval(t *testing.T) {
	cfg := config.Default().Reactivation
	m, mem := newMatcher(t, cfg)
	ctx := context.Background()

	seedSpan(t, mem, repeat([]int{0, 1, 2, 3}, 96), now.Add(-cfg.SnapshotSpan), now)

	snap, err := m.EnsureSnapshot(ctx, now)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, 96, snap.SampleCount)
	assert.Len(t, snap.TopPool, 4)

	// A second pass inside the interval is a no-op.
	again, err := m.EnsureSnapshot(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, again)

	// Past the interval a fresh snapshot is taken.
	seedSpan(t, mem, repeat([]int{4, 5, 6, 7}, 96), now, now.Add(cfg.SnapshotInterval+time.Hour))
	later, err := m.EnsureSnapshot(ctx, now.Add(cfg.SnapshotInterval).Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, later)
	assert.NotEqual(t, snap.ID, later.ID)
}

func TestRecordResultUpdatesHitRateEMA(t *testing.T) {
	cfg := config.Default().Reactivation
	m, mem := newMatcher(t, cfg)
	ctx := context.Background()

	snap := &domain.PatternSnapshot{
		StartAt:     now.Add(-96 * time.Hour),
		EndAt:       now.Add(-48 * time.Hour),
		ColorShares: map[domain.Color]float64{domain.ColorRed: 1},
		TopPool:     []int{0},
		HitRate:     0.5,
	}
	require.NoError(t, mem.Snapshots().Upsert(ctx, snap))

	require.NoError(t, m.RecordResult(ctx, mem, snap.ID, true, now))
	got, err := mem.Snapshots().Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got.HitRate, 1e-9) // 0.8*0.5 + 0.2*1

	require.NoError(t, m.RecordResult(ctx, mem, snap.ID, false, now))
	got, err = mem.Snapshots().Get(ctx, snap.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.48, got.HitRate, 1e-9) // 0.8*0.6
}
