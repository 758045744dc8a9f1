package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/reactivation"
	"github.com/crunkdevs/predictor-sub000/internal/stats"
	"github.com/crunkdevs/predictor-sub000/internal/store/storetest"
)

var anchor = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func newBuilder(t *testing.T) (*Builder, *storetest.Mem) {
	t.Helper()
	mem := storetest.NewMem(time.UTC, 20*time.Minute)
	provider := stats.NewComputedWithClock(mem.Outcomes(), time.UTC, func() time.Time { return anchor })
	return NewBuilder(provider, mem.Transitions(), config.Default().Pool), mem
}

func seed(t *testing.T, mem *storetest.Mem, values []int) *domain.Outcome {
	t.Helper()
	ctx := context.Background()
	var last *domain.Outcome
	for i, v := range values {
		o := domain.NewOutcome(v, anchor.Add(-time.Duration(len(values)-i)*time.Minute))
		_, err := mem.Outcomes().Insert(ctx, &o)
		require.NoError(t, err)
		last = &o
	}
	return last
}

func assertValidPool(t *testing.T, pool []int) {
	t.Helper()
	require.Len(t, pool, domain.PoolSize)
	seen := map[int]bool{}
	for _, v := range pool {
		assert.True(t, domain.ValidValue(v))
		assert.False(t, seen[v], "duplicate value %d", v)
		seen[v] = true
	}
}

func TestBuildColdStart(t *testing.T) {
	b, _ := newBuilder(t)

	pool, err := b.Build(context.Background(), Input{Pattern: domain.PatternUnknown})
	require.NoError(t, err)
	assertValidPool(t, pool)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, pool)
}

func TestBuildWindowedTransitionsLeadThePool(t *testing.T) {
	b, mem := newBuilder(t)
	ctx := context.Background()
	last := seed(t, mem, []int{15})

	for i := 0; i < 3; i++ {
		require.NoError(t, mem.Transitions().IncrementWindowed(ctx, 15, 7, 4))
	}
	for i := 0; i < 2; i++ {
		require.NoError(t, mem.Transitions().IncrementWindowed(ctx, 15, 22, 4))
	}

	pool, err := b.Build(ctx, Input{Last: last, Pattern: domain.PatternA, WindowIdx: 4})
	require.NoError(t, err)
	assertValidPool(t, pool)
	assert.Equal(t, 7, pool[0])
	assert.Equal(t, 22, pool[1])
}

func TestBuildFallsBackToGlobalTransitions(t *testing.T) {
	b, mem := newBuilder(t)
	ctx := context.Background()
	last := seed(t, mem, []int{15})

	// Only one distinct windowed target: below the support floor.
	require.NoError(t, mem.Transitions().IncrementWindowed(ctx, 15, 7, 4))
	for i := 0; i < 4; i++ {
		require.NoError(t, mem.Transitions().Increment(ctx, 15, 9))
	}
	require.NoError(t, mem.Transitions().Increment(ctx, 15, 3))

	pool, err := b.Build(ctx, Input{Last: last, Pattern: domain.PatternA, WindowIdx: 4})
	require.NoError(t, err)
	assertValidPool(t, pool)
	assert.Equal(t, 9, pool[0])
	assert.Equal(t, 3, pool[1])
}

func TestBuildReactivationSeedsAfterTransitions(t *testing.T) {
	b, mem := newBuilder(t)
	ctx := context.Background()
	last := seed(t, mem, []int{15})

	require.NoError(t, mem.Transitions().IncrementWindowed(ctx, 15, 7, 4))
	require.NoError(t, mem.Transitions().IncrementWindowed(ctx, 15, 22, 4))

	match := &reactivation.Match{
		Snapshot:   &domain.PatternSnapshot{TopPool: []int{22, 5, 6}},
		Similarity: 0.8,
	}

	pool, err := b.Build(ctx, Input{Last: last, Pattern: domain.PatternA, WindowIdx: 4, Reactivation: match})
	require.NoError(t, err)
	assertValidPool(t, pool)
	assert.Equal(t, []int{7, 22, 5, 6}, pool[:4])
}

func TestBuildPatternBFillsOppositeClasses(t *testing.T) {
	b, mem := newBuilder(t)
	last := seed(t, mem, []int{1}) // odd, small

	pool, err := b.Build(context.Background(), Input{Last: last, Pattern: domain.PatternB, WindowIdx: 0})
	require.NoError(t, err)
	assertValidPool(t, pool)
	// Even or big values in ascending order.
	assert.Equal(t, []int{0, 2, 4, 6, 8, 10, 12, 14, 15, 16, 17, 18, 19}, pool)
}

func TestBuildPatternCOrdersByGap(t *testing.T) {
	b, mem := newBuilder(t)
	// One sweep of every value, then 0/1 alternating: values 2..27 age in
	// ascending order of recency, so 2 is the most starved.
	values := make([]int, 0, 120)
	for v := 0; v < domain.NumValues; v++ {
		values = append(values, v)
	}
	for len(values) < 120 {
		values = append(values, len(values)%2)
	}
	last := seed(t, mem, values)

	pool, err := b.Build(context.Background(), Input{Last: last, Pattern: domain.PatternC, WindowIdx: 0})
	require.NoError(t, err)
	assertValidPool(t, pool)
	assert.Equal(t, []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14}, pool)
}

func TestBuildSmartOverduePick(t *testing.T) {
	b, mem := newBuilder(t)

	// Value 20 historically follows red (value 0) every time; 21..26 follow
	// other colors. Then a long 2/3 stretch leaves all of them overdue, and
	// the stream ends on red.
	var values []int
	for i := 0; i < 12; i++ {
		values = append(values, 0, 20)
	}
	for _, c := range []int{21, 22, 23, 24, 25, 26} {
		for i := 0; i < 12; i++ {
			values = append(values, 1, c)
		}
	}
	for i := 0; i < 30; i++ {
		values = append(values, 2, 3)
	}
	values = append(values, 0)
	last := seed(t, mem, values)
	require.Equal(t, 0, last.Value)

	pool, err := b.Build(context.Background(), Input{Last: last, Pattern: domain.PatternA, WindowIdx: 0})
	require.NoError(t, err)
	assertValidPool(t, pool)
	assert.Equal(t, 20, pool[0])
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}, pool[1:])
}
