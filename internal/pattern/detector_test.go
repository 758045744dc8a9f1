package pattern

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

var anchor = time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)

func detectorWith(t *testing.T, values []int) (*Detector, *storetest.Mem) {
	t.Helper()
	mem := storetest.NewMem(time.UTC, 20*time.Minute)
	ctx := context.Background()
	for i, v := range values {
		o := domain.NewOutcome(v, anchor.Add(-time.Duration(len(values)-i)*time.Minute))
		_, err := mem.Outcomes().Insert(ctx, &o)
		require.NoError(t, err)
	}
	provider := stats.NewComputed(mem.Outcomes(), time.UTC)
	return NewDetector(provider, config.Default().Pattern), mem
}

func repeatCycle(cycle []int, n int) []int {
	out := make([]int, 0, n)
	for len(out) < n {
		out = append(out, cycle[len(out)%len(cycle)])
	}
	return out
}

// pairsOfPairs walks lo..hi in interleaved pairs (lo, lo+1, lo, lo+1, ...),
// so nearly every step moves by exactly one and every value repeats with a
// tiny gap.
func pairsOfPairs(lo, hi int) []int {
	var out []int
	for p := lo; p+1 <= hi; p += 2 {
		out = append(out, p, p+1, p, p+1)
	}
	return out
}

func TestClassifySequentialStream(t *testing.T) {
	// One full sweep keeps every value's gaps short, then small-value sweeps
	// skew the size split so only the neighbor signal fires.
	values := pairsOfPairs(0, 27)
	values = append(values, pairsOfPairs(0, 13)...)
	values = append(values, pairsOfPairs(0, 13)...)
	values = append(values, pairsOfPairs(0, 13)[:8]...)
	require.Len(t, values, 120)

	d, _ := detectorWith(t, values)

	res, err := d.Classify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PatternA, res.Pattern)
	assert.Greater(t, res.SeqPairRatio, 0.9)
	assert.Equal(t, 1.0, res.ScoreA)
	assert.Zero(t, res.ScoreC)
	assert.Zero(t, res.UnseenCount)
	assert.Zero(t, res.LongGapCount)
}

func TestClassifyBalancedStream(t *testing.T) {
	// Each quadrant appears equally and no step is sequential.
	d, _ := detectorWith(t, repeatCycle([]int{0, 5, 14, 21}, 120))

	res, err := d.Classify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PatternB, res.Pattern)
	assert.InDelta(t, 50, res.OddPct, 1e-9)
	assert.InDelta(t, 50, res.SmallPct, 1e-9)
	assert.InDelta(t, 1.2, res.ScoreB, 1e-9)
	// Many unseen values fire C too; the tie resolves toward B.
	assert.InDelta(t, 1.2, res.ScoreC, 1e-9)
}

func TestClassifyOverdueStream(t *testing.T) {
	// Two small even values only: shares are skewed so B stays silent, and
	// most of the value space is starved.
	d, _ := detectorWith(t, repeatCycle([]int{0, 2}, 120))

	res, err := d.Classify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PatternC, res.Pattern)
	assert.Equal(t, 26, res.UnseenCount)
	assert.Zero(t, res.ScoreA)
	assert.Zero(t, res.ScoreB)
}

func TestClassifyInsufficientSamples(t *testing.T) {
	d, _ := detectorWith(t, []int{3, 9, 17})

	res, err := d.Classify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.PatternUnknown, res.Pattern)
	assert.Equal(t, 3, res.SampleCount)
}

func TestDetectPersistsPattern(t *testing.T) {
	values := pairsOfPairs(0, 27)
	values = append(values, pairsOfPairs(0, 13)...)
	values = append(values, pairsOfPairs(0, 13)...)
	d, mem := detectorWith(t, values)
	ctx := context.Background()

	require.NoError(t, mem.Windows().EnsureDay(ctx, "2026-01-02"))
	w, err := mem.Windows().GetByDayIndex(ctx, "2026-01-02", 6)
	require.NoError(t, err)
	require.NoError(t, mem.States().Ensure(ctx, w.ID))

	res, err := d.Detect(ctx, mem, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatternA, res.Pattern)

	w, err = mem.Windows().Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatternA, w.Pattern)

	st, err := mem.States().Get(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PatternA, st.Pattern)
}
