package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/inference"
	"github.com/crunkdevs/predictor-sub000/internal/pattern"
	"github.com/crunkdevs/predictor-sub000/internal/reactivation"
	"github.com/crunkdevs/predictor-sub000/internal/scorer"
	"github.com/crunkdevs/predictor-sub000/internal/signals"
	"github.com/crunkdevs/predictor-sub000/internal/stats"
	"github.com/crunkdevs/predictor-sub000/internal/store"
	"github.com/crunkdevs/predictor-sub000/internal/store/storetest"
	"github.com/crunkdevs/predictor-sub000/internal/window"
	"github.com/crunkdevs/predictor-sub000/pkg/cache"
)

// anchor sits 1h into window 5 (10:00-12:00), past the first-predict delay.
var anchor = time.Date(2026, 1, 5, 11, 0, 0, 0, time.UTC)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type stubInference struct {
	calls int
	resp  *inference.Response
	err   error
}

func (s *stubInference) Predict(context.Context, *inference.Request) (*inference.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func newTestEngine(t *testing.T, client inference.Client) (*Engine, *storetest.Mem, *fakeClock) {
	t.Helper()
	cfg := config.Default()
	clk := &fakeClock{t: anchor}

	mem := storetest.NewMem(time.UTC, cfg.Window.FirstPredictDelay)
	provider := stats.NewComputedWithClock(mem.Outcomes(), time.UTC, clk.Now)
	mc := cache.NewMemoryWithClock(clk.Now)

	deps := Deps{
		Store:     mem,
		Lease:     store.NewMutexLease(),
		Stats:     provider,
		Windows:   window.NewManager(mem, provider, cfg.Window, time.UTC),
		Detector:  pattern.NewDetector(provider, cfg.Pattern),
		Deviation: signals.NewDeviationDetector(provider, mc, cfg.Signals),
		Reversal:  signals.NewReversalDetector(provider, mc, cfg.Signals),
		Matcher:   reactivation.NewMatcher(mem, provider, cfg.Reactivation),
		Scorer:    scorer.NewScorer(provider, cfg.Scoring),
		Inference: client,
	}
	return NewWithClock(deps, cfg, clk.Now), mem, clk
}

// seedAlternating writes an alternating 0/1 stream, one outcome per minute
// ending just before end. Both classes split evenly, so every signal stays
// quiet.
func seedAlternating(t *testing.T, mem *storetest.Mem, n int, end time.Time) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		o := domain.NewOutcome(i%2, end.Add(-time.Duration(n-i)*time.Minute))
		_, err := mem.Outcomes().Insert(ctx, &o)
		require.NoError(t, err)
	}
}

func TestTickCreatesLocalPrediction(t *testing.T) {
	eng, mem, _ := newTestEngine(t, nil)
	ctx := context.Background()
	seedAlternating(t, mem, 60, anchor)

	res, err := eng.Tick(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, res.TickID)
	require.Empty(t, res.Skipped)
	require.NotNil(t, res.Prediction)

	pred := res.Prediction
	assert.Equal(t, domain.SourceLocal, pred.Source)
	assert.Len(t, pred.Hot, domain.HotSize)
	assert.Len(t, pred.Cold, domain.ColdSize)
	assert.NotZero(t, pred.ID)

	stored, err := mem.Predictions().LatestForWindow(ctx, pred.WindowID)
	require.NoError(t, err)
	assert.Equal(t, pred.ID, stored.ID)

	st, err := mem.States().Get(ctx, pred.WindowID)
	require.NoError(t, err)
	require.NotNil(t, st.LastPredictionAt)
	assert.Equal(t, anchor, *st.LastPredictionAt)
}

func TestTickDebounce(t *testing.T) {
	eng, mem, _ := newTestEngine(t, nil)
	ctx := context.Background()
	seedAlternating(t, mem, 60, anchor)

	first, err := eng.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, first.Prediction)

	second, err := eng.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, SkipDebounce, second.Skipped)
	assert.Nil(t, second.Prediction)
}

func TestTickSkipsBeforeFirstSlot(t *testing.T) {
	eng, mem, clk := newTestEngine(t, nil)
	clk.t = time.Date(2026, 1, 5, 10, 5, 0, 0, time.UTC)
	seedAlternating(t, mem, 60, clk.t)

	res, err := eng.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, window.ReasonBeforeFirstSlot, res.Skipped)
}

func TestTickSkipsWhenLeaseHeld(t *testing.T) {
	eng, _, _ := newTestEngine(t, nil)
	ctx := context.Background()

	held, err := eng.Lease.TryAcquire(ctx, eng.cfg.Engine.LeaseName)
	require.NoError(t, err)
	require.True(t, held)

	res, err := eng.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, SkipLeaseHeld, res.Skipped)
}

func TestTickEscalatesOnUnknownPattern(t *testing.T) {
	stub := &stubInference{resp: &inference.Response{Values: []int{5, 6, 7}, Confidence: 0.9}}
	eng, mem, _ := newTestEngine(t, stub)
	ctx := context.Background()

	// Too few samples for classification; the unknown regime triggers the
	// escalated path.
	seedAlternating(t, mem, 10, anchor)

	res, err := eng.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Prediction)

	pred := res.Prediction
	assert.Equal(t, domain.SourceAI, pred.Source)
	assert.Equal(t, domain.PatternUnknown, pred.Pattern)
	assert.Equal(t, 1, stub.calls)
	assert.Equal(t, "pattern_unknown", pred.Context.TriggerReason)

	// The model's picks head the ranking pool.
	for _, v := range []int{5, 6, 7} {
		assert.True(t, pred.Contains(v))
	}
	assert.Len(t, pred.Hot, domain.HotSize)
	assert.Len(t, pred.Cold, domain.ColdSize)
}

func TestTickFallsBackWhenInferenceFails(t *testing.T) {
	stub := &stubInference{err: errors.New("upstream down")}
	eng, mem, _ := newTestEngine(t, stub)
	ctx := context.Background()
	seedAlternating(t, mem, 10, anchor)

	res, err := eng.Tick(ctx)
	require.NoError(t, err)
	require.NotNil(t, res.Prediction)

	assert.Equal(t, domain.SourceLocal, res.Prediction.Source)
	assert.Equal(t, "inference_error", res.Prediction.Context.FallbackReason)
	assert.Equal(t, 1, stub.calls)
}

func TestDryRunPersistsNothing(t *testing.T) {
	eng, mem, _ := newTestEngine(t, nil)
	ctx := context.Background()
	seedAlternating(t, mem, 60, anchor)

	rep, err := eng.DryRun(ctx)
	require.NoError(t, err)

	assert.True(t, rep.Eligible)
	require.NotNil(t, rep.Classification)
	assert.NotEqual(t, domain.PatternUnknown, rep.Classification.Pattern)
	require.NotNil(t, rep.Ranking)
	assert.Len(t, rep.Pool, domain.PoolSize)
	assert.Len(t, rep.Ranking.Hot, domain.HotSize)

	_, err = mem.Predictions().LatestForWindow(ctx, rep.Window.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
