package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/signals"
	"github.com/crunkdevs/predictor-sub000/internal/store/storetest"
)

var now = time.Date(2026, 1, 7, 14, 30, 0, 0, time.UTC)

func newFixture(t *testing.T) (*Controller, *storetest.Mem, *domain.Window) {
	t.Helper()
	cfg := config.Default()
	mem := storetest.NewMem(time.UTC, cfg.Window.FirstPredictDelay)
	ctrl := NewController(mem.Predictions(), cfg.Admission, cfg.Window.PauseThreshold, time.UTC)

	ctx := context.Background()
	require.NoError(t, mem.Windows().EnsureDay(ctx, "2026-01-07"))
	w, err := mem.Windows().GetByDayIndex(ctx, "2026-01-07", 7) // 14:00-16:00
	require.NoError(t, err)
	return ctrl, mem, w
}

func baseInput(w *domain.Window) Input {
	return Input{
		Window:    w,
		State:     &domain.WindowPatternState{WindowID: w.ID, Pattern: domain.PatternA},
		Deviation: &signals.DeviationResult{},
		Reversal:  &signals.ReversalResult{},
		Now:       now,
	}
}

func insertAI(t *testing.T, mem *storetest.Mem, windowID int64, at time.Time) {
	t.Helper()
	p := &domain.Prediction{
		WindowID:  windowID,
		Source:    domain.SourceAI,
		Pattern:   domain.PatternA,
		Hot:       []int{1, 2, 3, 4, 5},
		Cold:      []int{6, 7, 8, 9, 10, 11, 12, 13},
		CreatedAt: at,
	}
	require.NoError(t, mem.Predictions().Insert(context.Background(), p))
}

func TestDecideWindowNotReady(t *testing.T) {
	ctrl, _, w := newFixture(t)

	in := baseInput(w)
	in.Now = w.StartAt.Add(5 * time.Minute) // before the first-predict delay
	d, err := ctrl.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, d.Trigger)
	assert.Equal(t, ReasonWindowNotReady, d.Reason)

	in = baseInput(w)
	in.Window = &domain.Window{ID: w.ID, Status: domain.WindowClosed, FirstPredictAt: w.FirstPredictAt}
	d, err = ctrl.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ReasonWindowNotReady, d.Reason)
}

func TestDecideWindowCap(t *testing.T) {
	ctrl, mem, w := newFixture(t)
	insertAI(t, mem, w.ID, now.Add(-10*time.Hour))

	d, err := ctrl.Decide(context.Background(), baseInput(w))
	require.NoError(t, err)
	assert.False(t, d.Trigger)
	assert.Equal(t, ReasonWindowCap, d.Reason)
}

func TestDecideDailyCap(t *testing.T) {
	ctrl, mem, w := newFixture(t)
	// Three AI predictions today in other windows.
	dayStart := time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC)
	insertAI(t, mem, w.ID+100, dayStart.Add(1*time.Hour))
	insertAI(t, mem, w.ID+101, dayStart.Add(2*time.Hour))
	insertAI(t, mem, w.ID+102, dayStart.Add(3*time.Hour))

	d, err := ctrl.Decide(context.Background(), baseInput(w))
	require.NoError(t, err)
	assert.False(t, d.Trigger)
	assert.Equal(t, ReasonDailyCap, d.Reason)
}

func TestDecideYesterdayDoesNotCountTowardDailyCap(t *testing.T) {
	ctrl, mem, w := newFixture(t)
	for i := 0; i < 5; i++ {
		insertAI(t, mem, w.ID+int64(100+i), now.Add(-26*time.Hour))
	}

	in := baseInput(w)
	in.Deviation.Deviation = true
	d, err := ctrl.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, d.Trigger)
	assert.Equal(t, ReasonDeviation, d.Reason)
}

func TestDecideMinGap(t *testing.T) {
	ctrl, mem, w := newFixture(t)
	// One AI prediction two hours ago in another window, still inside the
	// six hour gap.
	insertAI(t, mem, w.ID+100, now.Add(-2*time.Hour))

	in := baseInput(w)
	in.Deviation.Deviation = true
	d, err := ctrl.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, d.Trigger)
	assert.Equal(t, ReasonMinGap, d.Reason)
}

func TestDecideTriggerPriority(t *testing.T) {
	ctrl, _, w := newFixture(t)

	// All triggers present at once: deviation wins.
	in := baseInput(w)
	in.Deviation.Deviation = true
	in.State.ConsecutiveWrong = 3
	in.State.Pattern = domain.PatternUnknown
	in.Reversal.TrendReversal = true
	d, err := ctrl.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, d.Trigger)
	assert.Equal(t, ReasonDeviation, d.Reason)

	// Without deviation, the wrong streak wins.
	in.Deviation.Deviation = false
	d, err = ctrl.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ReasonWrongStreak, d.Reason)

	// Streak below threshold: the unknown pattern wins.
	in.State.ConsecutiveWrong = 2
	d, err = ctrl.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ReasonPatternUnknown, d.Reason)

	// Known pattern: reversal wins.
	in.State.Pattern = domain.PatternB
	d, err = ctrl.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, ReasonReversal, d.Reason)

	// Nothing fires: stay local.
	in.Reversal.TrendReversal = false
	d, err = ctrl.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, d.Trigger)
	assert.Equal(t, ReasonLocalSufficient, d.Reason)
}

func TestDecideNilSignalsStayLocal(t *testing.T) {
	ctrl, _, w := newFixture(t)

	in := baseInput(w)
	in.Deviation = nil
	in.Reversal = nil
	d, err := ctrl.Decide(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, d.Trigger)
	assert.Equal(t, ReasonLocalSufficient, d.Reason)
}
