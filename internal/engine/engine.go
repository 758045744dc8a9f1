// Package engine runs the two entry points that mutate engine state: the
// periodic tick that may emit a prediction, and the evaluator that ingests
// observed outcomes. Both do their writes inside one store transaction under
// the current window's row lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/crunkdevs/predictor-sub000/internal/admission"
	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/emit"
	"github.com/crunkdevs/predictor-sub000/internal/inference"
	"github.com/crunkdevs/predictor-sub000/internal/metrics"
	"github.com/crunkdevs/predictor-sub000/internal/pattern"
	"github.com/crunkdevs/predictor-sub000/internal/pool"
	"github.com/crunkdevs/predictor-sub000/internal/reactivation"
	"github.com/crunkdevs/predictor-sub000/internal/scorer"
	"github.com/crunkdevs/predictor-sub000/internal/signals"
	"github.com/crunkdevs/predictor-sub000/internal/stats"
	"github.com/crunkdevs/predictor-sub000/internal/store"
	"github.com/crunkdevs/predictor-sub000/internal/window"
)

// Skip reasons local to the tick pipeline. Window eligibility reasons from
// the window package pass through unchanged.
const (
	SkipLeaseHeld = "lease_held"
	SkipDebounce  = "debounce"
)

// TickResult reports what one tick did: either a persisted prediction or the
// reason the tick produced nothing.
type TickResult struct {
	TickID     string             `json:"tick_id"`
	Skipped    string             `json:"skipped,omitempty"`
	Prediction *domain.Prediction `json:"prediction,omitempty"`
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Store     store.Store
	Lease     store.Lease
	Stats     stats.Provider
	Windows   *window.Manager
	Detector  *pattern.Detector
	Deviation *signals.DeviationDetector
	Reversal  *signals.ReversalDetector
	Matcher   *reactivation.Matcher
	Scorer    *scorer.Scorer
	Inference inference.Client
	Publisher emit.Publisher
}

// Engine drives the decision pipeline.
type Engine struct {
	Deps
	cfg *config.Config
	loc *time.Location
	now func() time.Time
}

func New(d Deps, cfg *config.Config) *Engine {
	return NewWithClock(d, cfg, time.Now)
}

// NewWithClock fixes the engine clock, for tests.
func NewWithClock(d Deps, cfg *config.Config, now func() time.Time) *Engine {
	return &Engine{Deps: d, cfg: cfg, loc: cfg.Location(), now: now}
}

// Tick runs one pipeline pass. A skipped tick is not an error; the result
// carries the reason.
func (e *Engine) Tick(ctx context.Context) (*TickResult, error) {
	timer := prometheus.NewTimer(metrics.TickDuration)
	defer timer.ObserveDuration()

	res, err := e.tick(ctx, e.now())
	switch {
	case err != nil:
		metrics.Ticks.WithLabelValues("error").Inc()
	case res.Skipped != "":
		metrics.Ticks.WithLabelValues("skipped").Inc()
		metrics.TickSkips.WithLabelValues(res.Skipped).Inc()
	default:
		metrics.Ticks.WithLabelValues("predicted").Inc()
		metrics.Predictions.WithLabelValues(string(res.Prediction.Source)).Inc()
	}
	return res, err
}

func (e *Engine) tick(ctx context.Context, now time.Time) (*TickResult, error) {
	res := &TickResult{TickID: uuid.NewString()}

	acquired, err := e.Lease.TryAcquire(ctx, e.cfg.Engine.LeaseName)
	if err != nil {
		return res, fmt.Errorf("failed to acquire tick lease: %w", err)
	}
	if !acquired {
		res.Skipped = SkipLeaseHeld
		return res, nil
	}
	defer func() {
		if err := e.Lease.Release(ctx, e.cfg.Engine.LeaseName); err != nil {
			log.Error().Err(err).Msg("Failed to release tick lease")
		}
	}()

	w, st, err := e.Windows.EnsureCurrent(ctx, now)
	if err != nil {
		return res, err
	}

	// Snapshot maintenance rides along with the tick; a failure here must not
	// block the decision path.
	if _, err := e.Matcher.EnsureSnapshot(ctx, now); err != nil {
		log.Error().Err(err).Msg("Snapshot maintenance failed")
	}

	if err := e.Store.WithTx(ctx, func(tx store.Store) error {
		return e.predict(ctx, tx, res, w, st, now)
	}); err != nil {
		return res, err
	}

	if res.Prediction != nil {
		e.publish(ctx, emit.NewEvent(emit.TypePredictionCreated, now, w.ID, res.Prediction))
	}
	return res, nil
}

func (e *Engine) predict(ctx context.Context, tx store.Store, res *TickResult, w *domain.Window, st *domain.WindowPatternState, now time.Time) error {
	if err := tx.Windows().Lock(ctx, w.ID); err != nil {
		return err
	}

	recent, err := tx.Predictions().ExistsSince(ctx, w.ID, now.Add(-e.cfg.Engine.Debounce))
	if err != nil {
		return err
	}
	if recent {
		res.Skipped = SkipDebounce
		return nil
	}

	// Re-read the learned state now that the row lock is held.
	st, err = tx.States().Get(ctx, w.ID)
	if err != nil {
		return err
	}

	cls, err := e.Detector.Detect(ctx, tx, w.ID)
	if err != nil {
		return err
	}
	st.Pattern = cls.Pattern

	ok, reason, err := e.Windows.CanPredict(ctx, tx, w, st, now)
	if err != nil {
		return err
	}
	if !ok {
		res.Skipped = reason
		return nil
	}

	match, err := e.Matcher.Find(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Reactivation matching failed")
		match = nil
	}
	dev, err := e.Deviation.Detect(ctx)
	if err != nil {
		return err
	}
	rev, err := e.Reversal.Detect(ctx, w.Index)
	if err != nil {
		return err
	}

	adm := admission.NewController(tx.Predictions(), e.cfg.Admission, e.cfg.Window.PauseThreshold, e.loc)
	decision, err := adm.Decide(ctx, admission.Input{
		Window:    w,
		State:     st,
		Deviation: dev,
		Reversal:  rev,
		Now:       now,
	})
	if err != nil {
		return err
	}
	if decision.Trigger {
		metrics.Escalations.WithLabelValues(decision.Reason).Inc()
	}

	last, err := e.lastOutcome(ctx, tx)
	if err != nil {
		return err
	}

	in := &strategyInput{
		window:   w,
		state:    st,
		decision: decision,
		now:      now,
		pool: pool.Input{
			Last:         last,
			Pattern:      cls.Pattern,
			WindowIdx:    w.Index,
			Reactivation: match,
		},
	}

	sc := domain.SignalContext{
		Deviation:     dev.Deviation,
		ColorReversal: dev.ColorReversal,
		TrendReversal: rev.TrendReversal,
		ReversalBias:  rev.HistoricalBias,
		NextCluster:   rev.NextCluster,
		NextSize:      rev.NextSize,
		TriggerReason: decision.Reason,
	}
	if match != nil {
		sc.Reactivation = true
		sc.SnapshotID = match.Snapshot.ID
		sc.Similarity = match.Similarity
	}

	source := domain.SourceLocal
	var candidates []int
	for _, s := range e.strategies() {
		candidates, err = s.candidates(ctx, tx, in)
		if err == nil {
			source = s.source()
			break
		}
		if errors.Is(err, errNotApplicable) {
			continue
		}
		if s.source() == domain.SourceAI {
			metrics.Fallbacks.Inc()
			sc.FallbackReason = "inference_error"
			log.Warn().Err(err).Msg("Inference failed, falling back to local strategy")
			continue
		}
		return err
	}
	if len(candidates) == 0 {
		return fmt.Errorf("no strategy produced a candidate pool")
	}

	ranking, err := e.Scorer.Score(ctx, candidates, scorer.Context{Reactivation: match, Reversal: rev})
	if err != nil {
		return err
	}

	// Second race guard right before the insert. The row lock already
	// serializes ticks on one backend; this bounds duplicates across
	// backends with skewed clocks.
	recent, err = tx.Predictions().ExistsSince(ctx, w.ID, now.Add(-e.cfg.Engine.Debounce))
	if err != nil {
		return err
	}
	if recent {
		res.Skipped = SkipDebounce
		return nil
	}

	pred := &domain.Prediction{
		WindowID:  w.ID,
		Source:    source,
		Pattern:   cls.Pattern,
		Hot:       ranking.Hot,
		Cold:      ranking.Cold,
		Context:   sc,
		CreatedAt: now,
	}
	if err := tx.Predictions().Insert(ctx, pred); err != nil {
		return err
	}
	if err := tx.States().SetLastPrediction(ctx, w.ID, now); err != nil {
		return err
	}
	var snapID *int64
	sim := 0.0
	if match != nil {
		snapID = &match.Snapshot.ID
		sim = match.Similarity
	}
	if err := tx.States().SetReactivation(ctx, w.ID, match != nil, snapID, sim); err != nil {
		return err
	}

	res.Prediction = pred
	log.Info().
		Int64("window_id", w.ID).
		Str("source", string(source)).
		Str("pattern", string(cls.Pattern)).
		Str("trigger", decision.Reason).
		Ints("hot", pred.Hot).
		Msg("Prediction created")
	return nil
}

func (e *Engine) lastOutcome(ctx context.Context, tx store.Store) (*domain.Outcome, error) {
	outs, err := tx.Outcomes().RecentOutcomes(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(outs) == 0 {
		return nil, nil
	}
	return &outs[0], nil
}

// publish delivers an event after the owning transaction has committed.
// Delivery failures are logged, never propagated.
func (e *Engine) publish(ctx context.Context, ev *emit.Event) {
	if e.Publisher == nil {
		return
	}
	if err := e.Publisher.Publish(ctx, ev); err != nil {
		log.Error().Err(err).Str("type", ev.Type).Msg("Failed to publish event")
	}
}
