package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/emit"
	"github.com/crunkdevs/predictor-sub000/internal/metrics"
	"github.com/crunkdevs/predictor-sub000/internal/store"
)

// EvalResult reports what ingesting one outcome did.
type EvalResult struct {
	Outcome    *domain.Outcome    `json:"outcome"`
	Inserted   bool               `json:"inserted"`
	Prediction *domain.Prediction `json:"prediction,omitempty"`
	Evaluated  bool               `json:"evaluated"`
	Correct    bool               `json:"correct"`
	Paused     bool               `json:"paused"`
}

// Evaluate records an observed outcome, grows the transition counters, and
// settles the window's latest open prediction against it. Replayed outcomes
// (same observed_at) are absorbed without double counting.
func (e *Engine) Evaluate(ctx context.Context, value int, observedAt time.Time) (*EvalResult, error) {
	if !domain.ValidValue(value) {
		return nil, fmt.Errorf("outcome value %d out of range", value)
	}

	day := domain.DayOf(observedAt, e.loc)
	if err := e.Store.Windows().EnsureDay(ctx, day); err != nil {
		return nil, err
	}

	res := &EvalResult{}
	if err := e.Store.WithTx(ctx, func(tx store.Store) error {
		return e.evaluate(ctx, tx, res, value, day, observedAt)
	}); err != nil {
		return nil, err
	}

	if res.Evaluated {
		result := "wrong"
		if res.Correct {
			result = "correct"
		}
		metrics.Evaluations.WithLabelValues(result).Inc()
		e.publish(ctx, emit.NewEvent(emit.TypeOutcomeEvaluated, observedAt, res.Prediction.WindowID, res))
	}
	if res.Paused {
		metrics.Pauses.Inc()
		e.publish(ctx, emit.NewEvent(emit.TypeWindowPaused, observedAt, res.Prediction.WindowID, nil))
	}
	return res, nil
}

func (e *Engine) evaluate(ctx context.Context, tx store.Store, res *EvalResult, value int, day string, at time.Time) error {
	w, err := tx.Windows().GetByDayIndex(ctx, day, domain.WindowIndexAt(at, e.loc))
	if err != nil {
		return fmt.Errorf("window missing for outcome at %s: %w", at, err)
	}
	if err := tx.Windows().Lock(ctx, w.ID); err != nil {
		return err
	}

	o := domain.NewOutcome(value, at)
	inserted, err := tx.Outcomes().Insert(ctx, &o)
	if err != nil {
		return err
	}
	res.Outcome = &o
	res.Inserted = inserted

	// Transition counters grow only on a fresh insert; a replay must not
	// inflate them.
	if inserted {
		prev, err := tx.Outcomes().PreviousBefore(ctx, at)
		if err != nil {
			return err
		}
		if prev != nil {
			if err := tx.Transitions().Increment(ctx, prev.Value, o.Value); err != nil {
				return err
			}
			if err := tx.Transitions().IncrementWindowed(ctx, prev.Value, o.Value, w.Index); err != nil {
				return err
			}
		}
		if err := tx.Transitions().IncrementFollowUp(ctx, w.Index, o.Value); err != nil {
			return err
		}
	}

	pred, err := tx.Predictions().LatestUnevaluatedBefore(ctx, w.ID, at)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	res.Prediction = pred

	correct := pred.Contains(o.Value)
	settled, err := tx.Predictions().MarkEvaluated(ctx, pred.ID, o.ID, correct, at)
	if err != nil {
		return err
	}
	if !settled {
		return nil
	}
	res.Evaluated = true
	res.Correct = correct

	if correct {
		if err := tx.States().RecordCorrect(ctx, w.ID); err != nil {
			return err
		}
	} else {
		wrongs, err := tx.States().RecordWrong(ctx, w.ID)
		if err != nil {
			return err
		}
		if wrongs >= e.cfg.Window.PauseThreshold {
			if err := e.Windows.Pause(ctx, tx, w.ID, at); err != nil {
				return err
			}
			res.Paused = true
		}
	}

	if pred.Context.Reactivation && pred.Context.SnapshotID != 0 {
		if err := e.Matcher.RecordResult(ctx, tx, pred.Context.SnapshotID, correct, at); err != nil {
			return err
		}
	}

	log.Info().
		Int64("window_id", w.ID).
		Int64("prediction_id", pred.ID).
		Int("value", o.Value).
		Bool("correct", correct).
		Bool("paused", res.Paused).
		Msg("Prediction evaluated")
	return nil
}
