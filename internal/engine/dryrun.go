package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/crunkdevs/predictor-sub000/internal/admission"
	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/pattern"
	"github.com/crunkdevs/predictor-sub000/internal/pool"
	"github.com/crunkdevs/predictor-sub000/internal/reactivation"
	"github.com/crunkdevs/predictor-sub000/internal/scorer"
	"github.com/crunkdevs/predictor-sub000/internal/signals"
)

// DryRunReport is the full pipeline view without a persisted prediction.
type DryRunReport struct {
	Window         *domain.Window            `json:"window"`
	State          *domain.WindowPatternState `json:"state"`
	Eligible       bool                      `json:"eligible"`
	Reason         string                    `json:"reason,omitempty"`
	Classification *pattern.Result           `json:"classification"`
	Deviation      *signals.DeviationResult  `json:"deviation"`
	Reversal       *signals.ReversalResult   `json:"reversal"`
	Admission      *admission.Decision       `json:"admission"`
	Reactivation   *reactivation.Match       `json:"reactivation,omitempty"`
	Pool           []int                     `json:"pool"`
	Ranking        *scorer.Ranking           `json:"ranking"`
}

// DryRun walks the pipeline without taking the lease or persisting a
// prediction. Lazy mode transitions still apply; any eligibility check may
// advance them.
func (e *Engine) DryRun(ctx context.Context) (*DryRunReport, error) {
	now := e.now()

	w, st, err := e.Windows.EnsureCurrent(ctx, now)
	if err != nil {
		return nil, err
	}

	cls, err := e.Detector.Classify(ctx)
	if err != nil {
		return nil, err
	}
	st.Pattern = cls.Pattern

	rep := &DryRunReport{Window: w, State: st, Classification: cls}

	rep.Eligible, rep.Reason, err = e.Windows.CanPredict(ctx, e.Store, w, st, now)
	if err != nil {
		return nil, err
	}

	match, err := e.Matcher.Find(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Reactivation matching failed")
	}
	rep.Reactivation = match

	if rep.Deviation, err = e.Deviation.Detect(ctx); err != nil {
		return nil, err
	}
	if rep.Reversal, err = e.Reversal.Detect(ctx, w.Index); err != nil {
		return nil, err
	}

	adm := admission.NewController(e.Store.Predictions(), e.cfg.Admission, e.cfg.Window.PauseThreshold, e.loc)
	if rep.Admission, err = adm.Decide(ctx, admission.Input{
		Window:    w,
		State:     st,
		Deviation: rep.Deviation,
		Reversal:  rep.Reversal,
		Now:       now,
	}); err != nil {
		return nil, err
	}

	last, err := e.lastOutcome(ctx, e.Store)
	if err != nil {
		return nil, err
	}
	builder := pool.NewBuilder(e.Stats, e.Store.Transitions(), e.cfg.Pool)
	if rep.Pool, err = builder.Build(ctx, pool.Input{
		Last:         last,
		Pattern:      cls.Pattern,
		WindowIdx:    w.Index,
		Reactivation: match,
	}); err != nil {
		return nil, err
	}

	if rep.Ranking, err = e.Scorer.Score(ctx, rep.Pool, scorer.Context{Reactivation: match, Reversal: rep.Reversal}); err != nil {
		return nil, err
	}
	return rep, nil
}
