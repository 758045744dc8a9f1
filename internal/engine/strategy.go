package engine

import (
	"context"
	"errors"
	"time"

	"github.com/crunkdevs/predictor-sub000/internal/admission"
	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/inference"
	"github.com/crunkdevs/predictor-sub000/internal/pool"
	"github.com/crunkdevs/predictor-sub000/internal/stats"
	"github.com/crunkdevs/predictor-sub000/internal/store"
)

// errNotApplicable makes the tick move on to the next strategy without
// treating the attempt as a failure.
var errNotApplicable = errors.New("strategy not applicable")

type strategyInput struct {
	window   *domain.Window
	state    *domain.WindowPatternState
	decision *admission.Decision
	pool     pool.Input
	now      time.Time
}

// strategy produces a candidate pool. Strategies are tried in order; the
// first one that returns candidates names the prediction source.
type strategy interface {
	source() domain.PredictionSource
	candidates(ctx context.Context, tx store.Store, in *strategyInput) ([]int, error)
}

func (e *Engine) strategies() []strategy {
	return []strategy{
		&aiStrategy{client: e.Inference, stats: e.Stats, cfg: e.cfg},
		&localStrategy{stats: e.Stats, cfg: e.cfg.Pool},
	}
}

// localStrategy is the default path: the five-step pool builder.
type localStrategy struct {
	stats stats.Provider
	cfg   config.PoolConfig
}

func (s *localStrategy) source() domain.PredictionSource { return domain.SourceLocal }

func (s *localStrategy) candidates(ctx context.Context, tx store.Store, in *strategyInput) ([]int, error) {
	return pool.NewBuilder(s.stats, tx.Transitions(), s.cfg).Build(ctx, in.pool)
}

// aiStrategy asks the external model when admission escalated the tick. The
// model's ranking heads the pool; ascending fill completes it.
type aiStrategy struct {
	client inference.Client
	stats  stats.Provider
	cfg    *config.Config
}

func (s *aiStrategy) source() domain.PredictionSource { return domain.SourceAI }

func (s *aiStrategy) candidates(ctx context.Context, _ store.Store, in *strategyInput) ([]int, error) {
	if s.client == nil || in.decision == nil || !in.decision.Trigger {
		return nil, errNotApplicable
	}

	req, err := s.buildRequest(ctx, in)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Predict(ctx, req)
	if err != nil {
		return nil, err
	}

	var seen [domain.NumValues]bool
	out := make([]int, 0, domain.PoolSize)
	for _, v := range resp.Values {
		if len(out) == domain.PoolSize {
			break
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	for v := 0; v < domain.NumValues && len(out) < domain.PoolSize; v++ {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *aiStrategy) buildRequest(ctx context.Context, in *strategyInput) (*inference.Request, error) {
	lookback := s.cfg.Pattern.Lookback

	outs, err := s.stats.Recent(ctx, lookback)
	if err != nil {
		return nil, err
	}
	shares, err := s.stats.Shares(ctx, lookback)
	if err != nil {
		return nil, err
	}
	colors, err := s.stats.ColorShares(ctx, s.cfg.Signals.DeviationLongWindow)
	if err != nil {
		return nil, err
	}
	gaps, err := s.stats.ValueGaps(ctx, lookback)
	if err != nil {
		return nil, err
	}

	req := &inference.Request{
		Pattern:     in.pool.Pattern,
		WindowIndex: in.window.Index,
		Recent:      make([]int, 0, len(outs)),
		Shares:      shares,
		ColorShares: colors,
		Gaps:        gaps,
	}
	for _, o := range outs {
		req.Recent = append(req.Recent, o.Value)
	}
	if in.pool.Last != nil {
		v := in.pool.Last.Value
		req.LastValue = &v
	}
	return req, nil
}
