// Package pattern classifies the recent outcome stream into one of three
// heuristic regimes that steer pool construction.
package pattern

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/stats"
	"github.com/crunkdevs/predictor-sub000/internal/store"
)

// Result is one classification with the raw metrics that produced it, kept
// for logging and dry-run inspection.
type Result struct {
	Pattern domain.PatternCode `json:"pattern"`

	ScoreA float64 `json:"score_a"`
	ScoreB float64 `json:"score_b"`
	ScoreC float64 `json:"score_c"`

	SeqPairRatio float64 `json:"seq_pair_ratio"`
	OddPct       float64 `json:"odd_pct"`
	SmallPct     float64 `json:"small_pct"`
	UnseenCount  int     `json:"unseen_count"`
	LongGapCount int     `json:"long_gap_count"`
	SampleCount  int     `json:"sample_count"`
}

// Detector scores the three regimes over a fixed lookback and persists the
// winner onto the window and its state.
type Detector struct {
	stats stats.Provider
	cfg   config.PatternConfig
}

func NewDetector(sp stats.Provider, cfg config.PatternConfig) *Detector {
	return &Detector{stats: sp, cfg: cfg}
}

// Classify scores the regimes without persisting anything.
func (d *Detector) Classify(ctx context.Context) (*Result, error) {
	outs, err := d.stats.Recent(ctx, d.cfg.Lookback)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Pattern:      domain.PatternUnknown,
		SeqPairRatio: stats.SequentialPairRatioOf(outs),
		SampleCount:  len(outs),
	}
	if res.SampleCount < d.cfg.MinSamples {
		return res, nil
	}

	shares := stats.ClassSharesOf(outs)
	res.OddPct = shares.OddPct
	res.SmallPct = shares.SmallPct

	gaps := stats.GapsOf(outs)
	for v := 0; v < domain.NumValues; v++ {
		g := gaps[v]
		if !g.Seen {
			res.UnseenCount++
			continue
		}
		if g.Median >= d.cfg.OverdueGapMedian {
			res.LongGapCount++
		}
	}

	// Pattern A: neighbors follow neighbors often enough.
	if res.SeqPairRatio >= d.cfg.SeqPairRatio {
		res.ScoreA = 1.0
	}

	// Pattern B: both class splits hover around even.
	if diff := res.OddPct - 50; diff >= -d.cfg.BalanceTolerance && diff <= d.cfg.BalanceTolerance {
		res.ScoreB += 0.6
	}
	if diff := res.SmallPct - 50; diff >= -d.cfg.BalanceTolerance && diff <= d.cfg.BalanceTolerance {
		res.ScoreB += 0.6
	}

	// Pattern C: a meaningful chunk of the value space is starved.
	if res.UnseenCount >= d.cfg.OverdueUnseenMin || res.LongGapCount >= d.cfg.OverdueGapCount {
		res.ScoreC = 1.2
	}

	// Highest score wins; ties resolve in A, B, C order.
	switch {
	case res.ScoreA >= res.ScoreB && res.ScoreA >= res.ScoreC && res.ScoreA > 0:
		res.Pattern = domain.PatternA
	case res.ScoreB >= res.ScoreC && res.ScoreB > 0:
		res.Pattern = domain.PatternB
	case res.ScoreC > 0:
		res.Pattern = domain.PatternC
	}

	return res, nil
}

// Detect classifies and persists the result onto the window row and its
// learned state.
func (d *Detector) Detect(ctx context.Context, st store.Store, windowID int64) (*Result, error) {
	res, err := d.Classify(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Windows().SetPattern(ctx, windowID, res.Pattern); err != nil {
		return nil, err
	}
	if err := st.States().SetPattern(ctx, windowID, res.Pattern); err != nil {
		return nil, err
	}

	log.Debug().
		Int64("window_id", windowID).
		Str("pattern", string(res.Pattern)).
		Float64("seq_pair_ratio", res.SeqPairRatio).
		Float64("odd_pct", res.OddPct).
		Float64("small_pct", res.SmallPct).
		Int("unseen", res.UnseenCount).
		Int("long_gaps", res.LongGapCount).
		Msg("Pattern classified")

	return res, nil
}
