// Package scorer ranks a candidate pool with a weighted multi-factor model
// and partitions it into hot and cold sets.
package scorer

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/reactivation"
	"github.com/crunkdevs/predictor-sub000/internal/signals"
	"github.com/crunkdevs/predictor-sub000/internal/stats"
)

// reactivationRampBase is where the reactivation boost starts climbing; at
// similarity 1.0 the boost reaches its full weight.
const (
	reactivationRampBase = 0.70
	reactivationRampSpan = 0.30
)

// quadTargetPct is each (parity, size) quadrant's fair share.
const quadTargetPct = 25.0

// Context carries the signal environment the factors read from.
type Context struct {
	Reactivation *reactivation.Match
	Reversal     *signals.ReversalResult
}

// Ranking is a scored pool, sorted by descending normalized score with ties
// broken by ascending value. Hot holds ranks 1-5, Cold ranks 6-13.
type Ranking struct {
	Values []domain.ScoredValue `json:"values"`
	Hot    []int                `json:"hot"`
	Cold   []int                `json:"cold"`
}

// Scorer applies the eight weighted factors.
type Scorer struct {
	stats stats.Provider
	cfg   config.ScoringConfig
}

func NewScorer(sp stats.Provider, cfg config.ScoringConfig) *Scorer {
	return &Scorer{stats: sp, cfg: cfg}
}

// environment is the aggregate snapshot all factors share for one scoring
// pass, fetched once.
type environment struct {
	gaps        map[int]stats.Gap
	shares      stats.ClassShares
	colorShares map[domain.Color]float64
	runCluster  domain.Cluster
	lowQuad     stats.Quadrant
	lowQuadPct  float64
}

// Score ranks the pool. The pool must be non-empty and hold distinct values.
func (s *Scorer) Score(ctx context.Context, pool []int, sctx Context) (*Ranking, error) {
	if len(pool) == 0 {
		return nil, fmt.Errorf("cannot score an empty pool")
	}

	env, err := s.loadEnvironment(ctx)
	if err != nil {
		return nil, err
	}

	reactive := make(map[int]bool)
	if sctx.Reactivation != nil {
		for _, v := range sctx.Reactivation.Snapshot.TopPool {
			reactive[v] = true
		}
	}

	values := make([]domain.ScoredValue, 0, len(pool))
	for _, v := range pool {
		parts := s.factors(v, env, sctx, reactive[v])
		raw := 0.0
		for _, p := range parts {
			raw += p
		}
		values = append(values, domain.ScoredValue{
			Value:  v,
			Raw:    raw,
			Parts:  parts,
			Color:  domain.ColorOf(v),
			Parity: domain.ParityOf(v),
			Size:   domain.SizeOf(v),
		})
	}

	normalize(values)

	sort.Slice(values, func(i, j int) bool {
		if values[i].Score != values[j].Score {
			return values[i].Score > values[j].Score
		}
		return values[i].Value < values[j].Value
	})

	r := &Ranking{Values: values}
	for i, sv := range values {
		if i < domain.HotSize {
			r.Hot = append(r.Hot, sv.Value)
		} else {
			r.Cold = append(r.Cold, sv.Value)
		}
	}
	return r, nil
}

func (s *Scorer) loadEnvironment(ctx context.Context) (*environment, error) {
	gaps, err := s.stats.ValueGaps(ctx, s.cfg.ClassLookback)
	if err != nil {
		return nil, fmt.Errorf("failed to load gaps: %w", err)
	}
	shares, err := s.stats.Shares(ctx, s.cfg.ClassLookback)
	if err != nil {
		return nil, fmt.Errorf("failed to load class shares: %w", err)
	}
	colorShares, err := s.stats.ColorShares(ctx, s.cfg.BalanceWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load color shares: %w", err)
	}
	runColor, _, err := s.stats.CurrentColorRun(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load current run: %w", err)
	}

	env := &environment{
		gaps:        gaps,
		shares:      shares,
		colorShares: colorShares,
		lowQuadPct:  math.MaxFloat64,
	}
	if runColor != "" {
		env.runCluster = domain.ClusterOf(runColor)
	}
	for _, q := range stats.AllQuadrants {
		if pct := shares.QuadPct[q]; pct < env.lowQuadPct {
			env.lowQuad, env.lowQuadPct = q, pct
		}
	}
	return env, nil
}

func (s *Scorer) factors(v int, env *environment, sctx Context, reactive bool) map[string]float64 {
	color := domain.ColorOf(v)
	cluster := domain.ClusterOf(color)
	size := domain.SizeOf(v)

	parts := make(map[string]float64, 8)

	// Gap pressure: how starved the value is right now, blended with how
	// rarely it historically repeats.
	g := env.gaps[v]
	since := math.Min(float64(g.SinceLast)/float64(s.cfg.GapCapSinceLast), 1)
	median := math.Min(g.Median/float64(s.cfg.GapCapMedian), 1)
	parts["gap_pressure"] = s.cfg.GapPressure * (0.6*since + 0.4*median)

	// Streak break: reward the cluster opposite the current same-color run.
	if env.runCluster != "" && cluster == domain.OppositeCluster(env.runCluster) {
		parts["streak_break"] = s.cfg.StreakBreak
	}

	// Color balance: colors quiet in the short window score higher.
	parts["color_balance"] = s.cfg.ColorBalance * (1 - env.colorShares[color])

	// Parity rotation and size regime: the whole pool is rewarded when the
	// respective split sits near even; skew washes both factors out.
	if env.shares.Count > 0 {
		parts["parity_rotation"] = s.cfg.ParityRotation * evenness(env.shares.OddPct)
		parts["size_regime"] = s.cfg.SizeRegime * evenness(env.shares.SmallPct)
	}

	// Reactivation boost: only for the matched snapshot's top pool, ramping
	// with similarity.
	if reactive && sctx.Reactivation != nil {
		ramp := (sctx.Reactivation.Similarity - reactivationRampBase) / reactivationRampSpan
		parts["reactivation"] = s.cfg.Reactivation * clamp01(ramp)
	}

	// Quad parity: reward the most underrepresented (parity, size) quadrant,
	// scaled by its deficit from the fair share.
	if env.shares.Count > 0 && stats.QuadrantOf(v) == env.lowQuad {
		parts["quad_parity"] = s.cfg.QuadParity * clamp01((quadTargetPct-env.lowQuadPct)/quadTargetPct)
	}

	// Trend reversal: match against the predicted post-flip classes.
	if rv := sctx.Reversal; rv != nil && (rv.TrendReversal || rv.HistoricalBias) {
		score := 0.0
		if rv.NextCluster != "" && cluster == rv.NextCluster {
			score += 0.6
		}
		if rv.NextSize != "" && size == rv.NextSize {
			score += 0.4
		}
		parts["trend_reversal"] = s.cfg.TrendReversal * score
	}

	return parts
}

// evenness is 1 at a perfect 50% split, falling linearly to 0 at the
// extremes.
func evenness(pct float64) float64 {
	return 1 - math.Abs(pct-50)/50
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

// normalize min-max scales raw scores to [0,1]. A zero span (all raw scores
// equal) yields uniform 0.0.
func normalize(values []domain.ScoredValue) {
	minR, maxR := values[0].Raw, values[0].Raw
	for _, sv := range values[1:] {
		if sv.Raw < minR {
			minR = sv.Raw
		}
		if sv.Raw > maxR {
			maxR = sv.Raw
		}
	}
	span := maxR - minR
	for i := range values {
		if span == 0 {
			values[i].Score = 0
			continue
		}
		values[i].Score = (values[i].Raw - minR) / span
	}
}
