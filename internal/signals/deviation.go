// Package signals hosts the short-vs-long-term divergence detectors. Results
// are cached with a short TTL so high tick frequency does not multiply the
// underlying aggregate queries.
package signals

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/stats"
	"github.com/crunkdevs/predictor-sub000/pkg/cache"
)

// DeviationResult reports short-vs-long color frequency divergence.
type DeviationResult struct {
	Deviation     bool `json:"deviation"`
	ColorReversal bool `json:"color_reversal"`

	Spread    float64                  `json:"spread"`
	MeanRatio float64                  `json:"mean_ratio"`
	Ratios    map[domain.Color]float64 `json:"ratios"`

	ShortCount int `json:"short_count"`
	LongCount  int `json:"long_count"`
}

// DeviationDetector compares per-color frequency between a short and a long
// trailing window.
type DeviationDetector struct {
	stats stats.Provider
	cache cache.Cache
	cfg   config.SignalsConfig
}

func NewDeviationDetector(sp stats.Provider, c cache.Cache, cfg config.SignalsConfig) *DeviationDetector {
	return &DeviationDetector{stats: sp, cache: c, cfg: cfg}
}

func (d *DeviationDetector) cacheKey() string {
	return fmt.Sprintf("signals:deviation:%s:%s", d.cfg.DeviationShortWindow, d.cfg.DeviationLongWindow)
}

// Detect returns the current deviation signal, serving a cached result when
// one is fresh. Cache failures degrade to a direct computation.
func (d *DeviationDetector) Detect(ctx context.Context) (*DeviationResult, error) {
	key := d.cacheKey()
	if raw, ok, err := d.cache.Get(ctx, key); err == nil && ok {
		var res DeviationResult
		if err := json.Unmarshal(raw, &res); err == nil {
			return &res, nil
		}
	} else if err != nil {
		log.Warn().Err(err).Msg("Signal cache read failed")
	}

	res, err := d.compute(ctx)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(res); err == nil {
		if err := d.cache.Set(ctx, key, raw, d.cfg.CacheTTL); err != nil {
			log.Warn().Err(err).Msg("Signal cache write failed")
		}
	}
	return res, nil
}

func (d *DeviationDetector) compute(ctx context.Context) (*DeviationResult, error) {
	short, err := d.stats.WindowOutcomes(ctx, d.cfg.DeviationShortWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load short window: %w", err)
	}
	long, err := d.stats.WindowOutcomes(ctx, d.cfg.DeviationLongWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load long window: %w", err)
	}

	res := &DeviationResult{
		Ratios:     make(map[domain.Color]float64),
		ShortCount: len(short),
		LongCount:  len(long),
	}
	if len(short) == 0 || len(long) == 0 {
		return res, nil
	}

	shortShares := stats.ColorSharesOf(short)
	longShares := stats.ColorSharesOf(long)

	var minR, maxR, sum float64
	n := 0
	for _, c := range domain.AllColors {
		if longShares[c] == 0 {
			continue
		}
		r := shortShares[c] / longShares[c]
		res.Ratios[c] = r
		if n == 0 || r < minR {
			minR = r
		}
		if n == 0 || r > maxR {
			maxR = r
		}
		sum += r
		n++
		if r >= d.cfg.ColorReversalRatio {
			res.ColorReversal = true
		}
	}
	if n == 0 {
		return res, nil
	}

	res.Spread = maxR - minR
	res.MeanRatio = sum / float64(n)
	res.Deviation = res.Spread >= d.cfg.DeviationSpread ||
		res.MeanRatio <= d.cfg.DeviationMeanLow ||
		res.MeanRatio >= d.cfg.DeviationMeanHigh

	return res, nil
}
