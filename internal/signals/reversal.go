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

// ReversalResult reports a dominant-class flip between the short and long
// trailing windows, or a historical per-window-index flip bias when no live
// flip is present.
type ReversalResult struct {
	TrendReversal  bool `json:"trend_reversal"`
	ClusterFlipped bool `json:"cluster_flipped"`
	SizeFlipped    bool `json:"size_flipped"`
	HistoricalBias bool `json:"historical_bias"`

	NextCluster domain.Cluster `json:"next_cluster,omitempty"`
	NextSize    domain.Size    `json:"next_size,omitempty"`

	ClusterDelta float64 `json:"cluster_delta"`
	SizeDelta    float64 `json:"size_delta"`

	ShortCount int `json:"short_count"`
	LongCount  int `json:"long_count"`
}

// ReversalDetector watches for dominant cluster/size flips and, failing a
// live flip, falls back to the window index's historical reversal rates.
type ReversalDetector struct {
	stats stats.Provider
	cache cache.Cache
	cfg   config.SignalsConfig
}

func NewReversalDetector(sp stats.Provider, c cache.Cache, cfg config.SignalsConfig) *ReversalDetector {
	return &ReversalDetector{stats: sp, cache: c, cfg: cfg}
}

func (d *ReversalDetector) cacheKey(windowIdx int) string {
	return fmt.Sprintf("signals:reversal:%s:%s:%d",
		d.cfg.ReversalShortWindow, d.cfg.ReversalLongWindow, windowIdx)
}

// Detect returns the reversal signal for the given window index, serving a
// cached result when one is fresh.
func (d *ReversalDetector) Detect(ctx context.Context, windowIdx int) (*ReversalResult, error) {
	key := d.cacheKey(windowIdx)
	if raw, ok, err := d.cache.Get(ctx, key); err == nil && ok {
		var res ReversalResult
		if err := json.Unmarshal(raw, &res); err == nil {
			return &res, nil
		}
	} else if err != nil {
		log.Warn().Err(err).Msg("Signal cache read failed")
	}

	res, err := d.compute(ctx, windowIdx)
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

func (d *ReversalDetector) compute(ctx context.Context, windowIdx int) (*ReversalResult, error) {
	short, err := d.stats.WindowOutcomes(ctx, d.cfg.ReversalShortWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load short window: %w", err)
	}
	long, err := d.stats.WindowOutcomes(ctx, d.cfg.ReversalLongWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load long window: %w", err)
	}

	res := &ReversalResult{ShortCount: len(short), LongCount: len(long)}
	if len(short) == 0 || len(long) == 0 {
		return res, nil
	}

	shortCluster, shortClusterShare := stats.DominantCluster(short)
	longCluster, _ := stats.DominantCluster(long)
	if shortCluster != longCluster {
		res.ClusterDelta = shortClusterShare - clusterShare(long, shortCluster)
		if res.ClusterDelta >= d.cfg.ReversalMinDelta {
			res.ClusterFlipped = true
			res.NextCluster = shortCluster
		}
	}

	shortSize, shortSizeShare := stats.DominantSize(short)
	longSize, _ := stats.DominantSize(long)
	if shortSize != longSize {
		res.SizeDelta = shortSizeShare - sizeShare(long, shortSize)
		if res.SizeDelta >= d.cfg.ReversalMinDelta {
			res.SizeFlipped = true
			res.NextSize = shortSize
		}
	}

	res.TrendReversal = res.ClusterFlipped || res.SizeFlipped
	if res.TrendReversal {
		return res, nil
	}

	// No live flip. A window index that has historically flipped often enough
	// still biases scoring toward the opposite classes.
	rates, err := d.stats.WindowReversalRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load reversal rates: %w", err)
	}
	rate, ok := rates[windowIdx]
	if !ok || rate.Events < d.cfg.HistoricalBiasMin {
		return res, nil
	}
	if rate.ClusterFlipRate >= d.cfg.HistoricalBiasRate {
		res.HistoricalBias = true
		res.NextCluster = domain.OppositeCluster(longCluster)
	}
	if rate.SizeFlipRate >= d.cfg.HistoricalBiasRate {
		res.HistoricalBias = true
		res.NextSize = domain.OppositeSize(longSize)
	}

	return res, nil
}

func clusterShare(outs []domain.Outcome, cluster domain.Cluster) float64 {
	if len(outs) == 0 {
		return 0
	}
	n := 0
	for _, o := range outs {
		if domain.ClusterOf(o.Color) == cluster {
			n++
		}
	}
	return float64(n) / float64(len(outs))
}

func sizeShare(outs []domain.Outcome, size domain.Size) float64 {
	if len(outs) == 0 {
		return 0
	}
	n := 0
	for _, o := range outs {
		if o.Size == size {
			n++
		}
	}
	return float64(n) / float64(len(outs))
}
