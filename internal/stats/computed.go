package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/crunkdevs/predictor-sub000/internal/domain"
)

// OutcomeSource is the raw read surface the computed provider aggregates
// over. The Postgres outcome repository satisfies it.
type OutcomeSource interface {
	RecentOutcomes(ctx context.Context, limit int) ([]domain.Outcome, error)
	OutcomesSince(ctx context.Context, since time.Time) ([]domain.Outcome, error)
}

// Computed derives every aggregate from raw outcome reads. It stands in for
// the external analytics service when the engine runs standalone.
type Computed struct {
	src OutcomeSource
	loc *time.Location
	now func() time.Time

	reversalLookback int
}

func NewComputed(src OutcomeSource, loc *time.Location) *Computed {
	return &Computed{src: src, loc: loc, now: time.Now, reversalLookback: 2000}
}

// NewComputedWithClock lets tests control the trailing-window anchor.
func NewComputedWithClock(src OutcomeSource, loc *time.Location, now func() time.Time) *Computed {
	c := NewComputed(src, loc)
	c.now = now
	return c
}

func (c *Computed) Recent(ctx context.Context, lookback int) ([]domain.Outcome, error) {
	return c.src.RecentOutcomes(ctx, lookback)
}

func (c *Computed) WindowOutcomes(ctx context.Context, span time.Duration) ([]domain.Outcome, error) {
	return c.src.OutcomesSince(ctx, c.now().Add(-span))
}

func (c *Computed) ValueGaps(ctx context.Context, lookback int) (map[int]Gap, error) {
	outs, err := c.src.RecentOutcomes(ctx, lookback)
	if err != nil {
		return nil, fmt.Errorf("failed to load outcomes for gaps: %w", err)
	}
	return GapsOf(outs), nil
}

func (c *Computed) Shares(ctx context.Context, lookback int) (ClassShares, error) {
	outs, err := c.src.RecentOutcomes(ctx, lookback)
	if err != nil {
		return ClassShares{}, fmt.Errorf("failed to load outcomes for shares: %w", err)
	}
	return ClassSharesOf(outs), nil
}

func (c *Computed) ColorShares(ctx context.Context, span time.Duration) (map[domain.Color]float64, error) {
	outs, err := c.WindowOutcomes(ctx, span)
	if err != nil {
		return nil, fmt.Errorf("failed to load outcomes for color shares: %w", err)
	}
	return ColorSharesOf(outs), nil
}

func (c *Computed) SequentialPairRatio(ctx context.Context, lookback int) (float64, error) {
	outs, err := c.src.RecentOutcomes(ctx, lookback)
	if err != nil {
		return 0, fmt.Errorf("failed to load outcomes for pair ratio: %w", err)
	}
	return SequentialPairRatioOf(outs), nil
}

func (c *Computed) MaxColorRun(ctx context.Context, lookback int) (int, error) {
	outs, err := c.src.RecentOutcomes(ctx, lookback)
	if err != nil {
		return 0, fmt.Errorf("failed to load outcomes for color run: %w", err)
	}
	return MaxColorRunOf(outs), nil
}

func (c *Computed) DistinctColors(ctx context.Context, lookback int) (int, error) {
	outs, err := c.src.RecentOutcomes(ctx, lookback)
	if err != nil {
		return 0, fmt.Errorf("failed to load outcomes for distinct colors: %w", err)
	}
	return DistinctColorsOf(outs), nil
}

func (c *Computed) CurrentColorRun(ctx context.Context) (domain.Color, int, error) {
	outs, err := c.src.RecentOutcomes(ctx, 64)
	if err != nil {
		return "", 0, fmt.Errorf("failed to load outcomes for current run: %w", err)
	}
	color, run := CurrentColorRunOf(outs)
	return color, run, nil
}

func (c *Computed) PrecededByColorRate(ctx context.Context, value int, color domain.Color, lookback int) (int, float64, error) {
	outs, err := c.src.RecentOutcomes(ctx, lookback)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load outcomes for preceded-by rate: %w", err)
	}
	n, rate := PrecededByRate(outs, value, color)
	return n, rate, nil
}

func (c *Computed) WindowReversalRates(ctx context.Context) (map[int]ReversalRate, error) {
	outs, err := c.src.RecentOutcomes(ctx, c.reversalLookback)
	if err != nil {
		return nil, fmt.Errorf("failed to load outcomes for reversal rates: %w", err)
	}
	return WindowReversalRatesOf(outs, c.loc), nil
}
