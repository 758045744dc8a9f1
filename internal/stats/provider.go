package stats

import (
	"context"
	"time"

	"github.com/crunkdevs/predictor-sub000/internal/domain"
)

// Gap describes gap statistics for one value over a lookback.
type Gap struct {
	SinceLast int     `json:"since_last"` // outcomes since the value last appeared
	Median    float64 `json:"median"`     // median historical gap between occurrences
	Max       int     `json:"max"`
	Seen      bool    `json:"seen"` // false if absent from the whole lookback
}

// Quadrant is a (parity, size) class pair.
type Quadrant string

const (
	QuadOddSmall  Quadrant = "odd_small"
	QuadOddBig    Quadrant = "odd_big"
	QuadEvenSmall Quadrant = "even_small"
	QuadEvenBig   Quadrant = "even_big"
)

// QuadrantOf returns the quadrant of a value.
func QuadrantOf(v int) Quadrant {
	odd := domain.ParityOf(v) == domain.ParityOdd
	small := domain.SizeOf(v) == domain.SizeSmall
	switch {
	case odd && small:
		return QuadOddSmall
	case odd:
		return QuadOddBig
	case small:
		return QuadEvenSmall
	default:
		return QuadEvenBig
	}
}

// AllQuadrants lists the four (parity, size) quadrants.
var AllQuadrants = []Quadrant{QuadOddSmall, QuadOddBig, QuadEvenSmall, QuadEvenBig}

// ClassShares carries parity/size/quadrant percentages over a lookback.
// Percentages are 0-100.
type ClassShares struct {
	OddPct   float64              `json:"odd_pct"`
	SmallPct float64              `json:"small_pct"`
	QuadPct  map[Quadrant]float64 `json:"quad_pct"`
	Count    int                  `json:"count"`
}

// ReversalRate is the historical cluster/size flip behavior of one window
// index.
type ReversalRate struct {
	Events          int     `json:"events"`
	ClusterFlipRate float64 `json:"cluster_flip_rate"`
	SizeFlipRate    float64 `json:"size_flip_rate"`
}

// Provider is the read-only statistics surface the engine consumes. Lookbacks
// are counts of prior outcomes; spans are trailing wall-clock windows. No
// method has side effects.
type Provider interface {
	Recent(ctx context.Context, lookback int) ([]domain.Outcome, error)
	WindowOutcomes(ctx context.Context, span time.Duration) ([]domain.Outcome, error)

	ValueGaps(ctx context.Context, lookback int) (map[int]Gap, error)
	Shares(ctx context.Context, lookback int) (ClassShares, error)
	ColorShares(ctx context.Context, span time.Duration) (map[domain.Color]float64, error)
	SequentialPairRatio(ctx context.Context, lookback int) (float64, error)
	MaxColorRun(ctx context.Context, lookback int) (int, error)
	DistinctColors(ctx context.Context, lookback int) (int, error)
	CurrentColorRun(ctx context.Context) (domain.Color, int, error)

	PrecededByColorRate(ctx context.Context, value int, color domain.Color, lookback int) (int, float64, error)
	WindowReversalRates(ctx context.Context) (map[int]ReversalRate, error)
}
