// Package admission gates escalation to the external inference path behind
// budget caps, cooldowns and trigger priorities.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/signals"
	"github.com/crunkdevs/predictor-sub000/internal/store"
)

// Decision reasons, ordered by gate position.
const (
	ReasonWindowNotReady  = "window_not_ready"
	ReasonWindowCap       = "ai_window_cap"
	ReasonDailyCap        = "ai_daily_cap"
	ReasonMinGap          = "ai_min_gap"
	ReasonDeviation       = "deviation_signal"
	ReasonWrongStreak     = "wrong_streak"
	ReasonPatternUnknown  = "pattern_unknown"
	ReasonReversal        = "reversal_signal"
	ReasonLocalSufficient = "local_sufficient"
)

// Decision is the escalation verdict for one tick.
type Decision struct {
	Trigger bool   `json:"trigger"`
	Reason  string `json:"reason"`
}

// Input bundles the state the gates read.
type Input struct {
	Window    *domain.Window
	State     *domain.WindowPatternState
	Deviation *signals.DeviationResult
	Reversal  *signals.ReversalResult
	Now       time.Time
}

// Controller evaluates the gate chain. The first failing budget gate or the
// first firing trigger wins.
type Controller struct {
	preds          store.PredictionRepo
	cfg            config.AdmissionConfig
	pauseThreshold int
	loc            *time.Location
}

func NewController(preds store.PredictionRepo, cfg config.AdmissionConfig, pauseThreshold int, loc *time.Location) *Controller {
	return &Controller{preds: preds, cfg: cfg, pauseThreshold: pauseThreshold, loc: loc}
}

// Decide runs the gate chain and returns the verdict with its reason.
func (c *Controller) Decide(ctx context.Context, in Input) (*Decision, error) {
	if in.Window.Status != domain.WindowOpen || in.Now.Before(in.Window.FirstPredictAt) {
		return &Decision{Reason: ReasonWindowNotReady}, nil
	}

	windowCount, err := c.preds.CountBySourceForWindow(ctx, domain.SourceAI, in.Window.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to count window AI predictions: %w", err)
	}
	if windowCount >= c.cfg.WindowCap {
		return &Decision{Reason: ReasonWindowCap}, nil
	}

	dayStart := startOfDay(in.Now, c.loc)
	dailyCount, err := c.preds.CountBySourceSince(ctx, domain.SourceAI, dayStart)
	if err != nil {
		return nil, fmt.Errorf("failed to count daily AI predictions: %w", err)
	}
	if dailyCount >= c.cfg.DailyCap {
		return &Decision{Reason: ReasonDailyCap}, nil
	}

	lastAI, err := c.preds.LastCreatedBySource(ctx, domain.SourceAI)
	if err != nil {
		return nil, fmt.Errorf("failed to get last AI prediction: %w", err)
	}
	if lastAI != nil && in.Now.Sub(*lastAI) < c.cfg.MinGap {
		return &Decision{Reason: ReasonMinGap}, nil
	}

	d := c.trigger(in)
	if d.Trigger {
		log.Info().
			Int64("window_id", in.Window.ID).
			Str("reason", d.Reason).
			Msg("AI escalation admitted")
	}
	return d, nil
}

func (c *Controller) trigger(in Input) *Decision {
	if in.Deviation != nil && in.Deviation.Deviation {
		return &Decision{Trigger: true, Reason: ReasonDeviation}
	}
	if in.State.ConsecutiveWrong >= c.pauseThreshold {
		return &Decision{Trigger: true, Reason: ReasonWrongStreak}
	}
	if in.State.Pattern == domain.PatternUnknown {
		return &Decision{Trigger: true, Reason: ReasonPatternUnknown}
	}
	if in.Reversal != nil && in.Reversal.TrendReversal {
		return &Decision{Trigger: true, Reason: ReasonReversal}
	}
	return &Decision{Reason: ReasonLocalSufficient}
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
