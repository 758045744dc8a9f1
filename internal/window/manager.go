// Package window owns the day-partitioned window lifecycle and the
// normal/paused/observe mode cycle each window moves through.
package window

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/domain"
	"github.com/crunkdevs/predictor-sub000/internal/stats"
	"github.com/crunkdevs/predictor-sub000/internal/store"
)

// Eligibility reasons reported by CanPredict.
const (
	ReasonWindowClosed      = "window_closed"
	ReasonWindowEnded       = "window_ended"
	ReasonBeforeFirstSlot   = "before_first_predict"
	ReasonPaused            = "paused"
	ReasonAwaitingStability = "awaiting_stabilization"
)

// Manager drives window rows and their mode cycle. Mode transitions are
// lazy: they happen when an eligibility check observes that their
// precondition has been met, not on a timer.
type Manager struct {
	store store.Store
	stats stats.Provider
	cfg   config.WindowConfig
	loc   *time.Location
}

func NewManager(st store.Store, sp stats.Provider, cfg config.WindowConfig, loc *time.Location) *Manager {
	return &Manager{store: st, stats: sp, cfg: cfg, loc: loc}
}

// EnsureCurrent makes sure today's window rows and the current window's
// state row exist, closes any expired windows, and returns the current
// window with its state.
func (m *Manager) EnsureCurrent(ctx context.Context, now time.Time) (*domain.Window, *domain.WindowPatternState, error) {
	day := domain.DayOf(now, m.loc)
	if err := m.store.Windows().EnsureDay(ctx, day); err != nil {
		return nil, nil, err
	}

	closed, err := m.store.Windows().CloseExpired(ctx, now)
	if err != nil {
		return nil, nil, err
	}
	if closed > 0 {
		log.Debug().Int64("count", closed).Msg("Closed expired windows")
	}

	w, err := m.store.Windows().GetByDayIndex(ctx, day, domain.WindowIndexAt(now, m.loc))
	if err != nil {
		return nil, nil, fmt.Errorf("current window missing after ensure: %w", err)
	}

	if err := m.store.States().Ensure(ctx, w.ID); err != nil {
		return nil, nil, err
	}
	st, err := m.store.States().Get(ctx, w.ID)
	if err != nil {
		return nil, nil, err
	}
	return w, st, nil
}

// CanPredict reports whether the window may emit a prediction right now.
// It advances the mode cycle as a side effect: an expired pause moves the
// window to observe, and an observe window whose recent stream has
// stabilized moves back to normal and becomes eligible in the same call.
// s may be a transaction-bound store when called from inside a tick.
func (m *Manager) CanPredict(ctx context.Context, s store.Store, w *domain.Window, st *domain.WindowPatternState, now time.Time) (bool, string, error) {
	if w.Status != domain.WindowOpen {
		return false, ReasonWindowClosed, nil
	}
	if !now.Before(w.EndAt) {
		return false, ReasonWindowEnded, nil
	}
	if now.Before(w.FirstPredictAt) {
		return false, ReasonBeforeFirstSlot, nil
	}

	mode := st.Mode
	if mode == domain.ModePaused {
		if st.PauseUntil != nil && now.Before(*st.PauseUntil) {
			return false, ReasonPaused, nil
		}
		if err := s.States().SetMode(ctx, w.ID, domain.ModeObserve, nil); err != nil {
			return false, "", err
		}
		st.Mode = domain.ModeObserve
		st.PauseUntil = nil
		mode = domain.ModeObserve
		log.Info().Int64("window_id", w.ID).Msg("Pause expired, window observing")
	}

	if mode == domain.ModeObserve {
		stable, err := m.stabilized(ctx)
		if err != nil {
			return false, "", err
		}
		if !stable {
			return false, ReasonAwaitingStability, nil
		}
		if err := s.States().SetMode(ctx, w.ID, domain.ModeNormal, nil); err != nil {
			return false, "", err
		}
		st.Mode = domain.ModeNormal
		log.Info().Int64("window_id", w.ID).Msg("Stream stabilized, window back to normal")
	}

	return true, "", nil
}

// Pause puts the window into the paused mode for the configured duration.
// Called when the wrong streak reaches the pause threshold.
func (m *Manager) Pause(ctx context.Context, s store.Store, windowID int64, now time.Time) error {
	until := now.Add(m.cfg.PauseDuration)
	if err := s.States().SetMode(ctx, windowID, domain.ModePaused, &until); err != nil {
		return err
	}
	log.Warn().Int64("window_id", windowID).Time("until", until).Msg("Window paused")
	return nil
}

// stabilized checks the recent outcome stream: no color run longer than the
// configured maximum and enough distinct colors present.
func (m *Manager) stabilized(ctx context.Context) (bool, error) {
	outs, err := m.stats.Recent(ctx, m.cfg.StabilizeLookback)
	if err != nil {
		return false, err
	}
	if len(outs) < m.cfg.StabilizeLookback {
		return false, nil
	}
	if stats.MaxColorRunOf(outs) > m.cfg.StabilizeMaxRun {
		return false, nil
	}
	return stats.DistinctColorsOf(outs) >= m.cfg.StabilizeMinHues, nil
}
