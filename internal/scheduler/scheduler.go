// Package scheduler drives the periodic tick on a cron spec with seconds
// granularity.
package scheduler

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/crunkdevs/predictor-sub000/internal/config"
	"github.com/crunkdevs/predictor-sub000/internal/engine"
)

// Scheduler runs engine ticks on the configured spec. Ticks never overlap:
// the engine's lease rejects a tick while the previous one still runs.
type Scheduler struct {
	cron   *cron.Cron
	engine *engine.Engine
	cfg    config.SchedulerConfig
}

func New(eng *engine.Engine, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		engine: eng,
		cfg:    cfg,
	}
}

// Start registers the tick job and launches the cron loop. The context bounds
// each tick, not the loop; call Stop to shut down.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		log.Info().Msg("Scheduler disabled")
		return nil
	}

	_, err := s.cron.AddFunc(s.cfg.TickSpec, func() {
		res, err := s.engine.Tick(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Tick failed")
			return
		}
		if res.Skipped != "" {
			log.Debug().Str("reason", res.Skipped).Msg("Tick skipped")
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	log.Info().Str("spec", s.cfg.TickSpec).Msg("Scheduler started")
	return nil
}

// Stop halts the cron loop and waits for a running tick to finish, up to the
// given grace period.
func (s *Scheduler) Stop(grace time.Duration) {
	done := s.cron.Stop().Done()
	select {
	case <-done:
	case <-time.After(grace):
		log.Warn().Msg("Scheduler stop timed out with a tick still running")
	}
	log.Info().Msg("Scheduler stopped")
}
