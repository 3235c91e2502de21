// Package scheduler runs the control plane's periodic pass: repair broken
// sessions, dispatch pending ones, evaluate triggers, then dispatch whatever
// the triggers just created.
package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverd/drover/pkg/dispatch"
	"github.com/droverd/drover/pkg/lifecycle"
	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/metrics"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/trigger"
)

// Config tunes the scheduling loop.
type Config struct {
	// Interval is the pause between passes.
	Interval time.Duration

	// ErrorBackoff is the extra pause after a failed pass, so a persistent
	// storage problem does not spin the loop.
	ErrorBackoff time.Duration
}

// Scheduler drives the periodic scheduling pass.
type Scheduler struct {
	store      storage.Store
	sessions   *lifecycle.Service
	dispatcher *dispatch.Dispatcher
	triggers   *trigger.Engine
	cfg        Config
	logger     zerolog.Logger

	// nowFn is swapped in tests to pin the clock.
	nowFn func() time.Time
}

// New creates a scheduler.
func New(store storage.Store, sessions *lifecycle.Service, dispatcher *dispatch.Dispatcher, triggers *trigger.Engine, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 30 * time.Second
	}
	return &Scheduler{
		store:      store,
		sessions:   sessions,
		dispatcher: dispatcher,
		triggers:   triggers,
		cfg:        cfg,
		logger:     log.WithComponent("scheduler"),
		nowFn:      func() time.Time { return time.Now().UTC() },
	}
}

// Run loops until the context is cancelled. A failed pass is logged and the
// loop backs off before trying again; the scheduler itself never exits on a
// pass error.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().Dur("interval", s.cfg.Interval).Msg("scheduler started")
	metrics.RegisterComponent("scheduler", true, "")

	for {
		if err := s.Tick(); err != nil {
			metrics.TickErrors.Inc()
			s.logger.Error().Err(err).Msg("scheduling pass failed")

			select {
			case <-ctx.Done():
				s.logger.Info().Msg("scheduler stopped")
				return
			case <-time.After(s.cfg.ErrorBackoff):
			}
		}

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return
		case <-time.After(s.cfg.Interval):
		}
	}
}

// Tick executes one scheduling pass in a single write transaction, so a pass
// either lands whole or not at all:
//
//  1. return orphaned pending sessions to the pool
//  2. fail dangling in-progress sessions
//  3. dispatch pending sessions
//  4. evaluate triggers
//  5. dispatch again, so trigger-created sessions start this pass
func (s *Scheduler) Tick() error {
	now := s.nowFn()
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.TickDuration)

	return s.store.Update(func(tx *storage.Txn) error {
		if err := s.sessions.RescheduleOrphans(tx); err != nil {
			return err
		}
		if err := s.sessions.FlushDangling(tx, now); err != nil {
			return err
		}
		if err := s.dispatcher.Run(tx, now); err != nil {
			return err
		}
		if err := s.triggers.ProcessAll(tx, now); err != nil {
			return err
		}
		return s.dispatcher.Run(tx, now)
	})
}
