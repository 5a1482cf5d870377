// Package jobs runs the periodic housekeeping of carts and sessions.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/oberliner3/jhnyc-sub000/metrics"
)

type CartSweeper interface {
	MarkAbandoned(ctx context.Context, idleBefore time.Time) ([]string, error)
	ExpireCarts(ctx context.Context, now time.Time) ([]string, error)
}

type SessionSweeper interface {
	DeactivateIdleSessions(ctx context.Context, before time.Time) (int64, error)
}

type SweeperConfig struct {
	Schedule     string
	AbandonAfter time.Duration
	SessionIdle  time.Duration
}

// Sweeper flags idle carts as abandoned, expires carts past their expiry and
// closes idle sessions.
type Sweeper struct {
	carts    CartSweeper
	sessions SessionSweeper
	cfg      SweeperConfig
	cron     *cron.Cron
	now      func() time.Time
}

func NewSweeper(carts CartSweeper, sessions SessionSweeper, cfg SweeperConfig) *Sweeper {
	return &Sweeper{carts: carts, sessions: sessions, cfg: cfg, now: time.Now}
}

// Start registers the sweep on the configured schedule and starts the cron.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := s.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("sweeper: run failed")
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	log.Info().Str("schedule", s.cfg.Schedule).Msg("cart and session sweeper started")
	return nil
}

// Stop waits for a running sweep to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
		log.Warn().Msg("sweeper: stop timed out")
	}
}

// RunOnce performs a single sweep. Every step runs even when an earlier one
// fails; the failures are returned together.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	now := s.now()
	var errs []error

	if keys, err := s.carts.MarkAbandoned(ctx, now.Add(-s.cfg.AbandonAfter)); err != nil {
		errs = append(errs, fmt.Errorf("mark abandoned: %w", err))
	} else if len(keys) > 0 {
		metrics.CartsSwept.WithLabelValues("abandoned").Add(float64(len(keys)))
		log.Info().Int("carts", len(keys)).Msg("sweeper: carts marked abandoned")
	}

	if keys, err := s.carts.ExpireCarts(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("expire carts: %w", err))
	} else if len(keys) > 0 {
		metrics.CartsSwept.WithLabelValues("expired").Add(float64(len(keys)))
		log.Info().Int("carts", len(keys)).Msg("sweeper: carts expired")
	}

	if s.sessions != nil && s.cfg.SessionIdle > 0 {
		if n, err := s.sessions.DeactivateIdleSessions(ctx, now.Add(-s.cfg.SessionIdle)); err != nil {
			errs = append(errs, fmt.Errorf("deactivate sessions: %w", err))
		} else if n > 0 {
			metrics.SessionsDeactivated.Add(float64(n))
			log.Info().Int64("sessions", n).Msg("sweeper: idle sessions deactivated")
		}
	}

	return errors.Join(errs...)
}
