package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"utxo-diff-alerts/internal/logging"
)

// TickFunc is invoked on every polling round.
type TickFunc func(ctx context.Context) error

// Options tune scheduler behaviour.
type Options struct {
	Interval        time.Duration
	ErrorRetryDelay time.Duration
	StartupDelay    time.Duration
}

// Scheduler drives the long-polling loop.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	if opts.ErrorRetryDelay <= 0 {
		opts.ErrorRetryDelay = opts.Interval
	}
	return &Scheduler{opts: opts, logger: logging.Component(logger, "scheduler")}
}

// Run blocks, invoking tick immediately and then after every wait until ctx is cancelled.
// A failed tick is followed by ErrorRetryDelay instead of Interval.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if err := wait(ctx, s.opts.StartupDelay); err != nil {
		return err
	}

	for round := uint64(1); ; round++ {
		delay := s.opts.Interval
		if err := tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			delay = s.opts.ErrorRetryDelay
			s.logger.Error().Err(err).Uint64("round", round).Dur("retry_in", delay).Msg("tick execution failed")
		}

		s.logger.Debug().Uint64("round", round).Dur("delay", delay).Msg("waiting for next round")
		if err := wait(ctx, delay); err != nil {
			return err
		}
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
