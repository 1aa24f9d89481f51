package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval. A non-nil error stops the scheduler.
type TickFunc func(ctx context.Context, tick int) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
	Immediate    bool
}

// Scheduler runs ticks strictly one after another, waiting Interval after each
// tick completes, so captures never overlap.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logger.With().Str("component", "scheduler").Logger()}
}

// Run blocks, invoking tick until ctx is cancelled or tick returns an error.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		if err := s.wait(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if !s.opts.Immediate {
		if err := s.wait(ctx, s.opts.Interval); err != nil {
			return err
		}
	}

	for n := 1; ; n++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.logger.Debug().Int("tick", n).Msg("executing scheduled tick")
		if err := tick(ctx, n); err != nil {
			s.logger.Error().Err(err).Int("tick", n).Msg("tick execution failed; stopping")
			return err
		}

		s.logger.Debug().Dur("interval", s.opts.Interval).Msg("waiting for next tick")
		if err := s.wait(ctx, s.opts.Interval); err != nil {
			return err
		}
	}
}

func (s *Scheduler) wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
