package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked on every aligned interval.
type TickFunc func(ctx context.Context, tick time.Time) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

// Scheduler drives the snapshot loop.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.Interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Interval returns the configured tick interval.
func (s *Scheduler) Interval() time.Duration {
	return s.opts.Interval
}

// Run blocks, invoking the tick function at each interval until ctx is
// cancelled. Ticks missed while a slow tick was running are skipped rather
// than replayed back to back.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	next := s.nextTick(s.now())
	for {
		delay := next.Sub(s.now())
		if delay < 0 {
			skipped := int(-delay/s.opts.Interval) + 1
			next = s.nextTick(s.now())
			delay = next.Sub(s.now())
			s.logger.Warn().Int("skipped", skipped).Time("next_tick", next).Msg("tick overran, skipping missed intervals")
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_tick", next).Msg("waiting for next tick")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			timer.Stop()
		}

		at := s.tickStart(next)
		if err := tick(ctx, at); err != nil {
			s.logger.Error().Err(err).Time("tick", at).Msg("tick execution failed")
		}

		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) nextTick(now time.Time) time.Time {
	if !s.opts.AlignToStart {
		return now.Add(s.opts.Interval)
	}
	next := now.Truncate(s.opts.Interval)
	if !next.After(now) {
		next = next.Add(s.opts.Interval)
	}
	return next
}

func (s *Scheduler) tickStart(t time.Time) time.Time {
	if !s.opts.AlignToStart {
		return t
	}
	return t.Truncate(s.opts.Interval)
}
