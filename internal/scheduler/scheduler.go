package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// PollFunc is invoked on every tick. A returned error is logged and the loop
// keeps going; the next tick retries from wherever the job left off.
type PollFunc func(ctx context.Context) error

// Options tune scheduler behaviour.
type Options struct {
	Interval     time.Duration
	StartupDelay time.Duration
	// MaxBackoff caps the wait after consecutive failures. Zero disables
	// backoff and keeps the plain interval.
	MaxBackoff time.Duration
}

// Scheduler drives periodic polling of the event source.
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

// Run polls immediately after the startup delay and then once per interval
// until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, poll PollFunc) error {
	if err := s.sleep(ctx, s.opts.StartupDelay); err != nil {
		return err
	}

	failures := 0
	for {
		started := time.Now()
		if err := poll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			s.logger.Error().Err(err).Int("consecutive_failures", failures).Msg("poll failed")
		} else {
			if failures > 0 {
				s.logger.Info().Int("after_failures", failures).Msg("poll recovered")
			}
			failures = 0
			s.logger.Debug().Dur("took", time.Since(started)).Msg("poll completed")
		}

		if err := s.sleep(ctx, s.delay(failures)); err != nil {
			return err
		}
	}
}

func (s *Scheduler) delay(failures int) time.Duration {
	wait := s.opts.Interval
	if s.opts.MaxBackoff <= 0 {
		return wait
	}
	for i := 0; i < failures && wait < s.opts.MaxBackoff; i++ {
		wait *= 2
	}
	if wait > s.opts.MaxBackoff {
		wait = s.opts.MaxBackoff
	}
	return wait
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) error {
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
