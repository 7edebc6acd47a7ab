package sim

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	mmetrics "transit-simulator/internal/metrics"
)

// Sink receives position updates. Publishing is best-effort: the scheduler
// logs failures and carries on.
type Sink interface {
	Publish(ctx context.Context, u Update) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, u Update) error

func (f SinkFunc) Publish(ctx context.Context, u Update) error { return f(ctx, u) }

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Resolution    time.Duration // how often Run wakes up
	Retention     time.Duration // terminal sessions older than this are pruned; 0 keeps them
	PruneInterval time.Duration
	Clock         Clock
	Metrics       *mmetrics.Collector
	Logger        zerolog.Logger
}

// Scheduler ticks every running session of a Registry.
type Scheduler struct {
	reg  *Registry
	sink Sink
	opts SchedulerOptions

	lastPrune time.Time
}

func NewScheduler(reg *Registry, sink Sink, opts SchedulerOptions) *Scheduler {
	if opts.Resolution <= 0 {
		opts.Resolution = 100 * time.Millisecond
	}
	if opts.PruneInterval <= 0 {
		opts.PruneInterval = time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = reg.clock
	}
	return &Scheduler{reg: reg, sink: sink, opts: opts}
}

// Tick advances every due session to now and publishes the results. It
// returns the number of updates produced.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	start := time.Now()
	n := 0
	for _, sess := range s.reg.running() {
		upd, changed := sess.tick(now)
		if !changed {
			continue
		}
		n++
		if upd.Status.Terminal() {
			s.reg.release(sess, upd.Status)
			ev := s.opts.Logger.Info()
			if upd.Status == StatusStopped {
				ev = s.opts.Logger.Warn().Str("reason", sess.Snapshot().FailureReason)
			}
			ev.Str("session_id", upd.SessionID).Str("trip_id", upd.TripID).Str("status", string(upd.Status)).Msg("simulation finished")
		}
		if s.sink != nil {
			if err := s.sink.Publish(ctx, upd); err != nil {
				s.opts.Logger.Debug().Err(err).Str("session_id", upd.SessionID).Msg("publish position")
			}
		}
	}
	if s.opts.Metrics != nil && n > 0 {
		s.opts.Metrics.Ticks.Add(float64(n))
		s.opts.Metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
	return n
}

// Run drives Tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Resolution)
	defer ticker.Stop()
	s.lastPrune = s.opts.Clock.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			now := s.opts.Clock.Now()
			s.Tick(ctx, now)
			s.maybePrune(now)
		}
	}
}

func (s *Scheduler) maybePrune(now time.Time) {
	if s.opts.Retention <= 0 || now.Sub(s.lastPrune) < s.opts.PruneInterval {
		return
	}
	s.lastPrune = now
	if n := s.reg.Prune(s.opts.Retention); n > 0 {
		s.opts.Logger.Debug().Int("pruned", n).Msg("pruned terminal sessions")
	}
}
