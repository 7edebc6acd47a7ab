package publisher

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	mmetrics "transit-simulator/internal/metrics"
	"transit-simulator/internal/sim"
)

// Fanout publishes every update to all of its sinks.
type Fanout []sim.Sink

func (f Fanout) Publish(ctx context.Context, u sim.Update) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Async decouples the scheduler from slow sinks. Publish enqueues and never
// blocks; when the queue is full the update is dropped.
type Async struct {
	next    sim.Sink
	queue   chan sim.Update
	metrics *mmetrics.Collector
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsync(next sim.Sink, size int, m *mmetrics.Collector, logger zerolog.Logger) *Async {
	if size <= 0 {
		size = 1
	}
	a := &Async{
		next:    next,
		queue:   make(chan sim.Update, size),
		metrics: m,
		log:     logger,
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// ErrQueueFull is returned when an update is dropped.
var ErrQueueFull = errors.New("publish queue full")

var errClosed = errors.New("publisher closed")

func (a *Async) Publish(_ context.Context, u sim.Update) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return errClosed
	}
	select {
	case a.queue <- u:
		return nil
	default:
		if a.metrics != nil {
			a.metrics.PublishDropped.Inc()
		}
		return ErrQueueFull
	}
}

func (a *Async) run() {
	defer close(a.done)
	for u := range a.queue {
		if err := a.next.Publish(context.Background(), u); err != nil {
			a.log.Warn().Err(err).Str("session_id", u.SessionID).Msg("publish failed")
		}
	}
}

// Close stops accepting updates, drains the queue and waits for the worker.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}
