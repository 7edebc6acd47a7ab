package sim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"transit-simulator/internal/transit"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []Update
	err     error
}

func (r *recordingSink) Publish(_ context.Context, u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return r.err
}

func (r *recordingSink) all() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Update, len(r.updates))
	copy(out, r.updates)
	return out
}

func newTestScheduler(t *testing.T, trips ...transit.Trip) (*Registry, *Scheduler, *ManualClock, *recordingSink) {
	t.Helper()
	reg, clock := newTestRegistry(t, trips...)
	sink := &recordingSink{}
	return reg, NewScheduler(reg, sink, SchedulerOptions{Clock: clock}), clock, sink
}

func TestSpeedMultiplierScalesElapsed(t *testing.T) {
	reg, sched, clock, sink := newTestScheduler(t, straightTrip("t1", time.Hour))
	ctx := context.Background()
	snap, err := reg.Start(ctx, StartRequest{TripID: "t1", SpeedMultiplier: 10, UpdateInterval: time.Second})
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		sched.Tick(ctx, clock.Advance(100*time.Millisecond))
	}
	got, err := reg.Get(snap.ID)
	require.NoError(t, err)
	assert.InDelta(t, 60000, got.ElapsedMs, 1000)
	assert.Len(t, sink.all(), 6)
}

func TestTickRespectsPerSessionInterval(t *testing.T) {
	reg, sched, clock, sink := newTestScheduler(t, straightTrip("fast", time.Hour), straightTrip("slow", time.Hour))
	ctx := context.Background()
	_, err := reg.Start(ctx, StartRequest{TripID: "fast", UpdateInterval: 200 * time.Millisecond})
	require.NoError(t, err)
	_, err = reg.Start(ctx, StartRequest{TripID: "slow", UpdateInterval: time.Second})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		sched.Tick(ctx, clock.Advance(100*time.Millisecond))
	}
	counts := map[string]int{}
	for _, u := range sink.all() {
		counts[u.TripID]++
	}
	assert.Equal(t, 5, counts["fast"])
	assert.Equal(t, 1, counts["slow"])
}

func TestProgressIsMonotonicUntilCompleted(t *testing.T) {
	reg, sched, clock, sink := newTestScheduler(t, straightTrip("t1", 10*time.Minute))
	ctx := context.Background()
	snap, err := reg.Start(ctx, StartRequest{TripID: "t1", SpeedMultiplier: 20, UpdateInterval: time.Second})
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		sched.Tick(ctx, clock.Advance(time.Second))
	}
	updates := sink.all()
	require.NotEmpty(t, updates)
	var prevElapsed int64 = -1
	prevLng := -1.0
	for _, u := range updates {
		assert.GreaterOrEqual(t, u.ElapsedMs, prevElapsed)
		assert.GreaterOrEqual(t, u.Lng, prevLng)
		prevElapsed, prevLng = u.ElapsedMs, u.Lng
	}

	last := updates[len(updates)-1]
	assert.Equal(t, StatusCompleted, last.Status)
	assert.Equal(t, 2.0, last.Lng)
	// 10 minutes at 20x is 30 real seconds; nothing is published afterwards
	assert.Len(t, updates, 30)

	got, err := reg.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	// the trip is free again
	_, err = reg.Start(ctx, StartRequest{TripID: "t1"})
	assert.NoError(t, err)
}

func TestPausedTimeIsNotCounted(t *testing.T) {
	reg, sched, clock, sink := newTestScheduler(t, straightTrip("t1", time.Hour))
	ctx := context.Background()
	snap, err := reg.Start(ctx, StartRequest{TripID: "t1", SpeedMultiplier: 2, UpdateInterval: time.Second})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		sched.Tick(ctx, clock.Advance(time.Second))
	}
	paused, err := reg.Pause(snap.ID)
	require.NoError(t, err)
	e := paused.ElapsedMs
	published := len(sink.all())

	for i := 0; i < 120; i++ {
		sched.Tick(ctx, clock.Advance(time.Second))
	}
	assert.Len(t, sink.all(), published, "paused sessions are not ticked")

	_, err = reg.Resume(snap.ID)
	require.NoError(t, err)
	sched.Tick(ctx, clock.Advance(time.Second))

	got, err := reg.Get(snap.ID)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, got.ElapsedMs, e)
	assert.Equal(t, e+2000, got.ElapsedMs)
}

func TestStopIsObservedByNextTick(t *testing.T) {
	reg, sched, clock, sink := newTestScheduler(t, straightTrip("t1", time.Hour))
	ctx := context.Background()
	snap, err := reg.Start(ctx, StartRequest{TripID: "t1"})
	require.NoError(t, err)

	sched.Tick(ctx, clock.Advance(time.Second))
	_, err = reg.Stop(snap.ID)
	require.NoError(t, err)
	sched.Tick(ctx, clock.Advance(time.Second))
	assert.Len(t, sink.all(), 1)
}

func TestFailingTickStopsSessionWithReason(t *testing.T) {
	reg, sched, clock, sink := newTestScheduler(t, straightTrip("t1", time.Hour))
	ctx := context.Background()
	snap, err := reg.Start(ctx, StartRequest{TripID: "t1"})
	require.NoError(t, err)

	s, err := reg.lookup(snap.ID)
	require.NoError(t, err)
	s.mu.Lock()
	s.planned = 0
	s.mu.Unlock()

	sched.Tick(ctx, clock.Advance(time.Second))
	got, err := reg.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.Contains(t, got.FailureReason, "planned duration")

	updates := sink.all()
	require.Len(t, updates, 1)
	assert.Equal(t, StatusStopped, updates[0].Status)

	_, err = reg.Start(ctx, StartRequest{TripID: "t1"})
	assert.NoError(t, err, "failed session releases its trip")
}

func TestPanickingTickIsRecovered(t *testing.T) {
	reg, sched, clock, _ := newTestScheduler(t, straightTrip("t1", time.Hour))
	ctx := context.Background()
	snap, err := reg.Start(ctx, StartRequest{TripID: "t1"})
	require.NoError(t, err)

	s, err := reg.lookup(snap.ID)
	require.NoError(t, err)
	s.mu.Lock()
	s.path = &Path{points: make([]transit.Point, 2)} // no distances: index out of range
	s.mu.Unlock()

	assert.NotPanics(t, func() { sched.Tick(ctx, clock.Advance(time.Second)) })
	got, err := reg.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.Contains(t, got.FailureReason, "panic")
}

func TestPublishErrorsAreIgnored(t *testing.T) {
	reg, clock := newTestRegistry(t, straightTrip("t1", time.Hour))
	sink := &recordingSink{err: errors.New("nats down")}
	sched := NewScheduler(reg, sink, SchedulerOptions{Clock: clock})
	snap, err := reg.Start(context.Background(), StartRequest{TripID: "t1"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		sched.Tick(context.Background(), clock.Advance(time.Second))
	}
	got, err := reg.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Len(t, sink.all(), 3)
}

func TestRunStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	reg := NewRegistry(&fakeTrips{trips: map[string]transit.Trip{}}, Options{})
	sched := NewScheduler(reg, nil, SchedulerOptions{Resolution: 5 * time.Millisecond, Retention: time.Millisecond, PruneInterval: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestPauseKeepsTimeSinceLastTick(t *testing.T) {
	reg, sched, clock, sink := newTestScheduler(t, straightTrip("t1", time.Hour))
	ctx := context.Background()
	snap, err := reg.Start(ctx, StartRequest{TripID: "t1", SpeedMultiplier: 10, UpdateInterval: time.Second})
	require.NoError(t, err)

	// every run is shorter than the update interval, so no tick ever fires
	for i := 0; i < 20; i++ {
		sched.Tick(ctx, clock.Advance(900*time.Millisecond))
		_, err := reg.Pause(snap.ID)
		require.NoError(t, err)
		clock.Advance(time.Minute)
		_, err = reg.Resume(snap.ID)
		require.NoError(t, err)
	}
	assert.Empty(t, sink.all())

	got, err := reg.Get(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, (3 * time.Minute).Milliseconds(), got.ElapsedMs)
	assert.Greater(t, got.Position.Lng, 0.0)
	assert.Greater(t, got.Position.FractionComplete, 0.0)
}

func TestStopFreezesElapsedAtStopInstant(t *testing.T) {
	reg, sched, clock, _ := newTestScheduler(t, straightTrip("t1", time.Hour))
	ctx := context.Background()
	snap, err := reg.Start(ctx, StartRequest{TripID: "t1", UpdateInterval: time.Second})
	require.NoError(t, err)

	sched.Tick(ctx, clock.Advance(time.Second))
	clock.Advance(500 * time.Millisecond)
	stopped, err := reg.Stop(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), stopped.ElapsedMs)
}
