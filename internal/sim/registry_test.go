package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transit-simulator/internal/apperr"
	mmetrics "transit-simulator/internal/metrics"
	"transit-simulator/internal/transit"
)

var t0 = time.Date(2026, 4, 5, 8, 0, 0, 0, time.UTC)

type fakeTrips struct {
	mu    sync.Mutex
	trips map[string]transit.Trip
	calls int
}

func (f *fakeTrips) LookupTrip(_ context.Context, id string) (transit.Trip, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	t, ok := f.trips[id]
	if !ok {
		return transit.Trip{}, fmt.Errorf("trip %s: %w", id, apperr.ErrNotFound)
	}
	return t, nil
}

// straightTrip runs along the equator from lng 0 to lng 2 in d.
func straightTrip(id string, d time.Duration) transit.Trip {
	return transit.Trip{
		ID:        id,
		VehicleID: "bus-" + id,
		Departure: t0,
		Arrival:   t0.Add(d),
		Stops: []transit.Stop{
			{Sequence: 1, StopID: "a", Lat: 0, Lng: 0},
			{Sequence: 2, StopID: "b", Lat: 0, Lng: 1},
			{Sequence: 3, StopID: "c", Lat: 0, Lng: 2},
		},
	}
}

func newTestRegistry(t *testing.T, trips ...transit.Trip) (*Registry, *ManualClock) {
	t.Helper()
	src := &fakeTrips{trips: map[string]transit.Trip{}}
	for _, tr := range trips {
		src.trips[tr.ID] = tr
	}
	clock := NewManualClock(t0)
	reg := NewRegistry(src, Options{Clock: clock, Seed: 1})
	return reg, clock
}

func TestStartInitialState(t *testing.T) {
	reg, _ := newTestRegistry(t, straightTrip("t1", time.Hour))
	snap, err := reg.Start(context.Background(), StartRequest{TripID: "t1", SpeedMultiplier: 10, UpdateInterval: 500 * time.Millisecond})
	require.NoError(t, err)

	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "t1", snap.TripID)
	assert.Equal(t, "bus-t1", snap.VehicleID)
	assert.Equal(t, StatusRunning, snap.Status)
	assert.Equal(t, 10.0, snap.SpeedMultiplier)
	assert.Equal(t, int64(500), snap.UpdateIntervalMs)
	assert.Zero(t, snap.ElapsedMs)
	assert.Equal(t, time.Hour.Milliseconds(), snap.PlannedDurationMs)
	assert.Equal(t, 3, snap.Points)
	assert.Equal(t, 0.0, snap.Position.Lng)
	assert.Equal(t, t0, snap.StartedAt)
}

func TestStartDefaults(t *testing.T) {
	reg, _ := newTestRegistry(t, straightTrip("t1", time.Hour))
	snap, err := reg.Start(context.Background(), StartRequest{TripID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap.SpeedMultiplier)
	assert.Equal(t, int64(1000), snap.UpdateIntervalMs)
}

func TestStartValidation(t *testing.T) {
	reg, _ := newTestRegistry(t, straightTrip("t1", time.Hour))
	tests := []struct {
		name string
		req  StartRequest
	}{
		{"missing trip", StartRequest{}},
		{"negative speed", StartRequest{TripID: "t1", SpeedMultiplier: -1}},
		{"speed too high", StartRequest{TripID: "t1", SpeedMultiplier: 5000}},
		{"interval too short", StartRequest{TripID: "t1", UpdateInterval: 10 * time.Millisecond}},
		{"negative deviation", StartRequest{TripID: "t1", RandomDeviation: -3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Start(context.Background(), tt.req)
			assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
		})
	}
	assert.Empty(t, reg.List())
}

func TestStartUnknownTrip(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Start(context.Background(), StartRequest{TripID: "nope"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestStartInvalidRoute(t *testing.T) {
	one := straightTrip("short", time.Hour)
	one.Stops = one.Stops[:1]
	noDuration := straightTrip("nodur", 0)
	reg, _ := newTestRegistry(t, one, noDuration)

	_, err := reg.Start(context.Background(), StartRequest{TripID: "short"})
	assert.ErrorIs(t, err, apperr.ErrInvalidRoute)

	_, err = reg.Start(context.Background(), StartRequest{TripID: "nodur"})
	assert.ErrorIs(t, err, apperr.ErrInvalidRoute)
}

func TestAtMostOneSessionPerTrip(t *testing.T) {
	reg, _ := newTestRegistry(t, straightTrip("t1", time.Hour))
	ctx := context.Background()

	first, err := reg.Start(ctx, StartRequest{TripID: "t1"})
	require.NoError(t, err)

	_, err = reg.Start(ctx, StartRequest{TripID: "t1"})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	_, err = reg.Pause(first.ID)
	require.NoError(t, err)
	_, err = reg.Start(ctx, StartRequest{TripID: "t1"})
	assert.ErrorIs(t, err, apperr.ErrConflict, "paused sessions still own the trip")

	_, err = reg.Stop(first.ID)
	require.NoError(t, err)

	second, err := reg.Start(ctx, StartRequest{TripID: "t1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	stopped, err := reg.Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, stopped.Status, "terminal sessions stay queryable")
	assert.Len(t, reg.List(), 2)
}

func TestConcurrentStartsOnlyOneWins(t *testing.T) {
	reg, _ := newTestRegistry(t, straightTrip("t1", time.Hour))
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Start(context.Background(), StartRequest{TripID: "t1"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperr.ErrConflict):
				conflicts++
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 15, conflicts)
}

func TestLifecycleInvalidTransitions(t *testing.T) {
	reg, _ := newTestRegistry(t, straightTrip("t1", time.Hour))
	snap, err := reg.Start(context.Background(), StartRequest{TripID: "t1"})
	require.NoError(t, err)

	_, err = reg.Resume(snap.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "resume while running")

	_, err = reg.Pause(snap.ID)
	require.NoError(t, err)
	_, err = reg.Pause(snap.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState, "pause while paused")

	_, err = reg.Stop(snap.ID)
	require.NoError(t, err)
	for name, op := range map[string]func(string) (Snapshot, error){
		"pause": reg.Pause, "resume": reg.Resume, "stop": reg.Stop,
	} {
		_, err := op(snap.ID)
		assert.ErrorIs(t, err, apperr.ErrInvalidState, name)
	}

	_, err = reg.Pause("missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRemoveAndPrune(t *testing.T) {
	reg, clock := newTestRegistry(t, straightTrip("t1", time.Hour), straightTrip("t2", time.Hour))
	ctx := context.Background()
	a, err := reg.Start(ctx, StartRequest{TripID: "t1"})
	require.NoError(t, err)
	b, err := reg.Start(ctx, StartRequest{TripID: "t2"})
	require.NoError(t, err)

	assert.ErrorIs(t, reg.Remove(a.ID), apperr.ErrInvalidState)

	_, err = reg.Stop(a.ID)
	require.NoError(t, err)
	require.NoError(t, reg.Remove(a.ID))
	_, err = reg.Get(a.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = reg.Stop(b.ID)
	require.NoError(t, err)
	assert.Zero(t, reg.Prune(time.Hour))
	clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, reg.Prune(time.Hour))
	assert.Empty(t, reg.List())
}

func TestListReturnsCopies(t *testing.T) {
	reg, _ := newTestRegistry(t, straightTrip("t1", time.Hour))
	_, err := reg.Start(context.Background(), StartRequest{TripID: "t1"})
	require.NoError(t, err)

	list := reg.List()
	require.Len(t, list, 1)
	list[0].Status = StatusCompleted
	list[0].Position.Lat = 42

	again := reg.List()
	assert.Equal(t, StatusRunning, again[0].Status)
	assert.Equal(t, 0.0, again[0].Position.Lat)
}

func TestRegistryMetrics(t *testing.T) {
	src := &fakeTrips{trips: map[string]transit.Trip{"t1": straightTrip("t1", time.Hour)}}
	m := mmetrics.NewCollector(1, time.Second, 100*time.Millisecond)
	reg := NewRegistry(src, Options{Clock: NewManualClock(t0), Metrics: m})

	snap, err := reg.Start(context.Background(), StartRequest{TripID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted))

	_, err = reg.Stop(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsFinished.WithLabelValues("stopped")))
}

func TestStartDensifiesTripsWithoutGeometry(t *testing.T) {
	plain := straightTrip("plain", time.Hour)
	shaped := straightTrip("shaped", time.Hour)
	shaped.Shape = []transit.ShapePoint{{AfterSequence: 1, Sequence: 1, Lat: 0, Lng: 0.5}}

	src := &fakeTrips{trips: map[string]transit.Trip{"plain": plain, "shaped": shaped}}
	reg := NewRegistry(src, Options{Clock: NewManualClock(t0), DensifyMeters: 50000})

	// each ~111 km segment splits into three
	snap, err := reg.Start(context.Background(), StartRequest{TripID: "plain"})
	require.NoError(t, err)
	assert.Equal(t, 7, snap.Points)

	snap, err = reg.Start(context.Background(), StartRequest{TripID: "shaped"})
	require.NoError(t, err)
	assert.Equal(t, 4, snap.Points)
}

func TestLifecycleTransitionsArePublished(t *testing.T) {
	src := &fakeTrips{trips: map[string]transit.Trip{"t1": straightTrip("t1", time.Hour)}}
	clock := NewManualClock(t0)
	sink := &recordingSink{}
	reg := NewRegistry(src, Options{Clock: clock, Sink: sink})

	snap, err := reg.Start(context.Background(), StartRequest{TripID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, sink.all())

	clock.Advance(2 * time.Second)
	_, err = reg.Pause(snap.ID)
	require.NoError(t, err)
	_, err = reg.Resume(snap.ID)
	require.NoError(t, err)
	_, err = reg.Stop(snap.ID)
	require.NoError(t, err)

	got := sink.all()
	require.Len(t, got, 3)
	assert.Equal(t, []Status{StatusPaused, StatusRunning, StatusStopped}, []Status{got[0].Status, got[1].Status, got[2].Status})
	assert.Equal(t, snap.ID, got[2].SessionID)
	assert.Equal(t, int64(2000), got[0].ElapsedMs)
	assert.Equal(t, t0.Add(2*time.Second), got[2].Timestamp)

	_, err = reg.Stop(snap.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Len(t, sink.all(), 3, "rejected transitions are not published")
}
