package sim

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"transit-simulator/internal/apperr"
	mmetrics "transit-simulator/internal/metrics"
	"transit-simulator/internal/transit"
)

// TripSource resolves a trip with its ordered stops.
type TripSource interface {
	LookupTrip(ctx context.Context, tripID string) (transit.Trip, error)
}

// StartRequest carries the control-surface parameters of a new simulation.
// Zero values take the registry defaults.
type StartRequest struct {
	TripID          string
	SpeedMultiplier float64
	UpdateInterval  time.Duration
	RandomDeviation float64 // meters
}

// Options configures a Registry.
type Options struct {
	DefaultSpeedMultiplier float64
	MaxSpeedMultiplier     float64
	DefaultUpdateInterval  time.Duration
	MinUpdateInterval      time.Duration
	MaxDeviation           float64
	DensifyMeters          float64 // straight-line densify for trips without stored geometry; 0 disables
	Seed                   int64   // 0 seeds jitter from the clock
	Clock                  Clock
	Sink                   Sink // receives the update of every pause, resume and stop
	Metrics                *mmetrics.Collector
	Logger                 zerolog.Logger
}

// DefaultOptions are used for any zero field of Options.
var DefaultOptions = Options{
	DefaultSpeedMultiplier: 1,
	MaxSpeedMultiplier:     1000,
	DefaultUpdateInterval:  time.Second,
	MinUpdateInterval:      100 * time.Millisecond,
	MaxDeviation:           500,
}

// Registry owns every simulation session of the process.
type Registry struct {
	trips   TripSource
	opts    Options
	clock   Clock
	metrics *mmetrics.Collector
	log     zerolog.Logger
	seq     atomic.Int64

	mu       sync.RWMutex
	sessions map[string]*Session // session id -> session
	byTrip   map[string]string   // trip id -> active session id
}

func NewRegistry(trips TripSource, opts Options) *Registry {
	if opts.DefaultSpeedMultiplier <= 0 {
		opts.DefaultSpeedMultiplier = DefaultOptions.DefaultSpeedMultiplier
	}
	if opts.MaxSpeedMultiplier <= 0 {
		opts.MaxSpeedMultiplier = DefaultOptions.MaxSpeedMultiplier
	}
	if opts.DefaultUpdateInterval <= 0 {
		opts.DefaultUpdateInterval = DefaultOptions.DefaultUpdateInterval
	}
	if opts.MinUpdateInterval <= 0 {
		opts.MinUpdateInterval = DefaultOptions.MinUpdateInterval
	}
	if opts.MaxDeviation <= 0 {
		opts.MaxDeviation = DefaultOptions.MaxDeviation
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock
	}
	return &Registry{
		trips:    trips,
		opts:     opts,
		clock:    clock,
		metrics:  opts.Metrics,
		log:      opts.Logger,
		sessions: make(map[string]*Session),
		byTrip:   make(map[string]string),
	}
}

func (r *Registry) normalize(req StartRequest) (StartRequest, error) {
	if req.TripID == "" {
		return req, fmt.Errorf("%w: tripId is required", apperr.ErrInvalidArgument)
	}
	if req.SpeedMultiplier == 0 {
		req.SpeedMultiplier = r.opts.DefaultSpeedMultiplier
	}
	if req.SpeedMultiplier < 0 || req.SpeedMultiplier > r.opts.MaxSpeedMultiplier {
		return req, fmt.Errorf("%w: speedMultiplier must be in (0, %g], got %g", apperr.ErrInvalidArgument, r.opts.MaxSpeedMultiplier, req.SpeedMultiplier)
	}
	if req.UpdateInterval == 0 {
		req.UpdateInterval = r.opts.DefaultUpdateInterval
	}
	if req.UpdateInterval < r.opts.MinUpdateInterval {
		return req, fmt.Errorf("%w: updateIntervalMs must be at least %d, got %d", apperr.ErrInvalidArgument, r.opts.MinUpdateInterval.Milliseconds(), req.UpdateInterval.Milliseconds())
	}
	if req.RandomDeviation < 0 || req.RandomDeviation > r.opts.MaxDeviation {
		return req, fmt.Errorf("%w: randomDeviation must be in [0, %g], got %g", apperr.ErrInvalidArgument, r.opts.MaxDeviation, req.RandomDeviation)
	}
	return req, nil
}

func (r *Registry) checkTripFree(tripID string) error {
	if id, ok := r.byTrip[tripID]; ok {
		return fmt.Errorf("%w: trip %s already has active simulation %s", apperr.ErrConflict, tripID, id)
	}
	return nil
}

// Start resolves the trip and launches a running session for it.
func (r *Registry) Start(ctx context.Context, req StartRequest) (Snapshot, error) {
	req, err := r.normalize(req)
	if err != nil {
		return Snapshot{}, err
	}

	r.mu.RLock()
	err = r.checkTripFree(req.TripID)
	r.mu.RUnlock()
	if err != nil {
		return Snapshot{}, err
	}

	trip, err := r.trips.LookupTrip(ctx, req.TripID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("lookup trip %s: %w", req.TripID, err)
	}
	if len(trip.Stops) < 2 {
		return Snapshot{}, fmt.Errorf("%w: trip %s has %d resolvable stops", apperr.ErrInvalidRoute, req.TripID, len(trip.Stops))
	}
	path, err := NewPath(transit.BuildPoints(trip.Stops, trip.Shape))
	if err != nil {
		return Snapshot{}, fmt.Errorf("trip %s: %w", req.TripID, err)
	}
	if r.opts.DensifyMeters > 0 && len(trip.Shape) == 0 {
		path = path.Densify(r.opts.DensifyMeters)
	}
	planned := trip.PlannedDuration()
	if planned <= 0 {
		return Snapshot{}, fmt.Errorf("%w: trip %s has no positive scheduled duration", apperr.ErrInvalidRoute, req.TripID)
	}

	now := r.clock.Now()
	s, err := newSession(sessionParams{
		id:        uuid.NewString(),
		tripID:    req.TripID,
		vehicleID: trip.VehicleID,
		path:      path,
		planned:   planned,
		speed:     req.SpeedMultiplier,
		interval:  req.UpdateInterval,
		deviation: req.RandomDeviation,
		rng:       rand.New(rand.NewSource(r.nextSeed(now))),
	}, now)
	if err != nil {
		return Snapshot{}, fmt.Errorf("trip %s: %w", req.TripID, err)
	}

	r.mu.Lock()
	// the trip may have been claimed while we were resolving it
	if err := r.checkTripFree(req.TripID); err != nil {
		r.mu.Unlock()
		return Snapshot{}, err
	}
	r.sessions[s.id] = s
	r.byTrip[s.tripID] = s.id
	active := len(r.byTrip)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionsStarted.Inc()
		r.metrics.ActiveSessions.Set(float64(active))
	}
	r.log.Info().
		Str("session_id", s.id).
		Str("trip_id", s.tripID).
		Str("vehicle_id", s.vehicleID).
		Float64("speed_multiplier", req.SpeedMultiplier).
		Dur("planned", planned).
		Int("points", path.Len()).
		Msg("simulation started")
	return s.Snapshot(), nil
}

func (r *Registry) nextSeed(now time.Time) int64 {
	n := r.seq.Add(1)
	if r.opts.Seed != 0 {
		return r.opts.Seed + n
	}
	return now.UnixNano() + n
}

func (r *Registry) lookup(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, apperr.ErrNotFound)
	}
	return s, nil
}

// Get returns the state of one session.
func (r *Registry) Get(id string) (Snapshot, error) {
	s, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	return s.Snapshot(), nil
}

// List returns copies of every session's state, oldest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(all))
	for _, s := range all {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (r *Registry) Pause(id string) (Snapshot, error) {
	s, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.pause(r.clock.Now()); err != nil {
		return Snapshot{}, err
	}
	r.log.Info().Str("session_id", id).Msg("simulation paused")
	return r.announce(s), nil
}

func (r *Registry) Resume(id string) (Snapshot, error) {
	s, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.resume(r.clock.Now()); err != nil {
		return Snapshot{}, err
	}
	r.log.Info().Str("session_id", id).Msg("simulation resumed")
	return r.announce(s), nil
}

// Stop ends a running or paused session and frees its trip.
func (r *Registry) Stop(id string) (Snapshot, error) {
	s, err := r.lookup(id)
	if err != nil {
		return Snapshot{}, err
	}
	if err := s.stop(r.clock.Now()); err != nil {
		return Snapshot{}, err
	}
	r.release(s, StatusStopped)
	r.log.Info().Str("session_id", id).Str("trip_id", s.tripID).Msg("simulation stopped")
	return r.announce(s), nil
}

// announce publishes the state s just transitioned to and returns it.
func (r *Registry) announce(s *Session) Snapshot {
	snap := s.Snapshot()
	if r.opts.Sink != nil {
		if err := r.opts.Sink.Publish(context.Background(), snap.Update()); err != nil {
			r.log.Debug().Err(err).Str("session_id", snap.ID).Msg("publish transition")
		}
	}
	return snap
}

// Remove deletes a terminal session.
func (r *Registry) Remove(id string) error {
	s, err := r.lookup(id)
	if err != nil {
		return err
	}
	if st := s.Status(); !st.Terminal() {
		return fmt.Errorf("%w: session %s is %s, stop it first", apperr.ErrInvalidState, id, st)
	}
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
	return nil
}

// Prune removes terminal sessions not updated within retention and returns
// how many were removed.
func (r *Registry) Prune(retention time.Duration) int {
	cutoff := r.clock.Now().Add(-retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.sessions {
		if s.Status().Terminal() && s.updatedBefore(cutoff) {
			delete(r.sessions, id)
			n++
		}
	}
	if n > 0 && r.metrics != nil {
		r.metrics.SessionsPruned.Add(float64(n))
	}
	return n
}

// running returns the sessions the scheduler has to consider.
func (r *Registry) running() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.byTrip))
	for _, id := range r.byTrip {
		if s, ok := r.sessions[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// release drops s from the trip index after it reached a terminal state.
func (r *Registry) release(s *Session, final Status) {
	r.mu.Lock()
	if r.byTrip[s.tripID] == s.id {
		delete(r.byTrip, s.tripID)
	}
	active := len(r.byTrip)
	r.mu.Unlock()
	if r.metrics != nil {
		label := string(final)
		if final == StatusStopped && s.Snapshot().FailureReason != "" {
			label = "failed"
		}
		r.metrics.SessionsFinished.WithLabelValues(label).Inc()
		r.metrics.ActiveSessions.Set(float64(active))
	}
}
