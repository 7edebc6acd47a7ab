package sim

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"transit-simulator/internal/apperr"
)

// Status is the lifecycle state of a simulation session.
type Status string

const (
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
)

// Active reports whether the session still holds its trip.
func (s Status) Active() bool { return s == StatusRunning || s == StatusPaused }

// Terminal reports whether the session can no longer change.
func (s Status) Terminal() bool { return s == StatusStopped || s == StatusCompleted }

// Update is what a session publishes on every tick.
type Update struct {
	SessionID       string    `json:"sessionId"`
	TripID          string    `json:"tripId"`
	VehicleID       string    `json:"vehicleId"`
	Lat             float64   `json:"lat"`
	Lng             float64   `json:"lng"`
	Heading         float64   `json:"heading"`
	Speed           float64   `json:"speed"`
	SegmentIndex    int       `json:"segmentIndex"`
	SegmentProgress float64   `json:"segmentProgress"`
	ElapsedMs       int64     `json:"elapsedMs"`
	Status          Status    `json:"status"`
	Timestamp       time.Time `json:"timestamp"`
}

// Snapshot is a copy of a session's observable state.
type Snapshot struct {
	ID                  string    `json:"id"`
	TripID              string    `json:"tripId"`
	VehicleID           string    `json:"vehicleId"`
	Status              Status    `json:"status"`
	SpeedMultiplier     float64   `json:"speedMultiplier"`
	UpdateIntervalMs    int64     `json:"updateIntervalMs"`
	RandomDeviation     float64   `json:"randomDeviation"`
	ElapsedMs           int64     `json:"elapsedMs"`
	PlannedDurationMs   int64     `json:"plannedDurationMs"`
	RouteDistanceMeters float64   `json:"routeDistanceMeters"`
	Points              int       `json:"points"`
	Position            Position  `json:"position"`
	StartedAt           time.Time `json:"startedAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
	FailureReason       string    `json:"failureReason,omitempty"`
}

// Session simulates one trip. All methods serialize on mu, so a tick can
// never interleave with pause, resume or stop.
type Session struct {
	mu sync.Mutex

	id        string
	tripID    string
	vehicleID string
	path      *Path
	planned   time.Duration
	interval  time.Duration
	deviation float64
	rng       *rand.Rand

	clock     *SimulationClock
	status    Status
	last      Position
	startedAt time.Time
	updatedAt time.Time
	lastTick  time.Time
	failure   string
}

type sessionParams struct {
	id        string
	tripID    string
	vehicleID string
	path      *Path
	planned   time.Duration
	speed     float64
	interval  time.Duration
	deviation float64
	rng       *rand.Rand
}

func newSession(p sessionParams, now time.Time) (*Session, error) {
	pos, err := ComputePosition(p.path, 0, p.planned, Deviation{})
	if err != nil {
		return nil, err
	}
	return &Session{
		id:        p.id,
		tripID:    p.tripID,
		vehicleID: p.vehicleID,
		path:      p.path,
		planned:   p.planned,
		interval:  p.interval,
		deviation: p.deviation,
		rng:       p.rng,
		clock:     NewSimulationClock(p.speed, now),
		status:    StatusRunning,
		last:      pos,
		startedAt: now,
		updatedAt: now,
		lastTick:  now,
	}, nil
}

func (s *Session) ID() string     { return s.id }
func (s *Session) TripID() string { return s.tripID }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// tick advances the session if it is running and its update interval has
// passed. It reports false when nothing changed. A failing computation stops
// the session and records why.
func (s *Session) tick(now time.Time) (upd Update, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != StatusRunning || now.Sub(s.lastTick) < s.interval {
		return Update{}, false
	}

	defer func() {
		if r := recover(); r != nil {
			s.failLocked(now, fmt.Errorf("tick panic: %v", r))
			upd, changed = s.updateLocked(now), true
		}
	}()

	elapsed := s.clock.Advance(now)
	pos, err := ComputePosition(s.path, elapsed, s.planned, Deviation{Meters: s.deviation, Rand: s.rng})
	if err != nil {
		s.failLocked(now, err)
		return s.updateLocked(now), true
	}
	s.last = pos
	s.lastTick = now
	s.updatedAt = now
	if pos.FractionComplete >= 1 {
		s.status = StatusCompleted
	}
	return s.updateLocked(now), true
}

func (s *Session) failLocked(now time.Time, err error) {
	s.status = StatusStopped
	s.failure = err.Error()
	s.updatedAt = now
}

// settleLocked accounts running time up to now and refreshes the position.
func (s *Session) settleLocked(now time.Time) {
	if s.status != StatusRunning {
		return
	}
	elapsed := s.clock.Advance(now)
	pos, err := ComputePosition(s.path, elapsed, s.planned, Deviation{Meters: s.deviation, Rand: s.rng})
	if err == nil {
		s.last = pos
	}
}

func (s *Session) pause(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusRunning {
		return fmt.Errorf("%w: cannot pause session %s in status %s", apperr.ErrInvalidState, s.id, s.status)
	}
	s.settleLocked(now)
	s.clock.Pause()
	s.status = StatusPaused
	s.updatedAt = now
	return nil
}

func (s *Session) resume(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPaused {
		return fmt.Errorf("%w: cannot resume session %s in status %s", apperr.ErrInvalidState, s.id, s.status)
	}
	s.clock.Resume(now)
	s.lastTick = now
	s.status = StatusRunning
	s.updatedAt = now
	return nil
}

func (s *Session) stop(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.status.Active() {
		return fmt.Errorf("%w: cannot stop session %s in status %s", apperr.ErrInvalidState, s.id, s.status)
	}
	s.settleLocked(now)
	s.clock.Pause()
	s.status = StatusStopped
	s.updatedAt = now
	return nil
}

func (s *Session) updateLocked(now time.Time) Update {
	return Update{
		SessionID:       s.id,
		TripID:          s.tripID,
		VehicleID:       s.vehicleID,
		Lat:             s.last.Lat,
		Lng:             s.last.Lng,
		Heading:         s.last.Heading,
		Speed:           s.last.SpeedKmh,
		SegmentIndex:    s.last.SegmentIndex,
		SegmentProgress: s.last.SegmentProgress,
		ElapsedMs:       s.clock.Elapsed().Milliseconds(),
		Status:          s.status,
		Timestamp:       now,
	}
}

// Snapshot returns a value copy of the session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:                  s.id,
		TripID:              s.tripID,
		VehicleID:           s.vehicleID,
		Status:              s.status,
		SpeedMultiplier:     s.clock.Multiplier(),
		UpdateIntervalMs:    s.interval.Milliseconds(),
		RandomDeviation:     s.deviation,
		ElapsedMs:           s.clock.Elapsed().Milliseconds(),
		PlannedDurationMs:   s.planned.Milliseconds(),
		RouteDistanceMeters: s.path.TotalDistance(),
		Points:              s.path.Len(),
		Position:            s.last,
		StartedAt:           s.startedAt,
		UpdatedAt:           s.updatedAt,
		FailureReason:       s.failure,
	}
}

func (s *Session) updatedBefore(t time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt.Before(t)
}

// Update renders the snapshot as the last published update.
func (s Snapshot) Update() Update {
	return Update{
		SessionID:       s.ID,
		TripID:          s.TripID,
		VehicleID:       s.VehicleID,
		Lat:             s.Position.Lat,
		Lng:             s.Position.Lng,
		Heading:         s.Position.Heading,
		Speed:           s.Position.SpeedKmh,
		SegmentIndex:    s.Position.SegmentIndex,
		SegmentProgress: s.Position.SegmentProgress,
		ElapsedMs:       s.ElapsedMs,
		Status:          s.Status,
		Timestamp:       s.UpdatedAt,
	}
}
