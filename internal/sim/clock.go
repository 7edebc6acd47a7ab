package sim

import (
	"sync"
	"time"
)

// Clock abstracts wall time so the scheduler can be driven by a virtual clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock { return &ManualClock{now: start} }

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// SimulationClock converts real elapsed time into simulated elapsed time.
// It is not safe for concurrent use; the owning session serializes access.
type SimulationClock struct {
	multiplier float64
	anchor     time.Time
	elapsed    time.Duration
	frozen     bool
}

func NewSimulationClock(multiplier float64, now time.Time) *SimulationClock {
	return &SimulationClock{multiplier: multiplier, anchor: now}
}

// Advance accumulates (now - anchor) * multiplier and re-anchors at now.
// Frozen clocks and backwards wall-clock jumps add nothing.
func (c *SimulationClock) Advance(now time.Time) time.Duration {
	if c.frozen {
		return c.elapsed
	}
	if real := now.Sub(c.anchor); real > 0 {
		c.elapsed += time.Duration(float64(real) * c.multiplier)
	}
	c.anchor = now
	return c.elapsed
}

// Pause freezes the accumulator at its current value.
func (c *SimulationClock) Pause() { c.frozen = true }

// Resume re-anchors at now so the paused interval is not counted.
func (c *SimulationClock) Resume(now time.Time) {
	c.frozen = false
	c.anchor = now
}

func (c *SimulationClock) Elapsed() time.Duration { return c.elapsed }

func (c *SimulationClock) Multiplier() float64 { return c.multiplier }
