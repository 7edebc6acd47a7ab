package transit

import "time"

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Trip is a scheduled run of a vehicle along one route version.
type Trip struct {
	ID             string
	VehicleID      string
	RouteVersionID string
	Departure      time.Time
	Arrival        time.Time
	Stops          []Stop       // ordered by Sequence
	Shape          []ShapePoint // optional road geometry between stops
}

// Stop is one stop of a route version.
type Stop struct {
	Sequence      int
	StopID        string
	Name          string
	Lat           float64
	Lng           float64
	ArrivalOffset time.Duration // offset from departure; 0 if unknown
}

// ShapePoint is a road-geometry point placed after the stop with sequence
// AfterSequence and before the next one.
type ShapePoint struct {
	AfterSequence int
	Sequence      int
	Lat           float64
	Lng           float64
}

// PlannedDuration returns the scheduled trip duration. When departure or
// arrival is missing it falls back to the last stop's arrival offset.
func (t Trip) PlannedDuration() time.Duration {
	if !t.Departure.IsZero() && !t.Arrival.IsZero() {
		if d := t.Arrival.Sub(t.Departure); d > 0 {
			return d
		}
	}
	if n := len(t.Stops); n > 0 {
		return t.Stops[n-1].ArrivalOffset
	}
	return 0
}
