package sim

import (
	"fmt"
	"math"

	"transit-simulator/internal/apperr"
	"transit-simulator/internal/transit"
)

// Path is an immutable polyline with precomputed segment lengths (meters).
type Path struct {
	points []transit.Point
	seg    []float64 // seg[i] = length of points[i] -> points[i+1]
	cum    []float64 // cum[i] = distance from points[0] to points[i]
}

// NewPath validates points and precomputes distances.
func NewPath(points []transit.Point) (*Path, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 points, got %d", apperr.ErrInvalidRoute, len(points))
	}
	for i, p := range points {
		if !validCoord(p) {
			return nil, fmt.Errorf("%w: point %d has invalid coordinate (%v, %v)", apperr.ErrInvalidRoute, i, p.Lat, p.Lng)
		}
	}
	pts := make([]transit.Point, len(points))
	copy(pts, points)
	seg := make([]float64, len(pts)-1)
	cum := make([]float64, len(pts))
	for i := 1; i < len(pts); i++ {
		seg[i-1] = transit.Haversine(pts[i-1], pts[i])
		cum[i] = cum[i-1] + seg[i-1]
	}
	return &Path{points: pts, seg: seg, cum: cum}, nil
}

func validCoord(p transit.Point) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Len returns the number of points.
func (p *Path) Len() int { return len(p.points) }

// Point returns the i-th point.
func (p *Path) Point(i int) transit.Point { return p.points[i] }

// Points returns a copy of the points.
func (p *Path) Points() []transit.Point {
	out := make([]transit.Point, len(p.points))
	copy(out, p.points)
	return out
}

// SegmentLength returns the length of segment i in meters.
func (p *Path) SegmentLength(i int) float64 { return p.seg[i] }

// Cumulative returns the distance along the path at point i.
func (p *Path) Cumulative(i int) float64 { return p.cum[i] }

// TotalDistance returns the path length in meters.
func (p *Path) TotalDistance() float64 { return p.cum[len(p.cum)-1] }

// Densify returns a path where no segment is longer than maxSegment meters.
// Inserted points lie on the straight line between the original ones.
func (p *Path) Densify(maxSegment float64) *Path {
	if maxSegment <= 0 {
		return p
	}
	out := []transit.Point{p.points[0]}
	for i, l := range p.seg {
		a, b := p.points[i], p.points[i+1]
		n := int(math.Ceil(l / maxSegment))
		for k := 1; k < n; k++ {
			f := float64(k) / float64(n)
			out = append(out, transit.Point{Lat: a.Lat + (b.Lat-a.Lat)*f, Lng: a.Lng + (b.Lng-a.Lng)*f})
		}
		out = append(out, b)
	}
	if len(out) == len(p.points) {
		return p
	}
	dense, err := NewPath(out)
	if err != nil {
		return p
	}
	return dense
}
