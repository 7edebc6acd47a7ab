package sim

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"transit-simulator/internal/apperr"
	"transit-simulator/internal/transit"
)

// Position is the rendered state of a vehicle at a simulated instant.
type Position struct {
	SegmentIndex     int           `json:"segmentIndex"`
	SegmentProgress  float64       `json:"segmentProgress"`
	Lat              float64       `json:"lat"`
	Lng              float64       `json:"lng"`
	Heading          float64       `json:"heading"`
	SpeedKmh         float64       `json:"speed"`
	Elapsed          time.Duration `json:"-"`
	FractionComplete float64       `json:"fractionComplete"`
}

// Deviation jitters the rendered coordinate by up to Meters in each axis.
// A nil Rand or zero Meters disables it.
type Deviation struct {
	Meters float64
	Rand   *rand.Rand
}

// ComputePosition places a vehicle along path after elapsed simulated time of
// a trip planned to last total. Progress is uniform in distance. A point on an
// interior segment boundary belongs to the later segment; the final point
// belongs to the last segment with progress 1.
func ComputePosition(path *Path, elapsed, total time.Duration, dev Deviation) (Position, error) {
	if path == nil || path.Len() < 2 {
		return Position{}, fmt.Errorf("%w: path has fewer than 2 points", apperr.ErrInvalidRoute)
	}
	if total <= 0 {
		return Position{}, fmt.Errorf("%w: planned duration must be positive, got %s", apperr.ErrInvalidRoute, total)
	}
	if elapsed < 0 {
		elapsed = 0
	}

	fraction := float64(elapsed) / float64(total)
	if fraction > 1 {
		fraction = 1
	}
	totalDist := path.TotalDistance()
	lastSeg := path.Len() - 2

	if totalDist == 0 {
		p := path.Point(0)
		progress := 0.0
		if fraction == 1 {
			progress = 1
		}
		return Position{
			SegmentIndex:     segmentIndexForDegenerate(fraction, lastSeg),
			SegmentProgress:  progress,
			Lat:              p.Lat,
			Lng:              p.Lng,
			Elapsed:          elapsed,
			FractionComplete: fraction,
		}, nil
	}

	target := fraction * totalDist
	// first point whose cumulative distance is strictly past target, minus one
	i := sort.Search(path.Len(), func(k int) bool { return path.Cumulative(k) > target }) - 1
	if i < 0 {
		i = 0
	}
	if i > lastSeg {
		i = lastSeg
	}

	segLen := path.SegmentLength(i)
	progress := 0.0
	if segLen > 0 {
		progress = (target - path.Cumulative(i)) / segLen
		if progress > 1 {
			progress = 1
		}
	}
	if fraction == 1 {
		progress = 1
	}

	a, b := path.Point(i), path.Point(i+1)
	pos := transit.Point{Lat: a.Lat + (b.Lat-a.Lat)*progress, Lng: a.Lng + (b.Lng-a.Lng)*progress}
	switch {
	case progress == 0:
		pos = a
	case progress == 1:
		pos = b
	}

	// segment planned duration = its share of distance times total
	segPlanned := total.Seconds() * segLen / totalDist
	speed := 0.0
	if segPlanned > 0 {
		speed = segLen / segPlanned * 3.6
	}

	if dev.Meters > 0 && dev.Rand != nil {
		north := (dev.Rand.Float64()*2 - 1) * dev.Meters
		east := (dev.Rand.Float64()*2 - 1) * dev.Meters
		pos = transit.OffsetMeters(pos, north, east)
	}

	return Position{
		SegmentIndex:     i,
		SegmentProgress:  progress,
		Lat:              pos.Lat,
		Lng:              pos.Lng,
		Heading:          transit.Bearing(a, b),
		SpeedKmh:         speed,
		Elapsed:          elapsed,
		FractionComplete: fraction,
	}, nil
}

func segmentIndexForDegenerate(fraction float64, lastSeg int) int {
	if fraction >= 1 {
		return lastSeg
	}
	return 0
}
