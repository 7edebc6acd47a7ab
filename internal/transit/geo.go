package transit

import (
	"math"
	"sort"
)

const earthRadiusMeters = 6371000.0

func toRad(d float64) float64 { return d * math.Pi / 180 }

// Haversine returns the great-circle distance between a and b in meters.
func Haversine(a, b Point) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusMeters * c
}

// Bearing returns the initial great-circle bearing from a to b in degrees [0, 360).
func Bearing(a, b Point) float64 {
	y := math.Sin(toRad(b.Lng-a.Lng)) * math.Cos(toRad(b.Lat))
	x := math.Cos(toRad(a.Lat))*math.Sin(toRad(b.Lat)) - math.Sin(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Cos(toRad(b.Lng-a.Lng))
	brng := math.Atan2(y, x) * 180 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

// OffsetMeters moves p by north/east meters using an equirectangular approximation.
func OffsetMeters(p Point, north, east float64) Point {
	dLat := north / earthRadiusMeters * 180 / math.Pi
	cosLat := math.Cos(toRad(p.Lat))
	if cosLat < 1e-9 {
		return Point{Lat: p.Lat + dLat, Lng: p.Lng}
	}
	dLng := east / (earthRadiusMeters * cosLat) * 180 / math.Pi
	return Point{Lat: p.Lat + dLat, Lng: p.Lng + dLng}
}

// BuildPoints lays out the trip polyline: every stop in sequence order,
// each followed by the shape points recorded after it.
func BuildPoints(stops []Stop, shape []ShapePoint) []Point {
	sorted := make([]Stop, len(stops))
	copy(sorted, stops)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	after := make(map[int][]ShapePoint)
	for _, sp := range shape {
		after[sp.AfterSequence] = append(after[sp.AfterSequence], sp)
	}
	for k := range after {
		pts := after[k]
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].Sequence < pts[j].Sequence })
	}

	out := make([]Point, 0, len(sorted)+len(shape))
	for i, st := range sorted {
		out = append(out, Point{Lat: st.Lat, Lng: st.Lng})
		if i == len(sorted)-1 {
			break // geometry past the last stop is ignored
		}
		for _, sp := range after[st.Sequence] {
			out = append(out, Point{Lat: sp.Lat, Lng: sp.Lng})
		}
	}
	return out
}
