package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"transit-simulator/internal/apperr"
	"transit-simulator/internal/transit"
)

// TripStore reads trips and their route-version stops from the dashboard's
// Postgres schema.
type TripStore struct {
	db *sql.DB
}

func NewTripStore(db *sql.DB) *TripStore { return &TripStore{db: db} }

// LookupTrip returns the trip with its stops in sequence order. Stops without
// coordinates are skipped. Road geometry is read when the shape table exists.
func (s *TripStore) LookupTrip(ctx context.Context, tripID string) (transit.Trip, error) {
	q := `SELECT t.id, COALESCE(t."vehicleId", ''), t."routeVersionId", t."departureTime", t."arrivalTime"
FROM "Trip" t WHERE t.id = $1`
	var t transit.Trip
	var dep, arr sql.NullTime
	err := s.db.QueryRowContext(ctx, q, tripID).Scan(&t.ID, &t.VehicleID, &t.RouteVersionID, &dep, &arr)
	if errors.Is(err, sql.ErrNoRows) {
		return transit.Trip{}, fmt.Errorf("trip %s: %w", tripID, apperr.ErrNotFound)
	}
	if err != nil {
		return transit.Trip{}, fmt.Errorf("query trip: %w", err)
	}
	if dep.Valid {
		t.Departure = dep.Time
	}
	if arr.Valid {
		t.Arrival = arr.Time
	}

	if t.Stops, err = s.fetchStops(ctx, t.RouteVersionID); err != nil {
		return transit.Trip{}, err
	}
	if t.Shape, err = s.fetchShape(ctx, t.RouteVersionID); err != nil {
		return transit.Trip{}, err
	}
	return t, nil
}

func (s *TripStore) fetchStops(ctx context.Context, routeVersionID string) ([]transit.Stop, error) {
	q := `SELECT rs."sequenceNumber", s.id, COALESCE(s.name, ''), s.latitude, s.longitude,
       COALESCE(rs."arrivalOffsetMin", 0)
FROM "RouteVersionStop" rs
JOIN "Stop" s ON s.id = rs."stopId"
WHERE rs."routeVersionId" = $1
  AND s.latitude IS NOT NULL AND s.longitude IS NOT NULL
ORDER BY rs."sequenceNumber"`
	rows, err := s.db.QueryContext(ctx, q, routeVersionID)
	if err != nil {
		return nil, fmt.Errorf("query route stops: %w", err)
	}
	defer rows.Close()

	var stops []transit.Stop
	for rows.Next() {
		var st transit.Stop
		var offsetMin int
		if err := rows.Scan(&st.Sequence, &st.StopID, &st.Name, &st.Lat, &st.Lng, &offsetMin); err != nil {
			return nil, err
		}
		st.ArrivalOffset = time.Duration(offsetMin) * time.Minute
		stops = append(stops, st)
	}
	return stops, rows.Err()
}

func (s *TripStore) fetchShape(ctx context.Context, routeVersionID string) ([]transit.ShapePoint, error) {
	ok, err := hasTable(ctx, s.db, "public", "RouteVersionShapePoint")
	if err != nil {
		return nil, fmt.Errorf("introspect shape table: %w", err)
	}
	if !ok {
		return nil, nil
	}
	q := `SELECT "afterSequence", sequence, latitude, longitude
FROM "RouteVersionShapePoint"
WHERE "routeVersionId" = $1
ORDER BY "afterSequence", sequence`
	rows, err := s.db.QueryContext(ctx, q, routeVersionID)
	if err != nil {
		return nil, fmt.Errorf("query shape points: %w", err)
	}
	defer rows.Close()

	var pts []transit.ShapePoint
	for rows.Next() {
		var p transit.ShapePoint
		if err := rows.Scan(&p.AfterSequence, &p.Sequence, &p.Lat, &p.Lng); err != nil {
			return nil, err
		}
		pts = append(pts, p)
	}
	return pts, rows.Err()
}
