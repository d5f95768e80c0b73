package db

import (
	"context"
	"database/sql"
	"fmt"

	"gtfs-matcher/internal/gtfs"
)

// FetchScheduleStops loads the stop times of every trip of a route from the
// GTFS tables of a Postgres import. An empty routeShortName loads all
// routes. Stops may carry stop_lat/stop_lon or a PostGIS stop_loc column.
func FetchScheduleStops(ctx context.Context, db *sql.DB, routeShortName string) ([]gtfs.StopTime, error) {
	latlonExists, err := hasColumns(ctx, db, "public", "stops", "stop_lat", "stop_lon")
	if err != nil {
		return nil, fmt.Errorf("introspect stops columns: %w", err)
	}
	coords := `s.stop_lat, s.stop_lon`
	if !latlonExists["stop_lat"] || !latlonExists["stop_lon"] {
		locExists, err := hasColumns(ctx, db, "public", "stops", "stop_loc")
		if err != nil {
			return nil, fmt.Errorf("introspect stops stop_loc: %w", err)
		}
		if !locExists["stop_loc"] {
			return nil, fmt.Errorf("stops table missing expected columns (stop_lat/lon or stop_loc)")
		}
		coords = `ST_Y(s.stop_loc::geometry), ST_X(s.stop_loc::geometry)`
	}

	q := `SELECT st.trip_id,
                 st.stop_sequence,
                 st.stop_id,
                 COALESCE(st.arrival_time::text, ''),
                 COALESCE(st.departure_time::text, ''),
                 ` + coords + `
          FROM stop_times st
          JOIN trips t ON t.trip_id = st.trip_id
          JOIN routes r ON r.route_id = t.route_id
          JOIN stops s ON s.stop_id = st.stop_id
          WHERE $1 = '' OR r.route_short_name = $1
          ORDER BY st.trip_id, st.stop_sequence`
	rows, err := db.QueryContext(ctx, q, routeShortName)
	if err != nil {
		return nil, fmt.Errorf("query stop_times: %w", err)
	}
	defer rows.Close()

	var sts []gtfs.StopTime
	for rows.Next() {
		var (
			st       gtfs.StopTime
			arr, dep string
			lat, lon sql.NullFloat64
		)
		if err := rows.Scan(&st.TripID, &st.StopSequence, &st.StopID, &arr, &dep, &lat, &lon); err != nil {
			return nil, err
		}
		if !lat.Valid || !lon.Valid {
			continue
		}
		st.StopLat, st.StopLon = lat.Float64, lon.Float64
		st.HasSequence = true
		st.Offset, st.HasOffset = gtfs.ParseOffset(arr)
		if !st.HasOffset {
			st.Offset, st.HasOffset = gtfs.ParseOffset(dep)
		}
		sts = append(sts, st)
	}
	return sts, rows.Err()
}
