package db

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"gtfs-matcher/internal/gtfs"
	"gtfs-matcher/internal/tables"
)

// FetchFixes reads a fix table with the same columns the CSV reader
// accepts: a vehicle column (vehicle_id, order or vehicle), latitude and
// longitude, a datetime or timestamp column, and an optional line column.
// Rows go through the same filter and null rules as the CSV reader.
func FetchFixes(ctx context.Context, db *sql.DB, table string, f tables.FixFilter) ([]gtfs.Fix, tables.FixStats, error) {
	var stats tables.FixStats
	quoted, err := quoteIdent(table)
	if err != nil {
		return nil, stats, err
	}
	cols, err := tableColumns(ctx, db, quoted)
	if err != nil {
		return nil, stats, fmt.Errorf("introspect %s: %w", table, err)
	}
	pick := func(names ...string) string {
		for _, n := range names {
			if cols[n] {
				return `"` + n + `"`
			}
		}
		return ""
	}
	vehicleCol := pick("vehicle_id", "order", "vehicle")
	latCol := pick("latitude", "lat")
	lonCol := pick("longitude", "lon", "lng")
	timeCol := pick("datetime", "timestamp")
	lineCol := pick("line")
	if vehicleCol == "" || latCol == "" || lonCol == "" || timeCol == "" {
		return nil, stats, fmt.Errorf("fix table %s needs vehicle, latitude, longitude and datetime columns", table)
	}
	if lineCol == "" {
		lineCol = "''"
	}

	q := fmt.Sprintf(`SELECT %s, %s, %s, %s, %s FROM %s`, vehicleCol, latCol, lonCol, timeCol, lineCol, quoted)
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, stats, fmt.Errorf("query fixes: %w", err)
	}
	defer rows.Close()

	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	var out []gtfs.Fix
	for rows.Next() {
		var vehicle, lat, lon, ts, line any
		if err := rows.Scan(&vehicle, &lat, &lon, &ts, &line); err != nil {
			return nil, stats, err
		}
		stats.Rows++

		fix := gtfs.Fix{
			VehicleID: valueString(vehicle),
			Lat:       valueFloat(lat),
			Lon:       valueFloat(lon),
		}
		if math.IsNaN(fix.Lat) || math.IsNaN(fix.Lon) {
			stats.BadCoordinates++
		}
		switch v := ts.(type) {
		case time.Time:
			fix.Time = v
		default:
			t, err := gtfs.ParseTimestamp(valueString(v), loc)
			if err != nil {
				stats.BadTimestamp++
			} else {
				fix.Time = t
			}
		}
		if !f.Admit(fix, valueString(line), &stats) {
			continue
		}
		out = append(out, fix)
	}
	return out, stats, rows.Err()
}

func valueString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case []byte:
		return strings.TrimSpace(string(x))
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

func valueFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	default:
		f, err := strconv.ParseFloat(valueString(v), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
}
