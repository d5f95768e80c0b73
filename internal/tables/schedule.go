package tables

import (
	"fmt"
	"io"
	"math"
	"strconv"

	"gtfs-matcher/internal/gtfs"
)

// ScheduleStats counts what happened to the rows of a schedule table.
type ScheduleStats struct {
	Rows          int
	BadOffset     int
	BadSequence   int
	BadCoordinate int
	OtherRoute    int
}

// ReadScheduleFile reads a flat schedule table from path.
func ReadScheduleFile(path, routeShortName string) ([]gtfs.StopTime, ScheduleStats, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, ScheduleStats{}, fmt.Errorf("open schedule: %w", err)
	}
	defer rc.Close()
	return ReadSchedule(rc, routeShortName)
}

// ReadSchedule parses a flat schedule table with trip_id, stop_id,
// stop_sequence, stop_lat, stop_lon and arrival_time columns. A malformed
// arrival_time or stop_sequence leaves the field absent and keeps the row.
// When routeShortName is set and the table has a route_short_name column,
// other routes are skipped.
func ReadSchedule(r io.Reader, routeShortName string) ([]gtfs.StopTime, ScheduleStats, error) {
	var stats ScheduleStats
	cr := newCSVReader(r)
	h, err := readHeader(cr)
	if err != nil {
		return nil, stats, fmt.Errorf("read schedule header: %w", err)
	}

	tripCol := h.find("trip_id")
	stopCol := h.find("stop_id")
	seqCol := h.find("stop_sequence")
	latCol := h.find("stop_lat")
	lonCol := h.find("stop_lon")
	arrCol := h.find("arrival_time")
	depCol := h.find("departure_time")
	routeCol := h.find("route_short_name")

	if tripCol < 0 || stopCol < 0 || latCol < 0 || lonCol < 0 {
		return nil, stats, fmt.Errorf("schedule table needs trip_id, stop_id, stop_lat and stop_lon columns")
	}
	if arrCol < 0 && depCol < 0 {
		return nil, stats, fmt.Errorf("schedule table has no arrival_time column")
	}

	var out []gtfs.StopTime
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read schedule row %d: %w", stats.Rows+1, err)
		}
		stats.Rows++

		if routeShortName != "" && routeCol >= 0 && !sameLine(field(rec, routeCol), routeShortName) {
			stats.OtherRoute++
			continue
		}

		st := gtfs.StopTime{
			TripID:  field(rec, tripCol),
			StopID:  field(rec, stopCol),
			StopLat: parseCoord(field(rec, latCol)),
			StopLon: parseCoord(field(rec, lonCol)),
		}
		if math.IsNaN(st.StopLat) || math.IsNaN(st.StopLon) {
			stats.BadCoordinate++
		}

		if seqCol >= 0 {
			if seq, err := strconv.Atoi(field(rec, seqCol)); err == nil {
				st.StopSequence, st.HasSequence = seq, true
			} else if f, err := strconv.ParseFloat(field(rec, seqCol), 64); err == nil && f == float64(int(f)) {
				st.StopSequence, st.HasSequence = int(f), true
			} else {
				stats.BadSequence++
			}
		}

		st.Offset, st.HasOffset = gtfs.ParseOffset(field(rec, arrCol))
		if !st.HasOffset && depCol >= 0 {
			st.Offset, st.HasOffset = gtfs.ParseOffset(field(rec, depCol))
		}
		if !st.HasOffset {
			stats.BadOffset++
		}
		out = append(out, st)
	}
	return out, stats, nil
}
