package tables

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"gtfs-matcher/internal/gtfs"
)

// FixFilter narrows the fix table while it is read.
type FixFilter struct {
	Line       string         // keep rows whose line column equals this value
	ServiceDay string         // YYYY-MM-DD in Location
	Location   *time.Location // zone for zone-less timestamps; time.Local when nil
	Area       *Area          // keep fixes inside this area
}

// FixStats counts what happened to the rows of a fix table.
type FixStats struct {
	Rows           int
	Kept           int
	BadTimestamp   int
	BadCoordinates int
	OtherLine      int
	OtherDay       int
	OutsideArea    int
}

// ReadFixesFile reads a fix table from path.
func ReadFixesFile(path string, f FixFilter) ([]gtfs.Fix, FixStats, error) {
	rc, err := Open(path)
	if err != nil {
		return nil, FixStats{}, fmt.Errorf("open fixes: %w", err)
	}
	defer rc.Close()
	return ReadFixes(rc, f)
}

// ReadFixes parses a fix table. The vehicle column may be named vehicle_id,
// order or vehicle. Timestamps come from a datetime column or from separate
// date and time columns. Unparseable timestamps leave a zero time and
// unparseable coordinates become NaN; both rows are kept.
func ReadFixes(r io.Reader, f FixFilter) ([]gtfs.Fix, FixStats, error) {
	var stats FixStats
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}

	cr := newCSVReader(r)
	h, err := readHeader(cr)
	if err != nil {
		return nil, stats, fmt.Errorf("read fixes header: %w", err)
	}

	vehicleCol := h.find("vehicle_id", "order", "vehicle")
	latCol := h.find("latitude", "lat")
	lonCol := h.find("longitude", "lon", "lng")
	datetimeCol := h.find("datetime", "timestamp")
	dateCol := h.find("date")
	timeCol := h.find("time")
	lineCol := h.find("line")

	switch {
	case vehicleCol < 0:
		return nil, stats, fmt.Errorf("fixes table has no vehicle_id/order/vehicle column")
	case latCol < 0 || lonCol < 0:
		return nil, stats, fmt.Errorf("fixes table has no latitude/longitude columns")
	case datetimeCol < 0 && (dateCol < 0 || timeCol < 0):
		return nil, stats, fmt.Errorf("fixes table has no datetime or date+time columns")
	}

	var out []gtfs.Fix
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read fixes row %d: %w", stats.Rows+1, err)
		}
		stats.Rows++

		fix := gtfs.Fix{
			VehicleID: field(rec, vehicleCol),
			Lat:       parseCoord(field(rec, latCol)),
			Lon:       parseCoord(field(rec, lonCol)),
		}
		if math.IsNaN(fix.Lat) || math.IsNaN(fix.Lon) {
			stats.BadCoordinates++
		}

		var ts time.Time
		if datetimeCol >= 0 {
			ts, err = gtfs.ParseTimestamp(field(rec, datetimeCol), loc)
		} else {
			ts, err = gtfs.ParseDateAndTime(field(rec, dateCol), field(rec, timeCol), loc)
		}
		if err != nil {
			stats.BadTimestamp++
		} else {
			fix.Time = ts
		}

		line := ""
		if lineCol >= 0 {
			line = field(rec, lineCol)
		}
		if !f.Admit(fix, line, &stats) {
			continue
		}
		out = append(out, fix)
	}
	return out, stats, nil
}

// Admit applies the filter to one parsed fix and counts the outcome in
// stats. An empty line means the source has no line column.
func (f FixFilter) Admit(fix gtfs.Fix, line string, stats *FixStats) bool {
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	switch {
	case f.Line != "" && line != "" && !sameLine(line, f.Line):
		stats.OtherLine++
		return false
	case f.ServiceDay != "" && (fix.Time.IsZero() || fix.Time.In(loc).Format("2006-01-02") != f.ServiceDay):
		stats.OtherDay++
		return false
	case f.Area != nil && !f.Area.Contains(fix.Lat, fix.Lon):
		stats.OutsideArea++
		return false
	}
	stats.Kept++
	return true
}

func parseCoord(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// sameLine compares line labels numerically when both parse, so "371" and
// "371.0" are the same line.
func sameLine(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == b {
		return true
	}
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	return errA == nil && errB == nil && fa == fb
}
