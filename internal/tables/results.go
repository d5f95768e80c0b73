package tables

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"gtfs-matcher/internal/gtfs"
)

// TimeLayout is how timestamps are rendered in the match table.
const TimeLayout = "2006-01-02 15:04:05"

// ResultColumns is the header of the match table.
var ResultColumns = []string{
	"vehicle_id",
	"trip_id",
	"stop_sequence",
	"stop_id",
	"stop_lat",
	"stop_lon",
	"arrival_predicted",
	"arrival_observed",
	"observed_lat",
	"observed_lon",
	"delay_min",
	"matched_distance_m",
	"trip_match_pct",
	"trip_avg_distance_m",
}

// WriteResultsFile writes records to path as CSV.
func WriteResultsFile(path string, records []gtfs.MatchRecord) (err error) {
	wc, err := Create(path)
	if err != nil {
		return fmt.Errorf("create results: %w", err)
	}
	defer func() {
		if cerr := wc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close results: %w", cerr)
		}
	}()
	return WriteResults(wc, records)
}

// WriteResults writes records as CSV. Absent values are empty cells.
func WriteResults(w io.Writer, records []gtfs.MatchRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ResultColumns); err != nil {
		return err
	}
	row := make([]string, len(ResultColumns))
	for _, r := range records {
		row[0] = r.VehicleID
		row[1] = r.TripID
		row[2] = strconv.Itoa(r.StopSequence)
		row[3] = r.StopID
		row[4] = formatFloat(r.StopLat)
		row[5] = formatFloat(r.StopLon)
		row[6] = formatTime(r.PredictedArrival)
		row[7] = formatTime(r.ObservedArrival)
		row[8] = formatFloatPtr(r.ObservedLat)
		row[9] = formatFloatPtr(r.ObservedLon)
		row[10] = formatFloatPtr(r.DelayMinutes)
		row[11] = formatFloatPtr(r.MatchedDistanceM)
		row[12] = formatFloat(r.TripMatchFraction)
		row[13] = formatFloatPtr(r.TripAvgDistanceM)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(TimeLayout)
}
