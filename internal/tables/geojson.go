package tables

import (
	"fmt"
	"io"

	geojson "github.com/paulmach/go.geojson"

	"gtfs-matcher/internal/gtfs"
)

// BuildFeatureCollection renders records as GeoJSON: one point per scheduled
// stop carrying the record fields, plus one line per walked trip through the
// observed positions when at least two stops matched.
func BuildFeatureCollection(records []gtfs.MatchRecord) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	var path [][]float64
	flush := func(vehicleID, tripID string) {
		if len(path) >= 2 {
			line := geojson.NewLineStringFeature(path)
			line.SetProperty("kind", "observed_path")
			line.SetProperty("vehicle_id", vehicleID)
			line.SetProperty("trip_id", tripID)
			fc.AddFeature(line)
		}
		path = nil
	}

	for i, r := range records {
		if i > 0 {
			prev := records[i-1]
			// a new group starts when the vehicle or trip changes or the stop list restarts
			if prev.VehicleID != r.VehicleID || prev.TripID != r.TripID || r.StopSequence <= prev.StopSequence {
				flush(prev.VehicleID, prev.TripID)
			}
		}

		pt := geojson.NewPointFeature([]float64{r.StopLon, r.StopLat})
		pt.SetProperty("kind", "stop")
		pt.SetProperty("vehicle_id", r.VehicleID)
		pt.SetProperty("trip_id", r.TripID)
		pt.SetProperty("stop_id", r.StopID)
		pt.SetProperty("stop_sequence", r.StopSequence)
		pt.SetProperty("matched", r.Matched())
		pt.SetProperty("trip_match_pct", r.TripMatchFraction)
		if r.PredictedArrival != nil {
			pt.SetProperty("arrival_predicted", r.PredictedArrival.Format(TimeLayout))
		}
		if r.ObservedArrival != nil {
			pt.SetProperty("arrival_observed", r.ObservedArrival.Format(TimeLayout))
		}
		if r.DelayMinutes != nil {
			pt.SetProperty("delay_min", *r.DelayMinutes)
		}
		if r.MatchedDistanceM != nil {
			pt.SetProperty("matched_distance_m", *r.MatchedDistanceM)
		}
		fc.AddFeature(pt)

		if r.ObservedLat != nil && r.ObservedLon != nil {
			path = append(path, []float64{*r.ObservedLon, *r.ObservedLat})
		}
	}
	if n := len(records); n > 0 {
		flush(records[n-1].VehicleID, records[n-1].TripID)
	}
	return fc
}

// WriteGeoJSON writes records as a GeoJSON FeatureCollection.
func WriteGeoJSON(w io.Writer, records []gtfs.MatchRecord) error {
	b, err := BuildFeatureCollection(records).MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal geojson: %w", err)
	}
	_, err = w.Write(b)
	return err
}

// WriteGeoJSONFile writes records as GeoJSON to path.
func WriteGeoJSONFile(path string, records []gtfs.MatchRecord) (err error) {
	wc, err := Create(path)
	if err != nil {
		return fmt.Errorf("create geojson: %w", err)
	}
	defer func() {
		if cerr := wc.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close geojson: %w", cerr)
		}
	}()
	return WriteGeoJSON(wc, records)
}
