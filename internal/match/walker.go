package match

import (
	"math"
	"time"

	"gtfs-matcher/internal/gtfs"
)

// searchOutcome is why the widening loop for one stop ended.
type searchOutcome int

const (
	matchFound searchOutcome = iota
	outOfRange
	toleranceExhausted
)

func (o searchOutcome) String() string {
	switch o {
	case matchFound:
		return "match_found"
	case outOfRange:
		return "out_of_range"
	default:
		return "tolerance_exhausted"
	}
}

// WalkResult is the output of walking one trip.
type WalkResult struct {
	Records []gtfs.MatchRecord
	// Cursor is the time of the last accepted fix, or the start time when
	// nothing matched.
	Cursor  time.Time
	Matched int
}

// walker aligns the stops of one trip with a time-sorted trace.
type walker struct {
	fixes  []gtfs.Fix
	params Params
}

func newWalker(fixes []gtfs.Fix, p Params) *walker {
	return &walker{fixes: fixes, params: p}
}

// searchStop widens the time window around predicted until it holds a fix.
// The nearest fix of that first non-empty window decides the stop: it is
// accepted within the threshold and the stop stays unmatched otherwise.
func (w *walker) searchStop(from int, st gtfs.StopTime, predicted time.Time) (int, float64, searchOutcome) {
	for tol, more := w.params.InitialTolerance, true; more; tol, more = w.params.widen(tol) {
		idx, d, ok := nearestFix(w.fixes, from, st.StopLat, st.StopLon, predicted, tol)
		if !ok {
			continue
		}
		if d <= w.params.MatchDistanceM {
			return idx, d, matchFound
		}
		return idx, d, outOfRange
	}
	return -1, 0, toleranceExhausted
}

// walk emits one record per stop of trip. The cursor only moves forward, so
// observed arrivals never decrease along the trip.
func (w *walker) walk(vehicleID string, trip *gtfs.Trip, anchor, start time.Time) WalkResult {
	res := WalkResult{Cursor: start, Records: make([]gtfs.MatchRecord, 0, len(trip.Stops))}
	var distSum float64

	for i, st := range trip.Stops {
		rec := gtfs.MatchRecord{
			VehicleID:    vehicleID,
			TripID:       trip.TripID,
			StopSequence: st.StopSequence,
			StopID:       st.StopID,
			StopLat:      st.StopLat,
			StopLon:      st.StopLon,
		}
		if !st.HasSequence {
			rec.StopSequence = i + 1
		}
		if !st.HasOffset {
			res.Records = append(res.Records, rec)
			continue
		}

		predicted := anchor.Add(st.Offset)
		rec.PredictedArrival = &predicted

		// the cursor is always the time of a fix in the trace, so this slice
		// is never empty
		from := firstAtOrAfter(w.fixes, res.Cursor)

		idx, d, outcome := w.searchStop(from, st, predicted)
		if outcome == matchFound {
			fix := w.fixes[idx]
			observed := fix.Time
			lat, lon := fix.Lat, fix.Lon
			delay := observed.Sub(predicted).Minutes()
			dist := d

			rec.ObservedArrival = &observed
			rec.ObservedLat = &lat
			rec.ObservedLon = &lon
			rec.DelayMinutes = &delay
			rec.MatchedDistanceM = &dist

			res.Cursor = observed
			res.Matched++
			distSum += d
		}
		res.Records = append(res.Records, rec)
	}

	frac := 0.0
	if n := len(trip.Stops); n > 0 {
		frac = round2(float64(res.Matched) / float64(n))
	}
	var avg *float64
	if res.Matched > 0 {
		v := round2(distSum / float64(res.Matched))
		avg = &v
	}
	for i := range res.Records {
		res.Records[i].TripMatchFraction = frac
		res.Records[i].TripAvgDistanceM = avg
	}
	return res
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
