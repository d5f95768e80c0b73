package match

import (
	"sort"
	"time"

	"gtfs-matcher/internal/gtfs"
	"gtfs-matcher/internal/schedule"
)

// Candidate is the hypothesis "the fix was taken at this stop of this trip".
// Anchor is the trip start implied by that hypothesis.
type Candidate struct {
	TripID    string
	StopIndex int
	Anchor    time.Time
	DistanceM float64
}

// Candidates returns every (trip, stop) pair within threshold meters of fix
// whose trip is not blocked by claims, sorted by trip id then stop index.
// Only stops with a scheduled offset are considered.
func Candidates(ix *schedule.Index, fix gtfs.Fix, claims *Claims, threshold float64) []Candidate {
	near := ix.StopsNear(fix.Lat, fix.Lon, threshold)
	if len(near) == 0 {
		return nil
	}

	out := make([]Candidate, 0, len(near))
	for _, n := range near {
		anchor := fix.Time.Add(-n.Stop.Offset)
		if claims != nil && claims.Blocked(n.TripID, anchor) {
			continue
		}
		out = append(out, Candidate{
			TripID:    n.TripID,
			StopIndex: n.Index,
			Anchor:    anchor,
			DistanceM: n.DistanceM,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TripID != out[j].TripID {
			return out[i].TripID < out[j].TripID
		}
		return out[i].StopIndex < out[j].StopIndex
	})
	return out
}
