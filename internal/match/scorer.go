package match

import (
	"time"

	"gtfs-matcher/internal/gtfs"
	"gtfs-matcher/internal/schedule"
)

// missPenalty makes the number of look-ahead matches dominate the score;
// distance only breaks ties between trips with the same count.
const missPenalty = 1e9

// Choice is the trip picked by the sequence scorer.
type Choice struct {
	TripID    string
	StopIndex int
	Anchor    time.Time
	Matches   int
	Score     float64
}

// bestPerTrip keeps the lowest-distance candidate of each trip. Candidates
// arrive sorted by (trip, stop index), so a distance tie keeps the lower stop.
func bestPerTrip(cands []Candidate) []Candidate {
	var out []Candidate
	for _, c := range cands {
		n := len(out)
		if n > 0 && out[n-1].TripID == c.TripID {
			if c.DistanceM < out[n-1].DistanceM {
				out[n-1] = c
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

// Score ranks the candidate trips by how well the next LookaheadStops stops
// of each agree with the trace, searching only fixes after the reference time
// and never backwards. The lowest score wins; ties go to the smallest trip id.
// ok is false when none of the candidate trips is in ix.
func Score(ix *schedule.Index, cands []Candidate, fixes []gtfs.Fix, ref time.Time, p Params) (best Choice, ok bool) {
	relaxed := p.relaxedDistance()

	for _, c := range bestPerTrip(cands) {
		trip, found := ix.Trip(c.TripID)
		if !found {
			continue
		}

		matches := 0
		total := c.DistanceM
		from := firstAfter(fixes, ref)
		// untimed stops are passed over and do not count toward the K stops
		examined := 0
		for si := c.StopIndex + 1; si < len(trip.Stops) && examined < p.LookaheadStops; si++ {
			if from >= len(fixes) {
				break
			}
			st := trip.Stops[si]
			if !st.HasOffset {
				continue
			}
			examined++
			predicted := c.Anchor.Add(st.Offset)
			idx, d, hit := nearestFix(fixes, from, st.StopLat, st.StopLon, predicted, p.LookaheadTolerance)
			if hit && d <= relaxed {
				matches++
				total += d
				from = firstAfter(fixes, fixes[idx].Time)
			}
		}

		score := float64(p.LookaheadStops-matches)*missPenalty + total
		// candidates are visited in trip id order, so strict < keeps the smaller id on ties
		if !ok || score < best.Score {
			best = Choice{TripID: c.TripID, StopIndex: c.StopIndex, Anchor: c.Anchor, Matches: matches, Score: score}
			ok = true
		}
	}
	return best, ok
}
