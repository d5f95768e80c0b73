// Package schedule holds the read-only view of the scheduled trips that every
// matching worker shares.
package schedule

import (
	"errors"
	"sort"

	"github.com/tidwall/rtree"

	"gtfs-matcher/internal/geo"
	"gtfs-matcher/internal/gtfs"
)

// ErrEmptySchedule is returned by Build when no trip could be formed.
var ErrEmptySchedule = errors.New("schedule has no trips")

// StopRef points at one stop of one trip.
type StopRef struct {
	TripID string
	Index  int
}

// NearbyStop is a stop returned by StopsNear with its exact distance.
type NearbyStop struct {
	StopRef
	Stop      gtfs.StopTime
	DistanceM float64
}

// Index groups stops into ordered trips and keeps a spatial index over every
// stop that has a usable scheduled offset. It is immutable after Build.
type Index struct {
	trips   map[string]*gtfs.Trip
	tripIDs []string
	tree    rtree.RTreeG[StopRef]
	indexed int
	total   int
}

// Build groups rows by trip id. Stops are sorted by stop sequence (stable);
// a trip with any stop lacking a sequence keeps file order.
func Build(rows []gtfs.StopTime) (*Index, error) {
	ix := &Index{trips: make(map[string]*gtfs.Trip)}
	missingSeq := make(map[string]bool)

	for _, st := range rows {
		if st.TripID == "" {
			continue
		}
		t, ok := ix.trips[st.TripID]
		if !ok {
			t = &gtfs.Trip{TripID: st.TripID}
			ix.trips[st.TripID] = t
			ix.tripIDs = append(ix.tripIDs, st.TripID)
		}
		if !st.HasSequence {
			missingSeq[st.TripID] = true
		}
		t.Stops = append(t.Stops, st)
	}
	if len(ix.trips) == 0 {
		return nil, ErrEmptySchedule
	}
	sort.Strings(ix.tripIDs)

	for _, id := range ix.tripIDs {
		t := ix.trips[id]
		if !missingSeq[id] {
			sort.SliceStable(t.Stops, func(i, j int) bool {
				return t.Stops[i].StopSequence < t.Stops[j].StopSequence
			})
		}
		for i, st := range t.Stops {
			ix.total++
			if !st.HasOffset || !geo.ValidCoordinate(st.StopLat, st.StopLon) {
				continue
			}
			pt := [2]float64{st.StopLat, st.StopLon}
			ix.tree.Insert(pt, pt, StopRef{TripID: id, Index: i})
			ix.indexed++
		}
	}
	return ix, nil
}

// Trip returns the ordered trip for id.
func (ix *Index) Trip(id string) (*gtfs.Trip, bool) {
	t, ok := ix.trips[id]
	return t, ok
}

// TripIDs returns all trip ids in lexical order. The slice must not be modified.
func (ix *Index) TripIDs() []string { return ix.tripIDs }

// TripCount returns the number of trips.
func (ix *Index) TripCount() int { return len(ix.tripIDs) }

// StopCount returns the total number of stops and how many of them are
// spatially indexed.
func (ix *Index) StopCount() (total, indexed int) { return ix.total, ix.indexed }

// StopsNear returns every indexed stop within meters of (lat, lon), in no
// particular order. The tree is queried with a slightly padded bounding box
// and the result is cut with the exact haversine distance.
func (ix *Index) StopsNear(lat, lon, meters float64) []NearbyStop {
	if meters < 0 || !geo.ValidCoordinate(lat, lon) {
		return nil
	}
	// the haversine circle bulges past the box in longitude away from the center latitude
	b := geo.CalculateBounds(lat, lon, meters*1.01+1)

	var out []NearbyStop
	ix.tree.Search(
		[2]float64{b.MinLat, b.MinLon},
		[2]float64{b.MaxLat, b.MaxLon},
		func(_, _ [2]float64, ref StopRef) bool {
			st := ix.trips[ref.TripID].Stops[ref.Index]
			d := geo.Distance(lat, lon, st.StopLat, st.StopLon)
			if d <= meters {
				out = append(out, NearbyStop{StopRef: ref, Stop: st, DistanceM: d})
			}
			return true
		},
	)
	return out
}
