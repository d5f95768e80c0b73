package match

import (
	"sort"
	"time"

	"gtfs-matcher/internal/geo"
	"gtfs-matcher/internal/gtfs"
)

// firstAfter returns the index of the first fix strictly after t, or len(fixes).
func firstAfter(fixes []gtfs.Fix, t time.Time) int {
	return sort.Search(len(fixes), func(i int) bool { return fixes[i].Time.After(t) })
}

// firstAtOrAfter returns the index of the first fix at or after t, or len(fixes).
func firstAtOrAfter(fixes []gtfs.Fix, t time.Time) int {
	return sort.Search(len(fixes), func(i int) bool { return !fixes[i].Time.Before(t) })
}

// nearestFix finds, among fixes[from:] whose time lies in [ref-tol, ref+tol],
// the one closest to (lat, lon). fixes must be sorted by time. The window is
// located with two binary searches and then scanned, so the cost is
// O(log n + w) for a window of w fixes. Equal distances keep the earliest fix.
func nearestFix(fixes []gtfs.Fix, from int, lat, lon float64, ref time.Time, tol time.Duration) (idx int, dist float64, ok bool) {
	lo := firstAtOrAfter(fixes, ref.Add(-tol))
	if lo < from {
		lo = from
	}
	hi := firstAfter(fixes, ref.Add(tol))

	idx = -1
	for i := lo; i < hi; i++ {
		d := geo.Distance(lat, lon, fixes[i].Lat, fixes[i].Lon)
		if idx < 0 || d < dist {
			idx, dist = i, d
		}
	}
	return idx, dist, idx >= 0
}
