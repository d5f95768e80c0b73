package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-matcher/internal/gtfs"
	"gtfs-matcher/internal/schedule"
)

const (
	lat0 = -22.9
	lon0 = -43.2
	// roughly 1 km at this latitude in either axis
	step = 0.01
)

var serviceDay = time.Date(2019, 1, 25, 0, 0, 0, 0, time.UTC)

type point struct{ lat, lon float64 }

func at(hh, mm int) time.Time {
	return serviceDay.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
}

// eastLine returns n points heading east from the origin shifted by dLat.
func eastLine(n int, dLat float64) []point {
	pts := make([]point, n)
	for i := range pts {
		pts[i] = point{lat0 + dLat, lon0 + float64(i)*step}
	}
	return pts
}

// tripStops builds a trip over pts with one stop every gap.
func tripStops(tripID string, pts []point, gap time.Duration) []gtfs.StopTime {
	out := make([]gtfs.StopTime, len(pts))
	for i, p := range pts {
		out[i] = gtfs.StopTime{
			TripID:       tripID,
			StopSequence: i + 1,
			HasSequence:  true,
			StopID:       tripID + "-S" + string(rune('A'+i)),
			StopLat:      p.lat,
			StopLon:      p.lon,
			Offset:       time.Duration(i) * gap,
			HasOffset:    true,
		}
	}
	return out
}

// followTrace emits one exact fix per point starting at start.
func followTrace(vehicleID string, pts []point, start time.Time, gap time.Duration) []gtfs.Fix {
	out := make([]gtfs.Fix, len(pts))
	for i, p := range pts {
		out[i] = gtfs.Fix{VehicleID: vehicleID, Lat: p.lat, Lon: p.lon, Time: start.Add(time.Duration(i) * gap)}
	}
	return out
}

func buildIndex(t *testing.T, trips ...[]gtfs.StopTime) *schedule.Index {
	t.Helper()
	var rows []gtfs.StopTime
	for _, tr := range trips {
		rows = append(rows, tr...)
	}
	ix, err := schedule.Build(rows)
	require.NoError(t, err)
	return ix
}

func newTestMatcher(t *testing.T, ix *schedule.Index, p Params) *Matcher {
	t.Helper()
	m, err := NewMatcher(ix, p)
	require.NoError(t, err)
	return m
}

// assertRecordContracts checks the properties every output must satisfy
// regardless of which trip was chosen.
func assertRecordContracts(t *testing.T, res *VehicleResult, threshold float64) {
	t.Helper()

	var last *time.Time
	var lastTrip string
	for i, r := range res.Records {
		if i == 0 || r.TripID != lastTrip {
			last = nil
			lastTrip = r.TripID
		}
		if r.MatchedDistanceM != nil {
			assert.LessOrEqual(t, *r.MatchedDistanceM, threshold, "record %d", i)
		}
		if r.PredictedArrival == nil {
			assert.Nil(t, r.ObservedArrival, "record %d", i)
			assert.Nil(t, r.DelayMinutes, "record %d", i)
			assert.Nil(t, r.MatchedDistanceM, "record %d", i)
		}
		if r.ObservedArrival != nil {
			require.NotNil(t, r.DelayMinutes)
			require.NotNil(t, r.MatchedDistanceM)
			if last != nil {
				assert.False(t, r.ObservedArrival.Before(*last), "record %d goes back in time", i)
			}
			last = r.ObservedArrival
		}
	}
}
