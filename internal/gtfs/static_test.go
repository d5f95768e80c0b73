package gtfs

import (
	"testing"
	"time"

	gogtfs "github.com/OneBusAway/go-gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func testStatic() *gogtfs.Static {
	r388 := gogtfs.Route{Id: "R388", ShortName: "388"}
	r100 := gogtfs.Route{Id: "R100", ShortName: "100"}
	stopA := &gogtfs.Stop{Id: "A", Latitude: ptr(-22.90), Longitude: ptr(-43.20)}
	stopB := &gogtfs.Stop{Id: "B", Latitude: ptr(-22.91), Longitude: ptr(-43.21)}
	noCoords := &gogtfs.Stop{Id: "X"}

	return &gogtfs.Static{
		Routes: []gogtfs.Route{r388, r100},
		Trips: []gogtfs.ScheduledTrip{
			{
				ID:    "T1",
				Route: &r388,
				StopTimes: []gogtfs.ScheduledStopTime{
					{Stop: stopA, StopSequence: 1, ArrivalTime: 8 * time.Hour},
					{Stop: noCoords, StopSequence: 2, ArrivalTime: 8*time.Hour + 5*time.Minute},
					{Stop: stopB, StopSequence: 3, DepartureTime: 8*time.Hour + 10*time.Minute},
				},
			},
			{
				ID:    "T2",
				Route: &r100,
				StopTimes: []gogtfs.ScheduledStopTime{
					{Stop: stopA, StopSequence: 1},
				},
			},
		},
	}
}

func TestFlattenStaticFiltersRoute(t *testing.T) {
	rows, err := FlattenStatic(testStatic(), "388")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "T1", rows[0].TripID)
	assert.Equal(t, "A", rows[0].StopID)
	assert.Equal(t, 8*time.Hour, rows[0].Offset)
	assert.True(t, rows[0].HasOffset)
	assert.True(t, rows[0].HasSequence)

	// departure is used when arrival is missing
	assert.Equal(t, "B", rows[1].StopID)
	assert.Equal(t, 8*time.Hour+10*time.Minute, rows[1].Offset)
	assert.Equal(t, 3, rows[1].StopSequence)
}

func TestFlattenStaticAllRoutes(t *testing.T) {
	rows, err := FlattenStatic(testStatic(), "")
	require.NoError(t, err)
	require.Len(t, rows, 5)

	midnight := rows[2]
	assert.Equal(t, "T2", midnight.TripID)
	assert.True(t, midnight.HasOffset, "a first stop at 00:00:00 is timed")
	assert.Equal(t, time.Duration(0), midnight.Offset)

	assert.False(t, rows[3].HasOffset, "later stop without times is untimed")
	assert.True(t, rows[4].HasOffset)
	assert.Equal(t, 10*time.Minute, rows[4].Offset)
}

func TestFlattenStaticUnknownRoute(t *testing.T) {
	_, err := FlattenStatic(testStatic(), "999")
	assert.Error(t, err)
}

func TestLoadStaticFeedMissingFile(t *testing.T) {
	_, err := LoadStaticFeed(t.TempDir()+"/missing.zip", "")
	assert.Error(t, err)
}
