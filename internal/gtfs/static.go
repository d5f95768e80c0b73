package gtfs

import (
	"fmt"
	"log/slog"
	"os"

	gogtfs "github.com/OneBusAway/go-gtfs"
)

// LoadStaticFeed reads a GTFS zip and flattens the stop times of every trip
// into StopTime rows. When routeShortName is set only trips of that route are
// returned; an unknown route is an error.
func LoadStaticFeed(path, routeShortName string) ([]StopTime, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading local GTFS file: %w", err)
	}
	static, err := gogtfs.ParseStatic(b, gogtfs.ParseStaticOptions{})
	if err != nil {
		return nil, fmt.Errorf("error parsing GTFS data: %w", err)
	}
	return FlattenStatic(static, routeShortName)
}

// FlattenStatic converts parsed GTFS data into StopTime rows.
func FlattenStatic(static *gogtfs.Static, routeShortName string) ([]StopTime, error) {
	routeIDs := make(map[string]bool)
	if routeShortName != "" {
		for _, r := range static.Routes {
			if r.ShortName == routeShortName {
				routeIDs[r.Id] = true
			}
		}
		if len(routeIDs) == 0 {
			return nil, fmt.Errorf("route %q not found in GTFS feed", routeShortName)
		}
	}

	logger := slog.Default().With(slog.String("component", "gtfs_static"))

	var out []StopTime
	skipped := 0
	for _, trip := range static.Trips {
		if routeShortName != "" && (trip.Route == nil || !routeIDs[trip.Route.Id]) {
			continue
		}
		for j, st := range trip.StopTimes {
			if st.Stop == nil || st.Stop.Latitude == nil || st.Stop.Longitude == nil {
				skipped++
				continue
			}
			// go-gtfs reads a missing time as zero. The first stop of a trip
			// must be timed, so zero there is midnight; later zeros are untimed.
			offset := st.ArrivalTime
			if offset == 0 {
				offset = st.DepartureTime
			}
			out = append(out, StopTime{
				TripID:       trip.ID,
				StopSequence: st.StopSequence,
				HasSequence:  true,
				StopID:       st.Stop.Id,
				StopLat:      *st.Stop.Latitude,
				StopLon:      *st.Stop.Longitude,
				Offset:       offset,
				HasOffset:    offset > 0 || j == 0,
			})
		}
	}
	if skipped > 0 {
		logger.Warn("skipped stop times without coordinates", slog.Int("count", skipped))
	}
	return out, nil
}
