package match

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"gtfs-matcher/internal/geo"
	"gtfs-matcher/internal/gtfs"
	"gtfs-matcher/internal/logging"
	"gtfs-matcher/internal/schedule"
)

// State is the phase of the per-vehicle segmentation loop.
type State int

const (
	Scanning State = iota
	Walking
	Done
)

func (s State) String() string {
	switch s {
	case Scanning:
		return "scanning"
	case Walking:
		return "walking"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Episode describes one trip walked by a vehicle.
type Episode struct {
	TripID   string
	Anchor   time.Time
	StartFix int
	Score    float64
	Matched  int
	Stops    int
}

// VehicleResult is everything produced for one vehicle.
type VehicleResult struct {
	VehicleID    string
	Records      []gtfs.MatchRecord
	Episodes     []Episode
	DroppedFixes int // fixes without a usable timestamp
	ScannedFixes int
}

// Matcher runs the segmentation loop against a shared schedule index. It is
// safe for concurrent use; all per-vehicle state lives in MatchVehicle.
type Matcher struct {
	index  *schedule.Index
	params Params
}

// NewMatcher validates p and returns a matcher over ix.
func NewMatcher(ix *schedule.Index, p Params) (*Matcher, error) {
	if ix == nil {
		return nil, fmt.Errorf("nil schedule index")
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid match params: %w", err)
	}
	return &Matcher{index: ix, params: p}, nil
}

// Params returns the matcher tuning.
func (m *Matcher) Params() Params { return m.params }

// prepareTrace drops fixes without a timestamp, rejects bad coordinates and
// returns a time-sorted copy.
func prepareTrace(fixes []gtfs.Fix) ([]gtfs.Fix, int, error) {
	out := make([]gtfs.Fix, 0, len(fixes))
	dropped := 0
	for i, f := range fixes {
		if f.Time.IsZero() {
			dropped++
			continue
		}
		if !geo.ValidCoordinate(f.Lat, f.Lon) {
			return nil, dropped, fmt.Errorf("fix %d (%v, %v): %w", i, f.Lat, f.Lon, ErrInvalidFix)
		}
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, dropped, nil
}

// MatchVehicle segments one vehicle's trace into trip executions. The context
// is checked between state transitions.
func (m *Matcher) MatchVehicle(ctx context.Context, vehicleID string, fixes []gtfs.Fix) (*VehicleResult, error) {
	logger := logging.FromContext(ctx).With(
		slog.String("component", "matcher"),
		slog.String("vehicle_id", vehicleID),
	)

	trace, dropped, err := prepareTrace(fixes)
	if err != nil {
		return nil, fmt.Errorf("vehicle %s: %w", vehicleID, err)
	}
	res := &VehicleResult{VehicleID: vehicleID, DroppedFixes: dropped}
	if dropped > 0 {
		logger.Warn("dropped fixes without timestamp", slog.Int("count", dropped))
	}

	w := newWalker(trace, m.params)
	claims := NewClaims(m.params.ReclaimAfter)
	candidateDist := m.params.candidateDistance()

	state := Scanning
	pointer := 0
	var choice Choice

	for state != Done {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("vehicle %s at fix %d/%d: %w", vehicleID, pointer, len(trace), err)
		}

		switch state {
		case Scanning:
			if pointer >= len(trace) {
				state = Done
				continue
			}
			res.ScannedFixes++
			ref := trace[pointer]
			cands := Candidates(m.index, ref, claims, candidateDist)
			if len(cands) == 0 {
				pointer++
				continue
			}
			c, ok := Score(m.index, cands, trace, ref.Time, m.params)
			if !ok {
				pointer++
				continue
			}
			choice = c
			state = Walking

		case Walking:
			trip, _ := m.index.Trip(choice.TripID)
			start := trace[pointer].Time
			walked := w.walk(vehicleID, trip, choice.Anchor, start)
			claims.Claim(choice.TripID, choice.Anchor)

			res.Records = append(res.Records, walked.Records...)
			res.Episodes = append(res.Episodes, Episode{
				TripID:   choice.TripID,
				Anchor:   choice.Anchor,
				StartFix: pointer,
				Score:    choice.Score,
				Matched:  walked.Matched,
				Stops:    len(trip.Stops),
			})
			logger.Debug("trip walked",
				slog.String("trip_id", choice.TripID),
				slog.Time("anchor", choice.Anchor),
				slog.Int("lookahead_matches", choice.Matches),
				slog.Float64("score", choice.Score),
				slog.Int("matched_stops", walked.Matched),
				slog.Int("stops", len(trip.Stops)))

			next := firstAfter(trace, walked.Cursor)
			if next <= pointer {
				next = pointer + 1
			}
			pointer = next
			state = Scanning
		}
	}
	return res, nil
}
