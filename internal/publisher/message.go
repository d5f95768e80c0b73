package publisher

import (
	"math"
	"time"

	polyline "github.com/twpayne/go-polyline"

	"gtfs-matcher/internal/gtfs"
)

// StopMessage is one scheduled stop inside a trip message.
type StopMessage struct {
	StopID           string     `json:"stopId"`
	Sequence         int        `json:"sequence"`
	Predicted        *time.Time `json:"predicted,omitempty"`
	Observed         *time.Time `json:"observed,omitempty"`
	DelayMinutes     *float64   `json:"delayMin,omitempty"`
	MatchedDistanceM *float64   `json:"matchedDistanceM,omitempty"`
}

// TripMatchMessage summarises one walked trip of a vehicle.
type TripMatchMessage struct {
	VehicleID     string        `json:"vehicleId"`
	TripID        string        `json:"tripId"`
	Stops         int           `json:"stops"`
	MatchedStops  int           `json:"matchedStops"`
	MatchFraction float64       `json:"matchFraction"`
	AvgDistanceM  *float64      `json:"avgDistanceM,omitempty"`
	MeanDelayMin  *float64      `json:"meanDelayMin,omitempty"`
	FirstObserved *time.Time    `json:"firstObserved,omitempty"`
	LastObserved  *time.Time    `json:"lastObserved,omitempty"`
	Path          string        `json:"path,omitempty"` // encoded polyline of observed positions
	StopList      []StopMessage `json:"stopList"`
}

// BuildTripMessages groups records into one message per walked trip. A new
// trip starts when the vehicle or trip id changes or the stop sequence stops
// increasing. Trips without any matched stop are skipped.
func BuildTripMessages(records []gtfs.MatchRecord) []TripMatchMessage {
	var out []TripMatchMessage
	start := 0
	for i := 1; i <= len(records); i++ {
		if i < len(records) {
			prev, r := records[i-1], records[i]
			if prev.VehicleID == r.VehicleID && prev.TripID == r.TripID && r.StopSequence > prev.StopSequence {
				continue
			}
		}
		if msg, ok := tripMessage(records[start:i]); ok {
			out = append(out, msg)
		}
		start = i
	}
	return out
}

func tripMessage(group []gtfs.MatchRecord) (TripMatchMessage, bool) {
	if len(group) == 0 {
		return TripMatchMessage{}, false
	}
	first := group[0]
	msg := TripMatchMessage{
		VehicleID:     first.VehicleID,
		TripID:        first.TripID,
		Stops:         len(group),
		MatchFraction: first.TripMatchFraction,
		AvgDistanceM:  first.TripAvgDistanceM,
		StopList:      make([]StopMessage, 0, len(group)),
	}
	var (
		coords   [][]float64
		delaySum float64
		delays   int
	)
	for _, r := range group {
		msg.StopList = append(msg.StopList, StopMessage{
			StopID:           r.StopID,
			Sequence:         r.StopSequence,
			Predicted:        r.PredictedArrival,
			Observed:         r.ObservedArrival,
			DelayMinutes:     r.DelayMinutes,
			MatchedDistanceM: r.MatchedDistanceM,
		})
		if !r.Matched() {
			continue
		}
		msg.MatchedStops++
		if msg.FirstObserved == nil {
			msg.FirstObserved = r.ObservedArrival
		}
		msg.LastObserved = r.ObservedArrival
		if r.DelayMinutes != nil {
			delaySum += *r.DelayMinutes
			delays++
		}
		if r.ObservedLat != nil && r.ObservedLon != nil {
			coords = append(coords, []float64{*r.ObservedLat, *r.ObservedLon})
		}
	}
	if msg.MatchedStops == 0 {
		return TripMatchMessage{}, false
	}
	if delays > 0 {
		mean := math.Round(delaySum/float64(delays)*100) / 100
		msg.MeanDelayMin = &mean
	}
	if len(coords) > 0 {
		msg.Path = string(polyline.EncodeCoords(coords))
	}
	return msg, true
}
