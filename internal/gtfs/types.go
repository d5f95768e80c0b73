package gtfs

import "time"

// Fix is one timestamped position reported by a vehicle.
type Fix struct {
	VehicleID string
	Lat       float64
	Lon       float64
	Time      time.Time // zero when the source timestamp could not be parsed
}

// StopTime is one scheduled stop of a trip.
type StopTime struct {
	TripID       string
	StopSequence int
	HasSequence  bool
	StopID       string
	StopLat      float64
	StopLon      float64
	Offset       time.Duration // scheduled arrival offset from trip start (can exceed 24h)
	HasOffset    bool
}

// Trip is the ordered stop list sharing a trip id.
type Trip struct {
	TripID string
	Stops  []StopTime
}

// MatchRecord is one output row: a scheduled stop paired with the inferred
// real arrival, if any.
type MatchRecord struct {
	VehicleID        string
	TripID           string
	StopSequence     int
	StopID           string
	StopLat          float64
	StopLon          float64
	PredictedArrival *time.Time
	ObservedArrival  *time.Time
	ObservedLat      *float64
	ObservedLon      *float64
	DelayMinutes     *float64
	MatchedDistanceM *float64

	TripMatchFraction float64  // matched stops / total stops, rounded to 2 decimals
	TripAvgDistanceM  *float64 // nil when no stop matched
}

// Matched reports whether the record carries an observed arrival.
func (r MatchRecord) Matched() bool { return r.ObservedArrival != nil }
