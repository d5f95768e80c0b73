// Package match infers which scheduled trips a vehicle ran from its GPS trace
// and aligns every scheduled stop with an observed arrival.
package match

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidFix is returned when a trace contains a fix with unusable coordinates.
var ErrInvalidFix = errors.New("invalid fix")

// Params tunes the matcher. Zero CandidateDistanceM means "same as MatchDistanceM".
type Params struct {
	MatchDistanceM         float64
	CandidateDistanceM     float64
	SequenceDistanceFactor float64

	LookaheadStops     int
	LookaheadTolerance time.Duration

	InitialTolerance time.Duration
	MaxTolerance     time.Duration
	ToleranceStep    time.Duration

	// ReclaimAfter lets a vehicle run an already claimed trip again when the
	// new anchor is at least this far after the previous one. Zero keeps trips
	// exclusive for the whole run.
	ReclaimAfter time.Duration
}

// DefaultParams returns the stock tuning.
func DefaultParams() Params {
	return Params{
		MatchDistanceM:         250,
		SequenceDistanceFactor: 1.5,
		LookaheadStops:         5,
		LookaheadTolerance:     20 * time.Minute,
		InitialTolerance:       5 * time.Minute,
		MaxTolerance:           2 * time.Hour,
		ToleranceStep:          5 * time.Minute,
	}
}

// Validate checks that every parameter is usable.
func (p Params) Validate() error {
	switch {
	case p.MatchDistanceM <= 0:
		return fmt.Errorf("match distance must be positive, got %v", p.MatchDistanceM)
	case p.CandidateDistanceM < 0:
		return fmt.Errorf("candidate distance must not be negative, got %v", p.CandidateDistanceM)
	case p.SequenceDistanceFactor <= 0:
		return fmt.Errorf("sequence distance factor must be positive, got %v", p.SequenceDistanceFactor)
	case p.LookaheadStops < 0:
		return fmt.Errorf("look-ahead stops must not be negative, got %d", p.LookaheadStops)
	case p.LookaheadTolerance < 0:
		return fmt.Errorf("look-ahead tolerance must not be negative, got %s", p.LookaheadTolerance)
	case p.InitialTolerance < 0:
		return fmt.Errorf("initial tolerance must not be negative, got %s", p.InitialTolerance)
	case p.MaxTolerance < p.InitialTolerance:
		return fmt.Errorf("max tolerance %s is below initial tolerance %s", p.MaxTolerance, p.InitialTolerance)
	case p.ToleranceStep < time.Second:
		return fmt.Errorf("tolerance step must be at least 1s, got %s", p.ToleranceStep)
	case p.ReclaimAfter < 0:
		return fmt.Errorf("reclaim window must not be negative, got %s", p.ReclaimAfter)
	}
	return nil
}

func (p Params) candidateDistance() float64 {
	if p.CandidateDistanceM > 0 {
		return p.CandidateDistanceM
	}
	return p.MatchDistanceM
}

func (p Params) relaxedDistance() float64 {
	return p.MatchDistanceM * p.SequenceDistanceFactor
}

// widen returns the window that follows tol, capped at the maximum. more is
// false once tol has reached the maximum.
func (p Params) widen(tol time.Duration) (next time.Duration, more bool) {
	if tol >= p.MaxTolerance {
		return tol, false
	}
	next = tol + p.ToleranceStep
	if next > p.MaxTolerance {
		next = p.MaxTolerance
	}
	return next, true
}
