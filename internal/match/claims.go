package match

import "time"

// Claims is the set of trips a single vehicle run has already walked, with
// the anchor of the latest execution. It is owned by one driver and never
// shared.
type Claims struct {
	reclaimAfter time.Duration
	anchors      map[string]time.Time
}

// NewClaims returns an empty claim set. reclaimAfter of zero makes claims
// permanent for the run.
func NewClaims(reclaimAfter time.Duration) *Claims {
	return &Claims{reclaimAfter: reclaimAfter, anchors: make(map[string]time.Time)}
}

// Blocked reports whether tripID may not be started at anchor.
func (c *Claims) Blocked(tripID string, anchor time.Time) bool {
	prev, ok := c.anchors[tripID]
	if !ok {
		return false
	}
	if c.reclaimAfter <= 0 {
		return true
	}
	return anchor.Sub(prev) < c.reclaimAfter
}

// Claim records an execution of tripID starting at anchor.
func (c *Claims) Claim(tripID string, anchor time.Time) {
	c.anchors[tripID] = anchor
}

// Len returns the number of distinct claimed trips.
func (c *Claims) Len() int { return len(c.anchors) }
