package match

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gtfs-matcher/internal/gtfs"
)

func TestCandidates(t *testing.T) {
	t1, t2, _ := forkTrips()
	ix := buildIndex(t, t2, t1)

	fix := gtfs.Fix{Lat: lat0, Lon: lon0 + step, Time: at(8, 5)}
	cands := Candidates(ix, fix, nil, 250)
	require.Len(t, cands, 2)

	assert.Equal(t, "T1", cands[0].TripID)
	assert.Equal(t, "T2", cands[1].TripID)
	for _, c := range cands {
		assert.Equal(t, 1, c.StopIndex)
		// stop 1 is scheduled 3 minutes into the trip
		assert.Equal(t, at(8, 2), c.Anchor)
		assert.InDelta(t, 0, c.DistanceM, 1e-9)
	}

	claims := NewClaims(0)
	claims.Claim("T1", at(6, 0))
	cands = Candidates(ix, fix, claims, 250)
	require.Len(t, cands, 1)
	assert.Equal(t, "T2", cands[0].TripID)

	assert.Empty(t, Candidates(ix, gtfs.Fix{Lat: lat0 - 1, Lon: lon0, Time: at(8, 0)}, nil, 250))
}

func TestCandidatesSkipStopsWithoutOffset(t *testing.T) {
	stops := tripStops("T1", eastLine(2, 0), 3*time.Minute)
	stops[0].HasOffset = false
	ix := buildIndex(t, stops)

	assert.Empty(t, Candidates(ix, gtfs.Fix{Lat: lat0, Lon: lon0, Time: at(8, 0)}, nil, 250))
}

func TestBestPerTrip(t *testing.T) {
	cands := []Candidate{
		{TripID: "A", StopIndex: 0, DistanceM: 20},
		{TripID: "A", StopIndex: 3, DistanceM: 5},
		{TripID: "A", StopIndex: 4, DistanceM: 5},
		{TripID: "B", StopIndex: 1, DistanceM: 7},
	}
	best := bestPerTrip(cands)
	require.Len(t, best, 2)
	assert.Equal(t, 3, best[0].StopIndex, "distance ties keep the lower stop index")
	assert.Equal(t, "B", best[1].TripID)
}

func TestScore(t *testing.T) {
	t1, t2, path := forkTrips()
	ix := buildIndex(t, t1, t2)
	fixes := followTrace("V1", path, at(8, 0), 3*time.Minute)
	cands := Candidates(ix, fixes[0], nil, 250)
	require.Len(t, cands, 2)

	t.Run("Full look-ahead prefers the trip the trace follows", func(t *testing.T) {
		choice, ok := Score(ix, cands, fixes, fixes[0].Time, DefaultParams())
		require.True(t, ok)
		assert.Equal(t, "T2", choice.TripID)
		assert.Equal(t, 5, choice.Matches)
		assert.InDelta(t, 0, choice.Score, 1e-6)
		assert.Equal(t, at(8, 0), choice.Anchor)
	})

	t.Run("Equal scores go to the smaller trip id", func(t *testing.T) {
		p := DefaultParams()
		p.LookaheadStops = 1
		choice, ok := Score(ix, cands, fixes, fixes[0].Time, p)
		require.True(t, ok)
		assert.Equal(t, "T1", choice.TripID)
		assert.Equal(t, 1, choice.Matches)
	})

	t.Run("No candidates", func(t *testing.T) {
		_, ok := Score(ix, nil, fixes, fixes[0].Time, DefaultParams())
		assert.False(t, ok)
	})
}

func TestScoreWithoutLookaheadStopsIsFinite(t *testing.T) {
	pts := eastLine(3, 0)
	ix := buildIndex(t, tripStops("T1", pts, 3*time.Minute))
	fix := gtfs.Fix{Lat: pts[2].lat + 0.0001, Lon: pts[2].lon, Time: at(8, 6)}

	cands := Candidates(ix, fix, nil, 250)
	require.Len(t, cands, 1)

	choice, ok := Score(ix, cands, []gtfs.Fix{fix}, fix.Time, DefaultParams())
	require.True(t, ok)
	assert.Equal(t, 0, choice.Matches)
	assert.InDelta(t, 5*missPenalty+cands[0].DistanceM, choice.Score, 1e-3)
}

func TestScoreSkipsUntimedLookaheadStops(t *testing.T) {
	pts := eastLine(4, 0)
	stops := tripStops("T1", pts, 3*time.Minute)
	stops[1].HasOffset = false
	stops[1].Offset = 0
	ix := buildIndex(t, stops)
	fixes := followTrace("V1", pts, at(8, 0), 3*time.Minute)

	cands := Candidates(ix, fixes[0], nil, 250)
	require.Len(t, cands, 1)

	p := DefaultParams()
	p.LookaheadStops = 2
	choice, ok := Score(ix, cands, fixes, fixes[0].Time, p)
	require.True(t, ok)
	assert.Equal(t, 2, choice.Matches, "stops 2 and 3 fill the look-ahead")
	assert.InDelta(t, 0, choice.Score, 1e-6)
}

// windows lists every tolerance the walker tries under p.
func windows(p Params) []time.Duration {
	var out []time.Duration
	for tol, more := p.InitialTolerance, true; more; tol, more = p.widen(tol) {
		out = append(out, tol)
	}
	return out
}

func TestNearestFix(t *testing.T) {
	fixes := []gtfs.Fix{
		{Lat: lat0, Lon: lon0 + 0.001, Time: at(8, 0)},
		{Lat: lat0, Lon: lon0 - 0.001, Time: at(8, 2)},
		{Lat: lat0, Lon: lon0 + 0.0001, Time: at(8, 4)},
		{Lat: lat0, Lon: lon0, Time: at(8, 30)},
	}

	idx, d, ok := nearestFix(fixes, 0, lat0, lon0, at(8, 2), 2*time.Minute)
	require.True(t, ok)
	assert.Equal(t, 2, idx)
	assert.Less(t, d, 15.0)

	// equal distances keep the earliest fix
	idx, _, ok = nearestFix(fixes, 0, lat0, lon0, at(8, 1), time.Minute)
	require.True(t, ok)
	assert.Equal(t, 0, idx)

	idx, _, ok = nearestFix(fixes, 1, lat0, lon0, at(8, 0), 30*time.Second)
	assert.False(t, ok)
	assert.Equal(t, -1, idx)

	_, _, ok = nearestFix(nil, 0, lat0, lon0, at(8, 0), time.Hour)
	assert.False(t, ok)
}

func TestFirstAfter(t *testing.T) {
	fixes := []gtfs.Fix{{Time: at(8, 0)}, {Time: at(8, 0)}, {Time: at(8, 5)}}
	assert.Equal(t, 2, firstAfter(fixes, at(8, 0)))
	assert.Equal(t, 0, firstAtOrAfter(fixes, at(8, 0)))
	assert.Equal(t, 3, firstAfter(fixes, at(9, 0)))
}

func TestClaims(t *testing.T) {
	c := NewClaims(0)
	assert.False(t, c.Blocked("T1", at(8, 0)))
	c.Claim("T1", at(8, 0))
	assert.True(t, c.Blocked("T1", at(20, 0)))
	assert.Equal(t, 1, c.Len())

	w := NewClaims(time.Hour)
	w.Claim("T1", at(8, 0))
	assert.True(t, w.Blocked("T1", at(8, 59)))
	assert.False(t, w.Blocked("T1", at(9, 0)))
}

func TestParams(t *testing.T) {
	p := DefaultParams()
	require.NoError(t, p.Validate())
	assert.Equal(t, 250.0, p.candidateDistance())
	assert.Equal(t, 375.0, p.relaxedDistance())

	sched := windows(p)
	require.Len(t, sched, 24)
	assert.Equal(t, 5*time.Minute, sched[0])
	assert.Equal(t, 2*time.Hour, sched[len(sched)-1])

	odd := Params{InitialTolerance: 5 * time.Minute, MaxTolerance: 12 * time.Minute, ToleranceStep: 5 * time.Minute}
	assert.Equal(t, []time.Duration{5 * time.Minute, 10 * time.Minute, 12 * time.Minute}, windows(odd))

	single := Params{InitialTolerance: 5 * time.Minute, MaxTolerance: 5 * time.Minute, ToleranceStep: 5 * time.Minute}
	assert.Equal(t, []time.Duration{5 * time.Minute}, windows(single))

	p.CandidateDistanceM = 400
	assert.Equal(t, 400.0, p.candidateDistance())

	invalid := []func(*Params){
		func(p *Params) { p.MatchDistanceM = 0 },
		func(p *Params) { p.CandidateDistanceM = -1 },
		func(p *Params) { p.SequenceDistanceFactor = 0 },
		func(p *Params) { p.LookaheadStops = -1 },
		func(p *Params) { p.LookaheadTolerance = -time.Second },
		func(p *Params) { p.InitialTolerance = -time.Second },
		func(p *Params) { p.MaxTolerance = time.Minute },
		func(p *Params) { p.ToleranceStep = 0 },
		func(p *Params) { p.ToleranceStep = time.Millisecond },
		func(p *Params) { p.ReclaimAfter = -time.Minute },
	}
	for i, mutate := range invalid {
		bad := DefaultParams()
		mutate(&bad)
		assert.Error(t, bad.Validate(), "case %d", i)
	}
}
