package opt

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronedispatch/internal/geo"
	"dronedispatch/internal/model"
)

var store = geo.Point{Lat: 37.50, Lng: 127.00}

func ids(ds []Destination) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.ID
	}
	return out
}

func TestNearestNeighbor(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		got := NearestNeighbor(store, nil)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("single destination unchanged", func(t *testing.T) {
		in := []Destination{{ID: "o1", Point: geo.Point{Lat: 37.51, Lng: 127.01}}}
		assert.Equal(t, in, NearestNeighbor(store, in))
	})

	t.Run("visits closest first", func(t *testing.T) {
		in := []Destination{
			{ID: "far", Point: geo.Point{Lat: 37.53, Lng: 127.00}},
			{ID: "near", Point: geo.Point{Lat: 37.505, Lng: 127.00}},
			{ID: "mid", Point: geo.Point{Lat: 37.515, Lng: 127.00}},
		}
		assert.Equal(t, []string{"near", "mid", "far"}, ids(NearestNeighbor(store, in)))
	})

	t.Run("ties keep input order", func(t *testing.T) {
		in := []Destination{
			{ID: "east", Point: geo.Point{Lat: 37.50, Lng: 127.01}},
			{ID: "west", Point: geo.Point{Lat: 37.50, Lng: 126.99}},
		}
		assert.Equal(t, "east", NearestNeighbor(store, in)[0].ID)
		in[0], in[1] = in[1], in[0]
		assert.Equal(t, "west", NearestNeighbor(store, in)[0].ID)
	})

	t.Run("output is a permutation", func(t *testing.T) {
		r := rand.New(rand.NewSource(7))
		for n := 0; n < 12; n++ {
			in := make([]Destination, n)
			for i := range in {
				in[i] = Destination{ID: string(rune('a' + i)), Point: geo.Point{Lat: 37.5 + r.Float64()*0.05, Lng: 127 + r.Float64()*0.05}}
			}
			got := NearestNeighbor(store, in)
			assert.ElementsMatch(t, ids(in), ids(got))
		}
	})
}

func TestSequenceTwoOptNeverLonger(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for trial := 0; trial < 20; trial++ {
		in := make([]Destination, 6)
		for i := range in {
			in[i] = Destination{ID: string(rune('a' + i)), Point: geo.Point{Lat: 37.5 + r.Float64()*0.04, Lng: 127 + r.Float64()*0.04}}
		}
		nn := NearestNeighbor(store, in)
		refined := Sequence(store, in, 5)
		assert.ElementsMatch(t, ids(in), ids(refined))
		assert.LessOrEqual(t, TourKm(store, refined), TourKm(store, nn)+1e-9)
	}
}

func TestTwoOptUncrossesTour(t *testing.T) {
	// a square visited corner to corner crosses itself; 2-opt walks the perimeter
	a := Destination{ID: "a", Point: geo.Point{Lat: 37.51, Lng: 127.00}}
	b := Destination{ID: "b", Point: geo.Point{Lat: 37.51, Lng: 127.01}}
	c := Destination{ID: "c", Point: geo.Point{Lat: 37.50, Lng: 127.01}}
	crossed := []Destination{a, c, b}

	got := TwoOpt(store, crossed, 3)
	assert.Less(t, TourKm(store, got), TourKm(store, crossed))
	perimeter := geo.Between(store, a.Point) + geo.Between(a.Point, b.Point) + geo.Between(b.Point, c.Point) + geo.Between(c.Point, store)
	assert.InDelta(t, perimeter, TourKm(store, got), 1e-9)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, ids(got))
	assert.Equal(t, []string{"a", "c", "b"}, ids(crossed), "input is left alone")

	assert.Equal(t, ids(crossed), ids(TwoOpt(store, crossed, 0)))
}

func TestSequenceDefaultsToNearestNeighbor(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	in := make([]Destination, 6)
	for i := range in {
		in[i] = Destination{ID: string(rune('a' + i)), Point: geo.Point{Lat: 37.5 + r.Float64()*0.04, Lng: 127 + r.Float64()*0.04}}
	}
	assert.Equal(t, ids(NearestNeighbor(store, in)), ids(Sequence(store, in, 0)))
}

func TestTourKm(t *testing.T) {
	assert.Equal(t, 0.0, TourKm(store, nil))
	p := geo.Point{Lat: 37.51, Lng: 127.00}
	assert.InDelta(t, 2*geo.Between(store, p), TourKm(store, []Destination{{ID: "x", Point: p}}), 1e-12)
}

func TestRangeModel(t *testing.T) {
	m := DefaultRangeModel()
	assert.InDelta(t, 20.0, m.RawRangeKm(5000), 1e-9)
	assert.InDelta(t, 16.0, m.MaxDistanceKm(5000), 1e-9)
	lim := m.LimitsFor(model.Drone{BatteryCapacity: 5000, MaxPayloadKg: 3.5})
	assert.Equal(t, 3.5, lim.MaxPayloadKg)
	assert.InDelta(t, 16.0, lim.MaxRangeKm, 1e-9)
}

func scenarioCandidates() []Candidate {
	return []Candidate{
		{ID: "O1", Point: geo.Point{Lat: 37.505, Lng: 127.005}, WeightKg: 1},
		{ID: "O2", Point: geo.Point{Lat: 37.510, Lng: 126.995}, WeightKg: 2},
		{ID: "O3", Point: geo.Point{Lat: 37.495, Lng: 127.010}, WeightKg: 1.8},
	}
}

func TestSelectGreedy(t *testing.T) {
	t.Run("payload skips the overflowing order", func(t *testing.T) {
		sel := SelectGreedy(store, Limits{MaxPayloadKg: 4, MaxRangeKm: 50}, scenarioCandidates())
		require.Len(t, sel.Accepted, 2)
		assert.Equal(t, "O1", sel.Accepted[0].ID)
		assert.Equal(t, "O2", sel.Accepted[1].ID)
		assert.InDelta(t, 3.0, sel.WeightKg, 1e-9)
		assert.Equal(t, []Rejection{{ID: "O3", Reason: ReasonPayload}}, sel.Rejected)
	})

	t.Run("later lighter orders are not starved", func(t *testing.T) {
		cands := []Candidate{
			{ID: "a", Point: geo.Point{Lat: 37.505, Lng: 127.0}, WeightKg: 3},
			{ID: "heavy", Point: geo.Point{Lat: 37.506, Lng: 127.0}, WeightKg: 2},
			{ID: "light", Point: geo.Point{Lat: 37.507, Lng: 127.0}, WeightKg: 0.5},
		}
		sel := SelectGreedy(store, Limits{MaxPayloadKg: 4, MaxRangeKm: 50}, cands)
		assert.Equal(t, []string{"a", "light"}, []string{sel.Accepted[0].ID, sel.Accepted[1].ID})
	})

	t.Run("range rejects distant orders", func(t *testing.T) {
		cands := []Candidate{
			{ID: "near", Point: geo.Point{Lat: 37.51, Lng: 127.0}, WeightKg: 1},
			{ID: "far", Point: geo.Point{Lat: 37.60, Lng: 127.0}, WeightKg: 1},
		}
		sel := SelectGreedy(store, Limits{MaxPayloadKg: 10, MaxRangeKm: 5}, cands)
		require.Len(t, sel.Accepted, 1)
		assert.Equal(t, "near", sel.Accepted[0].ID)
		assert.Equal(t, ReasonRange, sel.Rejected[0].Reason)
		assert.LessOrEqual(t, sel.PathKm, 5.0)
	})

	t.Run("nothing fits", func(t *testing.T) {
		sel := SelectGreedy(store, Limits{MaxPayloadKg: 0.5, MaxRangeKm: 50}, scenarioCandidates())
		assert.Empty(t, sel.Accepted)
		assert.Len(t, sel.Rejected, 3)
	})

	t.Run("never exceeds limits", func(t *testing.T) {
		r := rand.New(rand.NewSource(99))
		for trial := 0; trial < 200; trial++ {
			n := r.Intn(10)
			cands := make([]Candidate, n)
			for i := range cands {
				cands[i] = Candidate{
					ID:       string(rune('a' + i)),
					Point:    geo.Point{Lat: 37.5 + (r.Float64()-0.5)*0.1, Lng: 127 + (r.Float64()-0.5)*0.1},
					WeightKg: r.Float64() * 3,
				}
			}
			lim := Limits{MaxPayloadKg: 1 + r.Float64()*5, MaxRangeKm: 2 + r.Float64()*15}
			sel := SelectGreedy(store, lim, cands)
			assert.LessOrEqual(t, sel.WeightKg, lim.MaxPayloadKg+1e-9)
			assert.LessOrEqual(t, TourKm(store, sel.Destinations()), lim.MaxRangeKm+1e-9)
			assert.Equal(t, n, len(sel.Accepted)+len(sel.Rejected))
		}
	})
}

func TestValidateExplicit(t *testing.T) {
	lim := Limits{MaxPayloadKg: 4, MaxRangeKm: 50}

	assert.True(t, errors.Is(ValidateExplicit(store, lim, nil), ErrEmptySelection))
	assert.True(t, errors.Is(ValidateExplicit(store, lim, scenarioCandidates()), ErrPayloadExceeded))
	assert.NoError(t, ValidateExplicit(store, lim, scenarioCandidates()[:2]))

	far := []Candidate{{ID: "far", Point: geo.Point{Lat: 37.80, Lng: 127.0}, WeightKg: 1}}
	assert.True(t, errors.Is(ValidateExplicit(store, lim, far), ErrRangeExceeded))
}
