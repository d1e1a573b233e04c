package opt

import "dronedispatch/internal/geo"

// Destination is one stop to sequence, identified by its order ID.
type Destination struct {
	ID    string
	Point geo.Point
}

// NearestNeighbor returns dests in visiting order starting from origin: at each step the
// closest unvisited destination is taken. Equal distances keep input order, so callers
// control the tie-break by how they sort dests.
func NearestNeighbor(origin geo.Point, dests []Destination) []Destination {
	if len(dests) == 0 {
		return []Destination{}
	}
	if len(dests) == 1 {
		return []Destination{dests[0]}
	}
	out := make([]Destination, 0, len(dests))
	visited := make([]bool, len(dests))
	cur := origin
	for len(out) < len(dests) {
		best := -1
		bestKm := 0.0
		for i, d := range dests {
			if visited[i] {
				continue
			}
			km := geo.Between(cur, d.Point)
			if best < 0 || km < bestKm {
				best, bestKm = i, km
			}
		}
		visited[best] = true
		out = append(out, dests[best])
		cur = dests[best].Point
	}
	return out
}

// Sequence orders the drops of one route. Nearest neighbour, with ties kept in input order,
// is the dispatch contract: the same pending set always yields the same route, and
// the selector's range check is made against that exact order. With twoOptPasses > 0 the tour
// is then refined by TwoOpt, which only accepts shorter tours; it is off by default so that
// routes stay reproducible from the nearest neighbour rule alone.
func Sequence(origin geo.Point, dests []Destination, twoOptPasses int) []Destination {
	seq := NearestNeighbor(origin, dests)
	if twoOptPasses <= 0 || len(seq) < 3 {
		return seq
	}
	return TwoOpt(origin, seq, twoOptPasses)
}

// TourKm is the closed round trip origin → dests... → origin.
func TourKm(origin geo.Point, dests []Destination) float64 {
	if len(dests) == 0 {
		return 0
	}
	total := 0.0
	cur := origin
	for _, d := range dests {
		total += geo.Between(cur, d.Point)
		cur = d.Point
	}
	return total + geo.Between(cur, origin)
}
