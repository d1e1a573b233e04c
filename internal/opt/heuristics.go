package opt

import (
	"slices"

	"dronedispatch/internal/geo"
)

// TwoOpt shortens the closed tour origin → dests... → origin by reversing any segment whose
// reversal saves distance, for at most passes sweeps or until a sweep changes nothing.
// Each candidate is scored by the two edges it swaps, so a sweep is O(n²). dests is not
// modified.
func TwoOpt(origin geo.Point, dests []Destination, passes int) []Destination {
	tour := slices.Clone(dests)
	at := func(i int) geo.Point {
		if i < 0 || i >= len(tour) {
			return origin
		}
		return tour[i].Point
	}
	for p := 0; p < passes; p++ {
		improved := false
		for i := 0; i < len(tour)-1; i++ {
			for k := i + 1; k < len(tour); k++ {
				// (i-1,i) and (k,k+1) become (i-1,k) and (i,k+1)
				delta := geo.Between(at(i-1), at(k)) + geo.Between(at(i), at(k+1)) -
					geo.Between(at(i-1), at(i)) - geo.Between(at(k), at(k+1))
				if delta < -1e-9 {
					slices.Reverse(tour[i : k+1])
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return tour
}
