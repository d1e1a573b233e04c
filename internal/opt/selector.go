package opt

import (
	"errors"
	"fmt"

	"dronedispatch/internal/geo"
	"dronedispatch/internal/model"
)

var (
	ErrEmptySelection  = errors.New("empty selection")
	ErrPayloadExceeded = errors.New("payload exceeded")
	ErrRangeExceeded   = errors.New("range exceeded")
)

// Rejection reasons reported by SelectGreedy.
const (
	ReasonPayload = "payload"
	ReasonRange   = "range"
)

const eps = 1e-9

// RangeModel converts battery capacity into flyable distance with a linear model.
type RangeModel struct {
	DistancePerUnit float64 // km per mAh
	SafetyMargin    float64 // fraction of the raw range that may be planned, < 1
}

func DefaultRangeModel() RangeModel {
	return RangeModel{DistancePerUnit: 0.004, SafetyMargin: 0.8}
}

// RawRangeKm is the distance a full battery covers with no reserve.
func (m RangeModel) RawRangeKm(batteryCapacity int) float64 {
	return float64(batteryCapacity) * m.DistancePerUnit
}

// MaxDistanceKm is the safe range: capacity × distance per unit × safety margin.
func (m RangeModel) MaxDistanceKm(batteryCapacity int) float64 {
	return m.RawRangeKm(batteryCapacity) * m.SafetyMargin
}

// Limits are the two constraints a batch must satisfy for one drone.
type Limits struct {
	MaxPayloadKg float64
	MaxRangeKm   float64
}

func (m RangeModel) LimitsFor(d model.Drone) Limits {
	return Limits{MaxPayloadKg: d.MaxPayloadKg, MaxRangeKm: m.MaxDistanceKm(d.BatteryCapacity)}
}

// Candidate is an order as seen by the selector.
type Candidate struct {
	ID       string
	Point    geo.Point
	WeightKg float64
}

func (c Candidate) Destination() Destination { return Destination{ID: c.ID, Point: c.Point} }

func CandidateFromOrder(o model.Order) Candidate {
	return Candidate{ID: o.ID, Point: o.Dest, WeightKg: o.WeightKg}
}

type Rejection struct {
	ID     string
	Reason string
}

// Selection is the outcome of SelectGreedy. PathKm is the round trip through the
// accepted candidates in arrival order.
type Selection struct {
	Accepted []Candidate
	Rejected []Rejection
	WeightKg float64
	PathKm   float64
}

func (s Selection) Destinations() []Destination {
	out := make([]Destination, len(s.Accepted))
	for i, c := range s.Accepted {
		out[i] = c.Destination()
	}
	return out
}

// SelectGreedy walks candidates in the given order and keeps each one that still fits:
// cumulative weight within payload, and the path so far plus the leg to the candidate
// plus the leg home within range. Candidates that do not fit are skipped and later ones
// are still considered.
func SelectGreedy(origin geo.Point, lim Limits, candidates []Candidate) Selection {
	sel := Selection{}
	cur := origin
	outbound := 0.0
	for _, c := range candidates {
		if sel.WeightKg+c.WeightKg > lim.MaxPayloadKg+eps {
			sel.Rejected = append(sel.Rejected, Rejection{ID: c.ID, Reason: ReasonPayload})
			continue
		}
		leg := geo.Between(cur, c.Point)
		home := geo.Between(c.Point, origin)
		if outbound+leg+home > lim.MaxRangeKm+eps {
			sel.Rejected = append(sel.Rejected, Rejection{ID: c.ID, Reason: ReasonRange})
			continue
		}
		sel.Accepted = append(sel.Accepted, c)
		sel.WeightKg += c.WeightKg
		outbound += leg
		sel.PathKm = outbound + home
		cur = c.Point
	}
	return sel
}

// ValidateExplicit checks a hand-picked batch as a whole: total weight against payload and
// the nearest-neighbour round trip against range. Any violation fails the whole batch.
func ValidateExplicit(origin geo.Point, lim Limits, candidates []Candidate) error {
	if len(candidates) == 0 {
		return ErrEmptySelection
	}
	total := 0.0
	dests := make([]Destination, len(candidates))
	for i, c := range candidates {
		total += c.WeightKg
		dests[i] = c.Destination()
	}
	if total > lim.MaxPayloadKg+eps {
		return fmt.Errorf("%w: %.3fkg > %.3fkg", ErrPayloadExceeded, total, lim.MaxPayloadKg)
	}
	if km := TourKm(origin, NearestNeighbor(origin, dests)); km > lim.MaxRangeKm+eps {
		return fmt.Errorf("%w: %.2fkm > %.2fkm", ErrRangeExceeded, km, lim.MaxRangeKm)
	}
	return nil
}
