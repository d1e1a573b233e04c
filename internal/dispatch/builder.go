package dispatch

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"dronedispatch/internal/geo"
	"dronedispatch/internal/model"
	"dronedispatch/internal/opt"
)

// Params are the flight-time assumptions used for the estimated duration.
type Params struct {
	CruiseSpeedKmh  float64
	StopHandlingMin int
}

func DefaultParams() Params { return Params{CruiseSpeedKmh: 30, StopHandlingMin: 2} }

// BuildRoute lays out PICKUP at the store, one DROP per order in the given order, and RETURN
// to the store. The route is PLANNED with every stop PENDING; nothing is persisted here.
func BuildRoute(st model.Store, d model.Drone, orders []model.Order, p Params, now time.Time) (model.Route, error) {
	if len(orders) == 0 {
		return model.Route{}, opt.ErrEmptySelection
	}
	if p.CruiseSpeedKmh <= 0 {
		p = DefaultParams()
	}

	stops := make([]model.RouteStop, 0, len(orders)+2)
	stops = append(stops, model.RouteStop{Seq: 1, Type: model.StopPickup, Location: st.Location, Status: model.StopPending})

	cur := st.Location
	total := 0.0
	weight := decimal.Zero
	for _, o := range orders {
		if o.StoreID != st.ID {
			return model.Route{}, fmt.Errorf("order %s: %w", o.ID, ErrMixedStores)
		}
		leg := geo.Between(cur, o.Dest)
		total += leg
		weight = weight.Add(decimal.NewFromFloat(o.WeightKg))
		stops = append(stops, model.RouteStop{
			Seq:                len(stops) + 1,
			Type:               model.StopDrop,
			Location:           o.Dest,
			DistanceFromPrevKm: round(leg, 2),
			OrderID:            o.ID,
			Status:             model.StopPending,
		})
		cur = o.Dest
	}
	back := geo.Between(cur, st.Location)
	total += back
	stops = append(stops, model.RouteStop{
		Seq:                len(stops) + 1,
		Type:               model.StopReturn,
		Location:           st.Location,
		DistanceFromPrevKm: round(back, 2),
		Status:             model.StopPending,
	})

	w, _ := weight.Round(3).Float64()
	return model.Route{
		DroneID:              d.ID,
		StoreID:              st.ID,
		Stops:                stops,
		TotalDistanceKm:      round(total, 2),
		TotalWeightKg:        w,
		EstimatedDurationMin: EstimateMinutes(total, len(stops), p),
		Status:               model.RoutePlanned,
		Note:                 "Batch processed at " + now.UTC().Format(time.RFC3339),
		CreatedAt:            now,
	}, nil
}

// EstimateMinutes is flying time at cruise speed rounded up, plus a fixed handling delay per stop.
func EstimateMinutes(distanceKm float64, stopCount int, p Params) int {
	if p.CruiseSpeedKmh <= 0 {
		p = DefaultParams()
	}
	flying := int(math.Ceil(distanceKm / p.CruiseSpeedKmh * 60))
	return flying + p.StopHandlingMin*stopCount
}

func round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
