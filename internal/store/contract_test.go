package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronedispatch/internal/geo"
	"dronedispatch/internal/model"
)

// fixture seeds one store, one idle drone and two CREATED orders.
type fixture struct {
	store  model.Store
	drone  model.Drone
	orders []model.Order
}

func seedFixture(t *testing.T, s Store) fixture {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st, err := s.CreateStore(ctx, model.Store{Name: "Gangnam", Location: geo.Point{Lat: 37.50, Lng: 127.00}, DeliveryRadiusKm: 5, Active: true})
	require.NoError(t, err)
	d, err := s.CreateDrone(ctx, model.Drone{StoreID: st.ID, Model: "X4", BatteryCapacity: 5000, MaxPayloadKg: 3, RegisteredAt: base})
	require.NoError(t, err)
	require.Equal(t, model.DroneIdle, d.Status)
	var orders []model.Order
	for i, p := range []geo.Point{{Lat: 37.51, Lng: 127.01}, {Lat: 37.49, Lng: 127.02}} {
		o, err := s.CreateOrder(ctx, model.Order{StoreID: st.ID, Dest: p, WeightKg: 1, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
		orders = append(orders, o)
	}
	return fixture{store: st, drone: d, orders: orders}
}

func planFor(f fixture) model.Route {
	stops := []model.RouteStop{{Seq: 1, Type: model.StopPickup, Location: f.store.Location}}
	for i, o := range f.orders {
		stops = append(stops, model.RouteStop{Seq: i + 2, Type: model.StopDrop, Location: o.Dest, OrderID: o.ID, DistanceFromPrevKm: 1.2})
	}
	stops = append(stops, model.RouteStop{Seq: len(stops) + 1, Type: model.StopReturn, Location: f.store.Location, DistanceFromPrevKm: 1.1})
	return model.Route{DroneID: f.drone.ID, StoreID: f.store.ID, Stops: stops, TotalDistanceKm: 3.5, TotalWeightKg: 2, EstimatedDurationMin: 15}
}

// runStoreContract drives a full route lifecycle through any Store implementation.
func runStoreContract(t *testing.T, s Store) {
	ctx := context.Background()
	f := seedFixture(t, s)

	pending, err := s.ListCreatedOrders(ctx, f.store.ID)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, f.orders[0].ID, pending[0].ID)

	idle, err := s.FindIdleDrone(ctx, f.store.ID)
	require.NoError(t, err)
	assert.Equal(t, f.drone.ID, idle.ID)

	r, err := s.CommitAssignment(ctx, planFor(f))
	require.NoError(t, err)
	require.NotEmpty(t, r.ID)
	assert.Equal(t, model.RoutePlanned, r.Status)

	d, err := s.GetDrone(ctx, f.drone.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DroneInFlight, d.Status)
	for _, o := range f.orders {
		got, err := s.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderAssigned, got.Status)
		rid, err := s.RouteForOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, r.ID, rid)
	}

	// second claim of the same drone loses
	_, err = s.CommitAssignment(ctx, planFor(f))
	assert.True(t, errors.Is(err, ErrDroneUnavailable))

	start := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.LaunchRoute(ctx, r.ID, start))
	assert.ErrorIs(t, s.LaunchRoute(ctx, r.ID, start), ErrInvalidTransition)

	require.NoError(t, s.ArriveStop(ctx, r.ID, 1, start))
	require.NoError(t, s.DepartStop(ctx, r.ID, 1, start))
	st, err := s.RouteStatus(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RouteInProgress, st)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendPosition(ctx, model.RoutePosition{RouteID: r.ID, FromSeq: 1, ToSeq: 2, Lat: 37.5 + float64(i)*0.001, Lng: 127, BatteryPct: 100 - float64(i), TS: start.Add(time.Duration(i) * time.Second)}))
	}
	last, err := s.LatestPosition(ctx, r.ID)
	require.NoError(t, err)
	assert.InDelta(t, 98, last.BatteryPct, 1e-9)
	trail, err := s.ListPositions(ctx, r.ID, 2)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Less(t, trail[0].ID, trail[1].ID)

	require.NoError(t, s.ArriveStop(ctx, r.ID, 2, start))
	got, err := s.GetOrder(ctx, f.orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFulfilled, got.Status)
	assert.ErrorIs(t, s.ArriveStop(ctx, r.ID, 2, start), ErrInvalidTransition)
	require.NoError(t, s.DepartStop(ctx, r.ID, 2, start))
	require.NoError(t, s.ArriveStop(ctx, r.ID, 3, start))
	require.NoError(t, s.DepartStop(ctx, r.ID, 3, start))
	require.NoError(t, s.ArriveStop(ctx, r.ID, 4, start))

	active, err := s.ListActiveRoutes(ctx)
	require.NoError(t, err)
	assert.Contains(t, routeIDs(active), r.ID)

	end := start.Add(90 * time.Second)
	require.NoError(t, s.CompleteRoute(ctx, model.FlightLog{RouteID: r.ID, DroneID: f.drone.ID, StartTime: start, EndTime: end, DistanceKm: 3.5, BatteryUsedPct: 18, Result: model.FlightSuccess}))
	assert.ErrorIs(t, s.CompleteRoute(ctx, model.FlightLog{RouteID: r.ID, StartTime: start, EndTime: end}), ErrInvalidTransition)

	done, err := s.GetRoute(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RouteCompleted, done.Status)
	require.NotNil(t, done.ActualDurationMin)
	assert.Equal(t, 2, *done.ActualDurationMin)
	require.Len(t, done.Stops, 4)
	assert.Equal(t, model.StopArrived, done.Stops[3].Status)

	d, err = s.GetDrone(ctx, f.drone.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DroneIdle, d.Status)

	fl, err := s.GetFlightLog(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FlightSuccess, fl.Result)
	assert.Equal(t, 18, fl.BatteryUsedPct)

	active, err = s.ListActiveRoutes(ctx)
	require.NoError(t, err)
	assert.NotContains(t, routeIDs(active), r.ID)
}

func routeIDs(rs []model.Route) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.ID)
	}
	return out
}

func runAbortContract(t *testing.T, s Store) {
	ctx := context.Background()
	f := seedFixture(t, s)
	r, err := s.CommitAssignment(ctx, planFor(f))
	require.NoError(t, err)
	start := time.Now().UTC()
	require.NoError(t, s.LaunchRoute(ctx, r.ID, start))
	require.NoError(t, s.ArriveStop(ctx, r.ID, 1, start))
	require.NoError(t, s.DepartStop(ctx, r.ID, 1, start))
	require.NoError(t, s.ArriveStop(ctx, r.ID, 2, start))

	require.NoError(t, s.AbortRoute(ctx, r.ID, "operator abort"))
	st, err := s.RouteStatus(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RouteAborted, st)
	assert.ErrorIs(t, s.AbortRoute(ctx, r.ID, ""), ErrInvalidTransition)

	require.NoError(t, s.FinishAbortedRoute(ctx, model.FlightLog{RouteID: r.ID, DroneID: f.drone.ID, StartTime: start, EndTime: start.Add(time.Second), Result: model.FlightAborted}, model.DroneIdle))

	first, err := s.GetOrder(ctx, f.orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFulfilled, first.Status)
	second, err := s.GetOrder(ctx, f.orders[1].ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFailed, second.Status)

	route, err := s.GetRoute(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StopSkipped, route.Stops[2].Status)
	assert.Equal(t, model.StopSkipped, route.Stops[3].Status)
	assert.Equal(t, "operator abort", route.Note)

	d, err := s.GetDrone(ctx, f.drone.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DroneIdle, d.Status)
}

func runOrderConflictContract(t *testing.T, s Store) {
	ctx := context.Background()
	f := seedFixture(t, s)
	_, err := s.CancelOrder(ctx, f.orders[1].ID)
	require.NoError(t, err)

	_, err = s.CommitAssignment(ctx, planFor(f))
	assert.ErrorIs(t, err, ErrOrderConflict)

	// nothing from the failed commit is visible
	d, err := s.GetDrone(ctx, f.drone.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DroneIdle, d.Status)
	o, err := s.GetOrder(ctx, f.orders[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCreated, o.Status)
	_, err = s.RouteForOrder(ctx, f.orders[0].ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

// runAbortFinalisedOnceContract finalises an aborted route twice, with the drone already
// claimed by a newer route in between.
func runAbortFinalisedOnceContract(t *testing.T, s Store) {
	ctx := context.Background()
	f := seedFixture(t, s)
	r1, err := s.CommitAssignment(ctx, planFor(f))
	require.NoError(t, err)
	start := time.Now().UTC()
	require.NoError(t, s.LaunchRoute(ctx, r1.ID, start))
	require.NoError(t, s.AbortRoute(ctx, r1.ID, "operator abort"))

	first := model.FlightLog{RouteID: r1.ID, DroneID: f.drone.ID, StartTime: start, EndTime: start.Add(time.Minute), DistanceKm: 2.4, BatteryUsedPct: 12, Result: model.FlightAborted}
	require.NoError(t, s.FinishAbortedRoute(ctx, first, model.DroneIdle))

	o3, err := s.CreateOrder(ctx, model.Order{StoreID: f.store.ID, Dest: geo.Point{Lat: 37.505, Lng: 127.005}, WeightKg: 1})
	require.NoError(t, err)
	r2, err := s.CommitAssignment(ctx, planFor(fixture{store: f.store, drone: f.drone, orders: []model.Order{o3}}))
	require.NoError(t, err)

	late := model.FlightLog{RouteID: r1.ID, DroneID: f.drone.ID, StartTime: start, EndTime: start.Add(2 * time.Minute), Result: model.FlightAborted}
	assert.ErrorIs(t, s.FinishAbortedRoute(ctx, late, model.DroneIdle), ErrInvalidTransition)

	d, err := s.GetDrone(ctx, f.drone.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DroneInFlight, d.Status, "drone of %s must stay claimed", r2.ID)
	l, err := s.GetFlightLog(ctx, r1.ID)
	require.NoError(t, err)
	assert.InDelta(t, 2.4, l.DistanceKm, 1e-9)
	assert.Equal(t, 12, l.BatteryUsedPct)
	_, err = s.FindIdleDrone(ctx, f.store.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
