package store

import (
	"context"
	"errors"
	"time"

	"dronedispatch/internal/model"
)

// Store is the persistence interface used by the dispatcher, the simulator and the API.
// Every method is its own unit of work.
type Store interface {
	// Stores & fleet
	CreateStore(ctx context.Context, s model.Store) (model.Store, error)
	GetStore(ctx context.Context, id string) (model.Store, error)
	ListStores(ctx context.Context) ([]model.Store, error)
	CreateDrone(ctx context.Context, d model.Drone) (model.Drone, error)
	GetDrone(ctx context.Context, id string) (model.Drone, error)
	ListDrones(ctx context.Context, storeID string) ([]model.Drone, error)
	UpdateDroneStatus(ctx context.Context, id string, status model.DroneStatus) (model.Drone, error)
	// FindIdleDrone returns the longest-registered IDLE drone of storeID, or of any store
	// when storeID is empty. ErrNotFound when there is none.
	FindIdleDrone(ctx context.Context, storeID string) (model.Drone, error)

	// Orders
	CreateOrder(ctx context.Context, o model.Order) (model.Order, error)
	GetOrder(ctx context.Context, id string) (model.Order, error)
	GetOrders(ctx context.Context, ids []string) ([]model.Order, error)
	// ListCreatedOrders returns CREATED orders oldest first; empty storeID lists all stores.
	ListCreatedOrders(ctx context.Context, storeID string) ([]model.Order, error)
	CancelOrder(ctx context.Context, id string) (model.Order, error)

	// CommitAssignment persists a PLANNED route with its stops and order links, moves its
	// orders CREATED→ASSIGNED and claims its drone IDLE→IN_FLIGHT, all or nothing.
	CommitAssignment(ctx context.Context, r model.Route) (model.Route, error)

	// Flight transitions
	LaunchRoute(ctx context.Context, routeID string, at time.Time) error
	AppendPosition(ctx context.Context, p model.RoutePosition) error
	ArriveStop(ctx context.Context, routeID string, seq int, at time.Time) error
	DepartStop(ctx context.Context, routeID string, seq int, at time.Time) error
	CompleteRoute(ctx context.Context, log model.FlightLog) error
	AbortRoute(ctx context.Context, routeID, note string) error
	FinishAbortedRoute(ctx context.Context, log model.FlightLog, droneStatus model.DroneStatus) error
	RouteStatus(ctx context.Context, routeID string) (model.RouteStatus, error)

	// Queries
	GetRoute(ctx context.Context, id string) (model.Route, error)
	ListActiveRoutes(ctx context.Context) ([]model.Route, error)
	LatestPosition(ctx context.Context, routeID string) (model.RoutePosition, error)
	ListPositions(ctx context.Context, routeID string, limit int) ([]model.RoutePosition, error)
	RouteForOrder(ctx context.Context, orderID string) (string, error)
	GetFlightLog(ctx context.Context, routeID string) (model.FlightLog, error)
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrDroneUnavailable  = errors.New("drone not available")
	ErrOrderConflict     = errors.New("order no longer pending")
)

func actualMinutes(start, end time.Time) int {
	d := end.Sub(start)
	if d <= 0 {
		return 0
	}
	mins := int(d / time.Minute)
	if d%time.Minute != 0 {
		mins++
	}
	return mins
}
