package model

type OrderStatus string

const (
	OrderCreated   OrderStatus = "CREATED"
	OrderAssigned  OrderStatus = "ASSIGNED"
	OrderFulfilled OrderStatus = "FULFILLED"
	OrderCanceled  OrderStatus = "CANCELED"
	OrderFailed    OrderStatus = "FAILED"
)

// CanTransition reports whether the order lifecycle allows moving from s to next.
// Statuses only move forward: CREATED→ASSIGNED→FULFILLED, and CREATED or ASSIGNED may end in FAILED or CANCELED.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	switch s {
	case OrderCreated:
		return next == OrderAssigned || next == OrderFailed || next == OrderCanceled
	case OrderAssigned:
		return next == OrderFulfilled || next == OrderFailed || next == OrderCanceled
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderFulfilled || s == OrderCanceled || s == OrderFailed
}

type DroneStatus string

const (
	DroneIdle        DroneStatus = "IDLE"
	DroneInFlight    DroneStatus = "IN_FLIGHT"
	DroneCharging    DroneStatus = "CHARGING"
	DroneMaintenance DroneStatus = "MAINTENANCE"
	DroneRetired     DroneStatus = "RETIRED"
)

func (s DroneStatus) Valid() bool {
	switch s {
	case DroneIdle, DroneInFlight, DroneCharging, DroneMaintenance, DroneRetired:
		return true
	}
	return false
}

type RouteStatus string

const (
	RoutePlanned    RouteStatus = "PLANNED"
	RouteLaunched   RouteStatus = "LAUNCHED"
	RouteInProgress RouteStatus = "IN_PROGRESS"
	RouteCompleted  RouteStatus = "COMPLETED"
	RouteAborted    RouteStatus = "ABORTED"
)

func (s RouteStatus) Terminal() bool { return s == RouteCompleted || s == RouteAborted }

// Active is true for routes a drone is currently flying or about to fly.
func (s RouteStatus) Active() bool {
	return s == RoutePlanned || s == RouteLaunched || s == RouteInProgress
}

type StopType string

const (
	StopPickup StopType = "PICKUP"
	StopDrop   StopType = "DROP"
	StopReturn StopType = "RETURN"
)

type StopStatus string

const (
	StopPending  StopStatus = "PENDING"
	StopArrived  StopStatus = "ARRIVED"
	StopDeparted StopStatus = "DEPARTED"
	StopSkipped  StopStatus = "SKIPPED"
	StopFailed   StopStatus = "FAILED"
)

// Reached is true once the drone has been at the stop.
func (s StopStatus) Reached() bool { return s == StopArrived || s == StopDeparted }

type FlightResult string

const (
	FlightSuccess       FlightResult = "SUCCESS"
	FlightAborted       FlightResult = "ABORTED"
	FlightEmergencyLand FlightResult = "EMERGENCY_LAND"
)
