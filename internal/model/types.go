package model

import (
	"time"

	"dronedispatch/internal/geo"
)

// Core domain types shared by the dispatcher, simulator, store and API.

type Store struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Location         geo.Point `json:"location"`
	DeliveryRadiusKm float64   `json:"deliveryRadiusKm"`
	Active           bool      `json:"active"`
	CreatedAt        time.Time `json:"createdAt"`
}

type Drone struct {
	ID              string      `json:"id"`
	StoreID         string      `json:"storeId"`
	Model           string      `json:"model"`
	BatteryCapacity int         `json:"batteryCapacity"` // mAh
	MaxPayloadKg    float64     `json:"maxPayloadKg"`
	Status          DroneStatus `json:"status"`
	RegisteredAt    time.Time   `json:"registeredAt"`
}

type Order struct {
	ID          string      `json:"id"`
	StoreID     string      `json:"storeId"`
	CustomerRef string      `json:"customerRef,omitempty"`
	Dest        geo.Point   `json:"dest"`
	WeightKg    float64     `json:"weightKg"`
	AmountTotal int64       `json:"amountTotal"`
	ItemCount   int         `json:"itemCount"`
	Note        string      `json:"note,omitempty"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	AssignedAt  *time.Time  `json:"assignedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

type OrderIn struct {
	StoreID     string    `json:"storeId"`
	CustomerRef string    `json:"customerRef,omitempty"`
	Dest        geo.Point `json:"dest"`
	WeightKg    float64   `json:"weightKg"`
	AmountTotal int64     `json:"amountTotal,omitempty"`
	ItemCount   int       `json:"itemCount,omitempty"`
	Note        string    `json:"note,omitempty"`
}

type Route struct {
	ID                   string      `json:"id"`
	DroneID              string      `json:"droneId"`
	StoreID              string      `json:"storeId"`
	Stops                []RouteStop `json:"stops"`
	TotalDistanceKm      float64     `json:"totalDistanceKm"`
	TotalWeightKg        float64     `json:"totalWeightKg"`
	EstimatedDurationMin int         `json:"estimatedDurationMin"`
	ActualDurationMin    *int        `json:"actualDurationMin,omitempty"`
	Status               RouteStatus `json:"status"`
	Note                 string      `json:"note,omitempty"`
	CreatedAt            time.Time   `json:"createdAt"`
	LaunchedAt           *time.Time  `json:"launchedAt,omitempty"`
	CompletedAt          *time.Time  `json:"completedAt,omitempty"`
}

// OrderIDs lists the orders carried by the route in drop order.
func (r Route) OrderIDs() []string {
	out := make([]string, 0, len(r.Stops))
	for _, s := range r.Stops {
		if s.Type == StopDrop && s.OrderID != "" {
			out = append(out, s.OrderID)
		}
	}
	return out
}

type RouteStop struct {
	ID                 string     `json:"id"`
	RouteID            string     `json:"routeId"`
	Seq                int        `json:"seq"`
	Type               StopType   `json:"type"`
	Location           geo.Point  `json:"location"`
	DistanceFromPrevKm float64    `json:"distanceFromPrevKm"`
	OrderID            string     `json:"orderId,omitempty"`
	Status             StopStatus `json:"status"`
	ArrivedAt          *time.Time `json:"arrivedAt,omitempty"`
	DepartedAt         *time.Time `json:"departedAt,omitempty"`
}

// RoutePosition is one sample of the append-only position trail.
type RoutePosition struct {
	ID         int64     `json:"id"`
	RouteID    string    `json:"routeId"`
	FromSeq    int       `json:"fromSeq,omitempty"` // 0 while leaving the store
	ToSeq      int       `json:"toSeq"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	SpeedMps   float64   `json:"speedMps"`
	BatteryPct float64   `json:"batteryPct"`
	TS         time.Time `json:"ts"`
}

type FlightLog struct {
	ID             string       `json:"id"`
	RouteID        string       `json:"routeId"`
	DroneID        string       `json:"droneId"`
	StartTime      time.Time    `json:"startTime"`
	EndTime        time.Time    `json:"endTime"`
	DistanceKm     float64      `json:"distanceKm"`
	BatteryUsedPct int          `json:"batteryUsedPct"`
	Result         FlightResult `json:"result"`
	Note           string       `json:"note,omitempty"`
}

// Duration is the wall-clock length of the flight.
func (f FlightLog) Duration() time.Duration { return f.EndTime.Sub(f.StartTime) }
