package api

import (
	"errors"
	"math"
	"strings"

	"dronedispatch/internal/geo"
	"dronedispatch/internal/model"
)

var errOutsideRadius = errors.New("destination outside delivery radius")

type storeIn struct {
	ID               string    `json:"id,omitempty"`
	Name             string    `json:"name"`
	Location         geo.Point `json:"location"`
	DeliveryRadiusKm float64   `json:"deliveryRadiusKm"`
	Active           *bool     `json:"active,omitempty"`
}

type droneIn struct {
	ID              string  `json:"id,omitempty"`
	StoreID         string  `json:"storeId"`
	Model           string  `json:"model"`
	BatteryCapacity int     `json:"batteryCapacity"`
	MaxPayloadKg    float64 `json:"maxPayloadKg"`
}

func validPoint(p geo.Point) bool {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

func validateStoreIn(in *storeIn) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return invalid("name is required")
	}
	if !validPoint(in.Location) {
		return invalid("location is out of range")
	}
	if in.DeliveryRadiusKm <= 0 {
		return invalid("deliveryRadiusKm must be > 0")
	}
	return nil
}

func validateDroneIn(in *droneIn) error {
	if strings.TrimSpace(in.StoreID) == "" {
		return invalid("storeId is required")
	}
	if in.BatteryCapacity <= 0 {
		return invalid("batteryCapacity must be > 0")
	}
	if in.MaxPayloadKg <= 0 {
		return invalid("maxPayloadKg must be > 0")
	}
	return nil
}

func validateOrderIn(in *model.OrderIn) error {
	if strings.TrimSpace(in.StoreID) == "" {
		return invalid("storeId is required")
	}
	if !validPoint(in.Dest) {
		return invalid("dest is out of range")
	}
	if in.WeightKg <= 0 || math.IsNaN(in.WeightKg) {
		return invalid("weightKg must be > 0")
	}
	if in.AmountTotal < 0 || in.ItemCount < 0 {
		return invalid("amountTotal and itemCount must be >= 0")
	}
	return nil
}

func validateDroneStatus(s model.DroneStatus) error {
	if !s.Valid() {
		return invalid("unknown drone status %q", s)
	}
	if s == model.DroneInFlight {
		return invalid("IN_FLIGHT is set by dispatch only")
	}
	return nil
}
