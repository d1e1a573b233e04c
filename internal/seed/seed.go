// Package seed loads stores, drones and orders from a YAML fixture, for demos and local runs.
package seed

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"dronedispatch/internal/geo"
	"dronedispatch/internal/model"
	"dronedispatch/internal/store"
)

type Fixture struct {
	Stores []StoreFixture `yaml:"stores"`
}

type StoreFixture struct {
	ID               string         `yaml:"id"`
	Name             string         `yaml:"name"`
	Lat              float64        `yaml:"lat"`
	Lng              float64        `yaml:"lng"`
	DeliveryRadiusKm float64        `yaml:"delivery_radius_km"`
	Active           *bool          `yaml:"active"`
	Drones           []DroneFixture `yaml:"drones"`
	Orders           []OrderFixture `yaml:"orders"`
}

type DroneFixture struct {
	ID              string  `yaml:"id"`
	Model           string  `yaml:"model"`
	BatteryCapacity int     `yaml:"battery_capacity"`
	MaxPayloadKg    float64 `yaml:"max_payload_kg"`
}

type OrderFixture struct {
	ID          string  `yaml:"id"`
	CustomerRef string  `yaml:"customer_ref"`
	Lat         float64 `yaml:"lat"`
	Lng         float64 `yaml:"lng"`
	WeightKg    float64 `yaml:"weight_kg"`
	ItemCount   int     `yaml:"item_count"`
}

// Counts reports what Apply created.
type Counts struct {
	Stores int
	Drones int
	Orders int
}

func LoadFile(path string) (Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Fixture{}, err
	}
	return Parse(data)
}

func Parse(data []byte) (Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Fixture{}, fmt.Errorf("parse seed: %w", err)
	}
	for i, s := range f.Stores {
		if s.ID == "" || s.Name == "" {
			return Fixture{}, fmt.Errorf("store #%d: id and name are required", i+1)
		}
		for _, d := range s.Drones {
			if d.BatteryCapacity <= 0 || d.MaxPayloadKg <= 0 {
				return Fixture{}, fmt.Errorf("store %s drone %s: capacity and payload must be positive", s.ID, d.ID)
			}
		}
		for _, o := range s.Orders {
			if o.WeightKg <= 0 {
				return Fixture{}, fmt.Errorf("store %s order %s: weight must be positive", s.ID, o.ID)
			}
		}
	}
	return f, nil
}

// Apply creates the fixture's records. Stores that already exist are left untouched along
// with their drones and orders, so applying the same file twice is harmless.
func Apply(ctx context.Context, st store.Store, f Fixture) (Counts, error) {
	var c Counts
	for _, sf := range f.Stores {
		_, err := st.GetStore(ctx, sf.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return c, err
		}
		active := true
		if sf.Active != nil {
			active = *sf.Active
		}
		s, err := st.CreateStore(ctx, model.Store{
			ID:               sf.ID,
			Name:             sf.Name,
			Location:         geo.Point{Lat: sf.Lat, Lng: sf.Lng},
			DeliveryRadiusKm: sf.DeliveryRadiusKm,
			Active:           active,
		})
		if err != nil {
			return c, fmt.Errorf("store %s: %w", sf.ID, err)
		}
		c.Stores++
		for _, df := range sf.Drones {
			if _, err := st.CreateDrone(ctx, model.Drone{
				ID:              df.ID,
				StoreID:         s.ID,
				Model:           df.Model,
				BatteryCapacity: df.BatteryCapacity,
				MaxPayloadKg:    df.MaxPayloadKg,
				Status:          model.DroneIdle,
			}); err != nil {
				return c, fmt.Errorf("drone %s: %w", df.ID, err)
			}
			c.Drones++
		}
		for _, of := range sf.Orders {
			if _, err := st.CreateOrder(ctx, model.Order{
				ID:          of.ID,
				StoreID:     s.ID,
				CustomerRef: of.CustomerRef,
				Dest:        geo.Point{Lat: of.Lat, Lng: of.Lng},
				WeightKg:    of.WeightKg,
				ItemCount:   of.ItemCount,
			}); err != nil {
				return c, fmt.Errorf("order %s: %w", of.ID, err)
			}
			c.Orders++
		}
	}
	return c, nil
}
