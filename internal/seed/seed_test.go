package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronedispatch/internal/model"
	"dronedispatch/internal/store"
)

const sample = `
stores:
  - id: gangnam
    name: Gangnam
    lat: 37.50
    lng: 127.00
    delivery_radius_km: 5
    drones:
      - id: g-1
        model: X4
        battery_capacity: 5000
        max_payload_kg: 4
    orders:
      - id: o-1
        lat: 37.51
        lng: 127.00
        weight_kg: 1
      - id: o-2
        lat: 37.50
        lng: 127.01
        weight_kg: 2
  - id: closed
    name: Closed
    lat: 35.1
    lng: 129.0
    active: false
`

func TestApplySampleIsIdempotent(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	st := store.NewMemory()
	ctx := context.Background()

	c, err := Apply(ctx, st, f)
	require.NoError(t, err)
	assert.Equal(t, Counts{Stores: 2, Drones: 1, Orders: 2}, c)

	s, err := st.GetStore(ctx, "closed")
	require.NoError(t, err)
	assert.False(t, s.Active)
	d, err := st.GetDrone(ctx, "g-1")
	require.NoError(t, err)
	assert.Equal(t, model.DroneIdle, d.Status)
	pending, err := st.ListCreatedOrders(ctx, "gangnam")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	c, err = Apply(ctx, st, f)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, c)
}

func TestParseRejectsInvalid(t *testing.T) {
	_, err := Parse([]byte("stores:\n  - name: nameless\n"))
	assert.Error(t, err)
	_, err = Parse([]byte("stores:\n  - id: a\n    name: A\n    orders:\n      - id: o\n        weight_kg: 0\n"))
	assert.Error(t, err)
	_, err = Parse([]byte("stores: {"))
	assert.Error(t, err)
}

func TestShippedFixtureParses(t *testing.T) {
	path := filepath.Join("..", "..", "etc", "seed.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("no shipped fixture")
	}
	f, err := LoadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, f.Stores)
}
