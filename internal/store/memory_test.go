package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dronedispatch/internal/geo"
	"dronedispatch/internal/model"
)

func TestMemoryRouteLifecycle(t *testing.T) { runStoreContract(t, NewMemory()) }

func TestMemoryAbort(t *testing.T) { runAbortContract(t, NewMemory()) }

func TestMemoryAbortFinalisedOnce(t *testing.T) { runAbortFinalisedOnceContract(t, NewMemory()) }

func TestMemoryCommitIsAllOrNothing(t *testing.T) { runOrderConflictContract(t, NewMemory()) }

func TestMemoryConcurrentClaimSingleWinner(t *testing.T) {
	m := NewMemory()
	f := seedFixture(t, m)
	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.CommitAssignment(context.Background(), planFor(f)); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestMemoryFindIdleDroneScope(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	a, _ := m.CreateStore(ctx, model.Store{Name: "A", Location: geo.Point{Lat: 37.5, Lng: 127}})
	b, _ := m.CreateStore(ctx, model.Store{Name: "B", Location: geo.Point{Lat: 35.1, Lng: 129}})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := m.CreateDrone(ctx, model.Drone{StoreID: b.ID, Model: "X4", BatteryCapacity: 5000, MaxPayloadKg: 3, RegisteredAt: base})
	require.NoError(t, err)

	_, err = m.FindIdleDrone(ctx, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	d, err := m.FindIdleDrone(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, b.ID, d.StoreID)
}

func TestMemoryUpdateDroneStatusGuardsInFlight(t *testing.T) {
	m := NewMemory()
	f := seedFixture(t, m)
	ctx := context.Background()

	_, err := m.UpdateDroneStatus(ctx, f.drone.ID, model.DroneInFlight)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	d, err := m.UpdateDroneStatus(ctx, f.drone.ID, model.DroneCharging)
	require.NoError(t, err)
	assert.Equal(t, model.DroneCharging, d.Status)

	_, err = m.FindIdleDrone(ctx, f.store.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCancelOnlyFromCreated(t *testing.T) {
	m := NewMemory()
	f := seedFixture(t, m)
	ctx := context.Background()
	_, err := m.CommitAssignment(ctx, planFor(f))
	require.NoError(t, err)

	o, err := m.CancelOrder(ctx, f.orders[0].ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, model.OrderAssigned, o.Status)

	_, err = m.CancelOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryCreateOrderUnknownStore(t *testing.T) {
	_, err := NewMemory().CreateOrder(context.Background(), model.Order{StoreID: "nope", WeightKg: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryGetRouteReturnsCopy(t *testing.T) {
	m := NewMemory()
	f := seedFixture(t, m)
	ctx := context.Background()
	r, err := m.CommitAssignment(ctx, planFor(f))
	require.NoError(t, err)
	r.Stops[0].Status = model.StopFailed

	again, err := m.GetRoute(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StopPending, again.Stops[0].Status)
}
