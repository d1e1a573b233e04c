package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"dronedispatch/internal/model"
)

// Memory is a simple in-memory store used when no database URL is set.
type Memory struct {
	mu        sync.Mutex
	stores    map[string]model.Store
	drones    map[string]model.Drone
	orders    map[string]model.Order
	routes    map[string]model.Route
	positions map[string][]model.RoutePosition // routeId -> trail
	links     map[string]string                // orderId -> routeId
	logs      map[string]model.FlightLog       // routeId -> log
	posSeq    int64
	now       func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		stores:    map[string]model.Store{},
		drones:    map[string]model.Drone{},
		orders:    map[string]model.Order{},
		routes:    map[string]model.Route{},
		positions: map[string][]model.RoutePosition{},
		links:     map[string]string{},
		logs:      map[string]model.FlightLog{},
		now:       time.Now,
	}
}

func (m *Memory) CreateStore(ctx context.Context, s model.Store) (model.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now()
	}
	m.stores[s.ID] = s
	return s, nil
}

func (m *Memory) GetStore(ctx context.Context, id string) (model.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stores[id]
	if !ok {
		return model.Store{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) ListStores(ctx context.Context) ([]model.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Store, 0, len(m.stores))
	for _, s := range m.stores {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateDrone(ctx context.Context, d model.Drone) (model.Drone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[d.StoreID]; !ok {
		return model.Drone{}, fmt.Errorf("store %s: %w", d.StoreID, ErrNotFound)
	}
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = model.DroneIdle
	}
	if d.RegisteredAt.IsZero() {
		d.RegisteredAt = m.now()
	}
	m.drones[d.ID] = d
	return d, nil
}

func (m *Memory) GetDrone(ctx context.Context, id string) (model.Drone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drones[id]
	if !ok {
		return model.Drone{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) ListDrones(ctx context.Context, storeID string) ([]model.Drone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dronesLocked(storeID, ""), nil
}

func (m *Memory) dronesLocked(storeID string, status model.DroneStatus) []model.Drone {
	out := []model.Drone{}
	for _, d := range m.drones {
		if storeID != "" && d.StoreID != storeID {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].RegisteredAt.Before(out[j].RegisteredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UpdateDroneStatus is the operator path; IN_FLIGHT is only entered through CommitAssignment.
func (m *Memory) UpdateDroneStatus(ctx context.Context, id string, status model.DroneStatus) (model.Drone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drones[id]
	if !ok {
		return model.Drone{}, ErrNotFound
	}
	if d.Status == model.DroneInFlight || status == model.DroneInFlight {
		return d, ErrInvalidTransition
	}
	d.Status = status
	m.drones[id] = d
	return d, nil
}

func (m *Memory) FindIdleDrone(ctx context.Context, storeID string) (model.Drone, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idle := m.dronesLocked(storeID, model.DroneIdle)
	if len(idle) == 0 {
		return model.Drone{}, ErrNotFound
	}
	return idle[0], nil
}

func (m *Memory) CreateOrder(ctx context.Context, o model.Order) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stores[o.StoreID]; !ok {
		return model.Order{}, fmt.Errorf("store %s: %w", o.StoreID, ErrNotFound)
	}
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	o.Status = model.OrderCreated
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.now()
	}
	m.orders[o.ID] = o
	return o, nil
}

func (m *Memory) GetOrder(ctx context.Context, id string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (m *Memory) GetOrders(ctx context.Context, ids []string) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		o, ok := m.orders[id]
		if !ok {
			return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *Memory) ListCreatedOrders(ctx context.Context, storeID string) ([]model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Order{}
	for _, o := range m.orders {
		if o.Status != model.OrderCreated {
			continue
		}
		if storeID != "" && o.StoreID != storeID {
			continue
		}
		out = append(out, o)
	}
	sortOrders(out)
	return out, nil
}

func sortOrders(out []model.Order) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}

func (m *Memory) CancelOrder(ctx context.Context, id string) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	// Assigned orders belong to a route's stop sequence and are failed by the flight instead.
	if o.Status != model.OrderCreated {
		return o, ErrInvalidTransition
	}
	o.Status = model.OrderCanceled
	now := m.now()
	o.CompletedAt = &now
	m.orders[id] = o
	return o, nil
}

func (m *Memory) CommitAssignment(ctx context.Context, r model.Route) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drones[r.DroneID]
	if !ok || d.Status != model.DroneIdle {
		return model.Route{}, ErrDroneUnavailable
	}
	orderIDs := r.OrderIDs()
	for _, id := range orderIDs {
		o, ok := m.orders[id]
		if !ok || o.Status != model.OrderCreated {
			return model.Route{}, fmt.Errorf("order %s: %w", id, ErrOrderConflict)
		}
	}

	now := m.now()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	r.Status = model.RoutePlanned
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	stops := make([]model.RouteStop, len(r.Stops))
	for i, s := range r.Stops {
		if s.ID == "" {
			s.ID = uuid.New().String()
		}
		s.RouteID = r.ID
		s.Status = model.StopPending
		stops[i] = s
	}
	r.Stops = stops
	m.routes[r.ID] = r

	for _, id := range orderIDs {
		o := m.orders[id]
		o.Status = model.OrderAssigned
		o.AssignedAt = &now
		m.orders[id] = o
		m.links[id] = r.ID
	}
	d.Status = model.DroneInFlight
	m.drones[d.ID] = d
	return cloneRoute(r), nil
}

func (m *Memory) LaunchRoute(ctx context.Context, routeID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return ErrNotFound
	}
	if r.Status != model.RoutePlanned {
		return ErrInvalidTransition
	}
	r.Status = model.RouteLaunched
	r.LaunchedAt = &at
	m.routes[routeID] = r
	return nil
}

func (m *Memory) AppendPosition(ctx context.Context, p model.RoutePosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[p.RouteID]; !ok {
		return ErrNotFound
	}
	m.posSeq++
	p.ID = m.posSeq
	m.positions[p.RouteID] = append(m.positions[p.RouteID], p)
	return nil
}

func (m *Memory) stopIndex(r model.Route, seq int) int {
	for i, s := range r.Stops {
		if s.Seq == seq {
			return i
		}
	}
	return -1
}

func (m *Memory) ArriveStop(ctx context.Context, routeID string, seq int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return ErrNotFound
	}
	i := m.stopIndex(r, seq)
	if i < 0 {
		return fmt.Errorf("stop %d: %w", seq, ErrNotFound)
	}
	stop := r.Stops[i]
	if stop.Status != model.StopPending || r.Status.Terminal() {
		return ErrInvalidTransition
	}
	if stop.Type == model.StopDrop && stop.OrderID != "" {
		o, ok := m.orders[stop.OrderID]
		if !ok || !o.Status.CanTransition(model.OrderFulfilled) {
			return fmt.Errorf("order %s: %w", stop.OrderID, ErrInvalidTransition)
		}
		o.Status = model.OrderFulfilled
		o.CompletedAt = &at
		m.orders[o.ID] = o
	}
	stops := append([]model.RouteStop(nil), r.Stops...)
	stops[i].Status = model.StopArrived
	stops[i].ArrivedAt = &at
	r.Stops = stops
	m.routes[routeID] = r
	return nil
}

func (m *Memory) DepartStop(ctx context.Context, routeID string, seq int, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return ErrNotFound
	}
	i := m.stopIndex(r, seq)
	if i < 0 {
		return fmt.Errorf("stop %d: %w", seq, ErrNotFound)
	}
	if r.Stops[i].Status != model.StopArrived || r.Status.Terminal() {
		return ErrInvalidTransition
	}
	stops := append([]model.RouteStop(nil), r.Stops...)
	stops[i].Status = model.StopDeparted
	stops[i].DepartedAt = &at
	r.Stops = stops
	if stops[i].Type == model.StopPickup && r.Status == model.RouteLaunched {
		r.Status = model.RouteInProgress
	}
	m.routes[routeID] = r
	return nil
}

func (m *Memory) CompleteRoute(ctx context.Context, log model.FlightLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[log.RouteID]
	if !ok {
		return ErrNotFound
	}
	if r.Status.Terminal() || r.Status == model.RoutePlanned {
		return ErrInvalidTransition
	}
	end := log.EndTime
	mins := actualMinutes(log.StartTime, log.EndTime)
	r.Status = model.RouteCompleted
	r.CompletedAt = &end
	r.ActualDurationMin = &mins
	m.routes[r.ID] = r
	if d, ok := m.drones[r.DroneID]; ok {
		d.Status = model.DroneIdle
		m.drones[d.ID] = d
	}
	m.saveLogLocked(log)
	return nil
}

func (m *Memory) AbortRoute(ctx context.Context, routeID, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return ErrNotFound
	}
	if r.Status.Terminal() {
		return ErrInvalidTransition
	}
	r.Status = model.RouteAborted
	if note != "" {
		r.Note = note
	}
	m.routes[routeID] = r
	return nil
}

func (m *Memory) FinishAbortedRoute(ctx context.Context, log model.FlightLog, droneStatus model.DroneStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[log.RouteID]
	if !ok {
		return ErrNotFound
	}
	if _, done := m.logs[r.ID]; done || r.Status == model.RouteCompleted || r.CompletedAt != nil {
		return ErrInvalidTransition
	}
	end := log.EndTime
	r.Status = model.RouteAborted
	r.CompletedAt = &end
	stops := append([]model.RouteStop(nil), r.Stops...)
	for i := range stops {
		if stops[i].Status != model.StopPending {
			continue
		}
		stops[i].Status = model.StopSkipped
		if id := stops[i].OrderID; id != "" {
			if o, ok := m.orders[id]; ok && o.Status.CanTransition(model.OrderFailed) {
				o.Status = model.OrderFailed
				o.CompletedAt = &end
				m.orders[id] = o
			}
		}
	}
	r.Stops = stops
	m.routes[r.ID] = r
	if d, ok := m.drones[r.DroneID]; ok && d.Status == model.DroneInFlight && !m.droneClaimedLocked(d.ID, r.ID) {
		d.Status = droneStatus
		m.drones[d.ID] = d
	}
	m.saveLogLocked(log)
	return nil
}

// droneClaimedLocked reports whether a route other than exceptRoute still holds the drone.
func (m *Memory) droneClaimedLocked(droneID, exceptRoute string) bool {
	for _, r := range m.routes {
		if r.ID != exceptRoute && r.DroneID == droneID && r.Status.Active() {
			return true
		}
	}
	return false
}

func (m *Memory) saveLogLocked(log model.FlightLog) {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	m.logs[log.RouteID] = log
}

func (m *Memory) RouteStatus(ctx context.Context, routeID string) (model.RouteStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[routeID]
	if !ok {
		return "", ErrNotFound
	}
	return r.Status, nil
}

func (m *Memory) GetRoute(ctx context.Context, id string) (model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return model.Route{}, ErrNotFound
	}
	return cloneRoute(r), nil
}

func (m *Memory) ListActiveRoutes(ctx context.Context) ([]model.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Route{}
	for _, r := range m.routes {
		if r.Status == model.RouteLaunched || r.Status == model.RouteInProgress {
			out = append(out, cloneRoute(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) LatestPosition(ctx context.Context, routeID string) (model.RoutePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[routeID]; !ok {
		return model.RoutePosition{}, ErrNotFound
	}
	trail := m.positions[routeID]
	if len(trail) == 0 {
		return model.RoutePosition{}, ErrNotFound
	}
	return trail[len(trail)-1], nil
}

func (m *Memory) ListPositions(ctx context.Context, routeID string, limit int) ([]model.RoutePosition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[routeID]; !ok {
		return nil, ErrNotFound
	}
	trail := m.positions[routeID]
	if limit > 0 && len(trail) > limit {
		trail = trail[len(trail)-limit:]
	}
	return append([]model.RoutePosition{}, trail...), nil
}

func (m *Memory) RouteForOrder(ctx context.Context, orderID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.links[orderID]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

func (m *Memory) GetFlightLog(ctx context.Context, routeID string) (model.FlightLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[routeID]
	if !ok {
		return model.FlightLog{}, ErrNotFound
	}
	return l, nil
}

func cloneRoute(r model.Route) model.Route {
	r.Stops = append([]model.RouteStop(nil), r.Stops...)
	return r
}
