package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"dronedispatch/internal/logger"
	"dronedispatch/internal/metrics"
	"dronedispatch/internal/model"
	"dronedispatch/internal/opt"
	"dronedispatch/internal/store"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotCreated = errors.New("order is not pending")
	ErrMixedStores     = errors.New("orders belong to different stores")
	ErrStoreInactive   = errors.New("store is not active")
	ErrNoIdleDrone     = errors.New("no idle drone available")
)

// Idle drone lookup scopes.
const (
	ScopeStore  = "store"
	ScopeGlobal = "global"
)

// Triggers recorded on reports and metrics.
const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// Skip reasons for a store group that produced no route.
const (
	SkipNoIdleDrone   = "no_idle_drone"
	SkipNothingFits   = "nothing_fits"
	SkipDroneRace     = "drone_race"
	SkipOrderConflict = "order_conflict"
	SkipStoreInactive = "store_inactive"
	SkipError         = "error"
)

// Launcher starts the flight of a committed route.
type Launcher interface {
	Launch(routeID string) error
}

type Config struct {
	Range          opt.RangeModel
	Params         Params
	IdleDroneScope string
	TwoOptPasses   int
}

// GroupOutcome is the result for the CREATED orders of one store in a cycle.
type GroupOutcome struct {
	StoreID  string   `json:"storeId"`
	Pending  int      `json:"pending"`
	RouteID  string   `json:"routeId,omitempty"`
	DroneID  string   `json:"droneId,omitempty"`
	Assigned []string `json:"assigned,omitempty"`
	Deferred []string `json:"deferred,omitempty"`
	Skipped  string   `json:"skipped,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type Report struct {
	Trigger    string         `json:"trigger"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Pending    int            `json:"pending"`
	Groups     []GroupOutcome `json:"groups"`
}

func (r Report) RoutesCreated() int {
	n := 0
	for _, g := range r.Groups {
		if g.RouteID != "" {
			n++
		}
	}
	return n
}

func (r Report) OrdersAssigned() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Assigned)
	}
	return n
}

// Batcher groups pending orders per store, assigns a batch to an idle drone and hands the
// committed route to the launcher. Cycles and explicit dispatches never overlap.
type Batcher struct {
	store    store.Store
	launcher Launcher
	cfg      Config
	log      *zap.SugaredLogger
	now      func() time.Time

	mu sync.Mutex
}

func NewBatcher(st store.Store, launcher Launcher, cfg Config, log *zap.SugaredLogger) *Batcher {
	if cfg.Range.DistancePerUnit <= 0 {
		cfg.Range = opt.DefaultRangeModel()
	}
	if cfg.Params.CruiseSpeedKmh <= 0 {
		cfg.Params = DefaultParams()
	}
	if cfg.IdleDroneScope == "" {
		cfg.IdleDroneScope = ScopeStore
	}
	return &Batcher{store: st, launcher: launcher, cfg: cfg, log: logger.Or(log), now: time.Now}
}

// RunCycle processes every store that has CREATED orders. A failing group is recorded and
// the remaining groups still run; the returned error is only for failures before grouping.
func (b *Batcher) RunCycle(ctx context.Context, trigger string) (Report, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rep := Report{Trigger: trigger, StartedAt: b.now()}
	defer func() {
		metrics.BatchDuration.Observe(time.Since(rep.StartedAt).Seconds())
	}()

	pending, err := b.store.ListCreatedOrders(ctx, "")
	if err != nil {
		metrics.BatchRuns.WithLabelValues(trigger, "error").Inc()
		b.log.Errorw("batch_list_failed", "trigger", trigger, "error", err)
		return rep, fmt.Errorf("list pending orders: %w", err)
	}
	rep.Pending = len(pending)

	groups := map[string][]model.Order{}
	var storeIDs []string
	for _, o := range pending {
		if _, ok := groups[o.StoreID]; !ok {
			storeIDs = append(storeIDs, o.StoreID)
		}
		groups[o.StoreID] = append(groups[o.StoreID], o)
	}
	sort.Strings(storeIDs)

	for _, sid := range storeIDs {
		if ctx.Err() != nil {
			break
		}
		orders := groups[sid]
		sortOldestFirst(orders)
		out := b.runGroup(ctx, sid, orders)
		if out.Skipped != "" {
			metrics.GroupsSkipped.WithLabelValues(out.Skipped).Inc()
		}
		rep.Groups = append(rep.Groups, out)
	}
	rep.FinishedAt = b.now()
	metrics.BatchRuns.WithLabelValues(trigger, "ok").Inc()
	b.log.Infow("batch_cycle_finished",
		"trigger", trigger,
		"pending", rep.Pending,
		"groups", len(rep.Groups),
		"routes", rep.RoutesCreated(),
		"assigned", rep.OrdersAssigned(),
	)
	return rep, ctx.Err()
}

func (b *Batcher) runGroup(ctx context.Context, storeID string, orders []model.Order) (out GroupOutcome) {
	out = GroupOutcome{StoreID: storeID, Pending: len(orders)}
	log := b.log.With("store_id", storeID)
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("batch_group_panic", "panic", r)
			out.Skipped = SkipError
			out.Error = fmt.Sprint(r)
		}
	}()

	st, err := b.store.GetStore(ctx, storeID)
	if err != nil {
		log.Errorw("batch_group_failed", "error", err)
		out.Skipped, out.Error = SkipError, err.Error()
		return out
	}
	if !st.Active {
		log.Infow("batch_group_skipped", "reason", SkipStoreInactive)
		out.Skipped = SkipStoreInactive
		return out
	}

	drone, err := b.findIdleDrone(ctx, storeID)
	if errors.Is(err, ErrNoIdleDrone) {
		log.Infow("batch_group_skipped", "reason", SkipNoIdleDrone, "pending", len(orders))
		out.Skipped = SkipNoIdleDrone
		return out
	}
	if err != nil {
		log.Errorw("batch_group_failed", "error", err)
		out.Skipped, out.Error = SkipError, err.Error()
		return out
	}

	lim := b.cfg.Range.LimitsFor(drone)
	cands := make([]opt.Candidate, len(orders))
	for i, o := range orders {
		cands[i] = opt.CandidateFromOrder(o)
	}
	sel := opt.SelectGreedy(st.Location, lim, cands)
	for _, r := range sel.Rejected {
		out.Deferred = append(out.Deferred, r.ID)
	}
	if len(sel.Accepted) == 0 {
		log.Infow("batch_group_skipped", "reason", SkipNothingFits, "drone_id", drone.ID, "pending", len(orders))
		out.Skipped = SkipNothingFits
		return out
	}

	seq := opt.Sequence(st.Location, sel.Destinations(), b.cfg.TwoOptPasses)
	if opt.TourKm(st.Location, seq) > lim.MaxRangeKm {
		// the arrival-order path was already checked by the selector
		seq = sel.Destinations()
	}
	byID := make(map[string]model.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	batch := make([]model.Order, len(seq))
	for i, d := range seq {
		batch[i] = byID[d.ID]
	}

	route, err := b.commit(ctx, st, drone, batch)
	switch {
	case errors.Is(err, store.ErrDroneUnavailable):
		log.Warnw("batch_group_skipped", "reason", SkipDroneRace, "drone_id", drone.ID)
		out.Skipped = SkipDroneRace
		return out
	case errors.Is(err, store.ErrOrderConflict):
		log.Warnw("batch_group_skipped", "reason", SkipOrderConflict, "error", err)
		out.Skipped = SkipOrderConflict
		return out
	case err != nil:
		log.Errorw("batch_group_failed", "error", err)
		out.Skipped, out.Error = SkipError, err.Error()
		return out
	}

	metrics.OrdersAssigned.WithLabelValues("batch").Add(float64(len(batch)))
	out.RouteID = route.ID
	out.DroneID = drone.ID
	out.Assigned = route.OrderIDs()
	log.Infow("batch_route_committed",
		"route_id", route.ID,
		"drone_id", drone.ID,
		"orders", len(batch),
		"distance_km", route.TotalDistanceKm,
		"weight_kg", route.TotalWeightKg,
	)
	b.launch(route.ID)
	return out
}

// DispatchOrders assigns exactly the given orders to one drone. Any validation, constraint or
// availability failure is returned and nothing is changed.
func (b *Batcher) DispatchOrders(ctx context.Context, orderIDs []string) (model.Route, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := dedupe(orderIDs)
	if len(ids) == 0 {
		return model.Route{}, opt.ErrEmptySelection
	}
	orders := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		o, err := b.store.GetOrder(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return model.Route{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
		}
		if err != nil {
			return model.Route{}, err
		}
		if o.Status != model.OrderCreated {
			return model.Route{}, fmt.Errorf("%w: %s is %s", ErrOrderNotCreated, id, o.Status)
		}
		if len(orders) > 0 && o.StoreID != orders[0].StoreID {
			return model.Route{}, fmt.Errorf("%w: %s and %s", ErrMixedStores, orders[0].StoreID, o.StoreID)
		}
		orders = append(orders, o)
	}

	st, err := b.store.GetStore(ctx, orders[0].StoreID)
	if err != nil {
		return model.Route{}, fmt.Errorf("store %s: %w", orders[0].StoreID, err)
	}
	if !st.Active {
		return model.Route{}, fmt.Errorf("%w: %s", ErrStoreInactive, st.ID)
	}
	drone, err := b.findIdleDrone(ctx, st.ID)
	if err != nil {
		return model.Route{}, err
	}

	cands := make([]opt.Candidate, len(orders))
	for i, o := range orders {
		cands[i] = opt.CandidateFromOrder(o)
	}
	lim := b.cfg.Range.LimitsFor(drone)
	if err := opt.ValidateExplicit(st.Location, lim, cands); err != nil {
		return model.Route{}, err
	}

	nn := opt.NearestNeighbor(st.Location, destinations(cands))
	seq := opt.Sequence(st.Location, destinations(cands), b.cfg.TwoOptPasses)
	if opt.TourKm(st.Location, seq) > opt.TourKm(st.Location, nn) {
		seq = nn
	}
	byID := make(map[string]model.Order, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
	}
	batch := make([]model.Order, len(seq))
	for i, d := range seq {
		batch[i] = byID[d.ID]
	}

	route, err := b.commit(ctx, st, drone, batch)
	switch {
	case errors.Is(err, store.ErrDroneUnavailable):
		return model.Route{}, fmt.Errorf("%w: %v", ErrNoIdleDrone, err)
	case errors.Is(err, store.ErrOrderConflict):
		return model.Route{}, fmt.Errorf("%w: %v", ErrOrderNotCreated, err)
	case err != nil:
		return model.Route{}, err
	}
	metrics.OrdersAssigned.WithLabelValues("explicit").Add(float64(len(batch)))
	b.log.Infow("explicit_route_committed",
		"route_id", route.ID,
		"store_id", st.ID,
		"drone_id", drone.ID,
		"orders", len(batch),
		"distance_km", route.TotalDistanceKm,
	)
	b.launch(route.ID)
	return route, nil
}

func (b *Batcher) commit(ctx context.Context, st model.Store, d model.Drone, batch []model.Order) (model.Route, error) {
	planned, err := BuildRoute(st, d, batch, b.cfg.Params, b.now())
	if err != nil {
		return model.Route{}, err
	}
	return b.store.CommitAssignment(ctx, planned)
}

// launch runs only after the assignment is durable.
func (b *Batcher) launch(routeID string) {
	if b.launcher == nil {
		return
	}
	if err := b.launcher.Launch(routeID); err != nil {
		b.log.Errorw("flight_launch_failed", "route_id", routeID, "error", err)
	}
}

func (b *Batcher) findIdleDrone(ctx context.Context, storeID string) (model.Drone, error) {
	scope := storeID
	if b.cfg.IdleDroneScope == ScopeGlobal {
		scope = ""
	}
	d, err := b.store.FindIdleDrone(ctx, scope)
	if errors.Is(err, store.ErrNotFound) {
		return model.Drone{}, ErrNoIdleDrone
	}
	return d, err
}

func sortOldestFirst(orders []model.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
}

func destinations(cands []opt.Candidate) []opt.Destination {
	out := make([]opt.Destination, len(cands))
	for i, c := range cands {
		out[i] = c.Destination()
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
