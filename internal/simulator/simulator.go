// Package simulator flies committed routes in real time. Each route runs on its own task,
// persists a position trail, and moves route, stop, order and drone state forward one
// short store call at a time.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"dronedispatch/internal/geo"
	"dronedispatch/internal/live"
	"dronedispatch/internal/logger"
	"dronedispatch/internal/metrics"
	"dronedispatch/internal/model"
	"dronedispatch/internal/opt"
	"dronedispatch/internal/store"
)

var (
	ErrAlreadyRunning = errors.New("flight already running")
	ErrShuttingDown   = errors.New("simulator is shutting down")
	ErrNotActive      = errors.New("route is not active")

	errAborted  = errors.New("route aborted")
	errShutdown = errors.New("simulator shutdown")
)

type Config struct {
	Tick             time.Duration
	SpeedKmh         float64
	MaxSamplesPerLeg int
	MaxConcurrent    int64 // 0 = unbounded
	Range            opt.RangeModel
	UnitTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		Tick:             2 * time.Second,
		SpeedKmh:         30,
		MaxSamplesPerLeg: 120,
		Range:            opt.DefaultRangeModel(),
		UnitTimeout:      5 * time.Second,
	}
}

type Simulator struct {
	store  store.Store
	broker live.EventBroker
	cfg    Config
	log    *zap.SugaredLogger
	now    func() time.Time

	root   context.Context
	cancel context.CancelCauseFunc
	group  errgroup.Group
	sem    *semaphore.Weighted

	mu      sync.Mutex
	closed  bool
	flights map[string]context.CancelCauseFunc
}

func New(st store.Store, broker live.EventBroker, cfg Config, log *zap.SugaredLogger) *Simulator {
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.SpeedKmh <= 0 {
		cfg.SpeedKmh = def.SpeedKmh
	}
	if cfg.MaxSamplesPerLeg <= 0 {
		cfg.MaxSamplesPerLeg = def.MaxSamplesPerLeg
	}
	if cfg.Range.DistancePerUnit <= 0 {
		cfg.Range = def.Range
	}
	if cfg.UnitTimeout <= 0 {
		cfg.UnitTimeout = def.UnitTimeout
	}
	if broker == nil {
		broker = live.NewBroker()
	}
	root, cancel := context.WithCancelCause(context.Background())
	s := &Simulator{
		store:   st,
		broker:  broker,
		cfg:     cfg,
		log:     logger.Or(log),
		now:     time.Now,
		root:    root,
		cancel:  cancel,
		flights: map[string]context.CancelCauseFunc{},
	}
	if cfg.MaxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}
	return s
}

// Launch starts flying routeID in the background. The flight outlives the caller's request.
func (s *Simulator) Launch(routeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrShuttingDown
	}
	if _, ok := s.flights[routeID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, routeID)
	}
	ctx, cancel := context.WithCancelCause(s.root)
	s.flights[routeID] = cancel
	metrics.ActiveFlights.Inc()

	s.group.Go(func() error {
		defer s.release(routeID, cancel)
		if s.sem != nil {
			if err := s.sem.Acquire(ctx, 1); err != nil {
				s.interrupted(ctx, routeID, nil)
				return nil
			}
			defer s.sem.Release(1)
		}
		if err := s.fly(ctx, routeID); err != nil {
			s.log.Errorw("flight_failed", "route_id", routeID, "error", err)
		}
		return nil
	})
	return nil
}

func (s *Simulator) release(routeID string, cancel context.CancelCauseFunc) {
	cancel(nil)
	s.mu.Lock()
	delete(s.flights, routeID)
	s.mu.Unlock()
	metrics.ActiveFlights.Dec()
}

// Abort marks the route ABORTED and stops its flight. A route with no running flight
// (never launched, or orphaned by a restart) is finalised here.
func (s *Simulator) Abort(ctx context.Context, routeID, reason string) error {
	if reason == "" {
		reason = "aborted by operator"
	}
	if err := s.store.AbortRoute(ctx, routeID, reason); err != nil {
		return err
	}
	s.mu.Lock()
	cancel, running := s.flights[routeID]
	s.mu.Unlock()
	if running {
		cancel(errAborted)
		return nil
	}
	if _, err := s.store.GetFlightLog(ctx, routeID); err == nil {
		// the flight ended and finalised itself between the abort and the lookup
		return nil
	}
	r, err := s.store.GetRoute(ctx, routeID)
	if err != nil {
		return err
	}
	start := s.now()
	if r.LaunchedAt != nil {
		start = *r.LaunchedAt
	}
	f := &flight{route: r, start: start, battery: 100}
	return s.finishAborted(f, model.FlightAborted, model.DroneIdle, reason)
}

// Active lists the routes with a running flight.
func (s *Simulator) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.flights))
	for id := range s.flights {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Shutdown cancels every flight and waits for them to stop. Interrupted routes keep their
// last committed state.
func (s *Simulator) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel(errShutdown)
	done := make(chan struct{})
	go func() {
		_ = s.group.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) Name() string { return "simulator" }

func (s *Simulator) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (s *Simulator) Stop(ctx context.Context) error { return s.Shutdown(ctx) }

// flight is the in-memory state of one running route.
type flight struct {
	route    model.Route
	rawRange float64
	start    time.Time
	lastTS   time.Time
	traveled float64
	battery  float64
	next     int // index of the stop being flown to
}

func (s *Simulator) fly(ctx context.Context, routeID string) error {
	uctx, cancel := s.unit(ctx)
	r, err := s.store.GetRoute(uctx, routeID)
	if err != nil {
		cancel()
		return fmt.Errorf("load route: %w", err)
	}
	d, err := s.store.GetDrone(uctx, r.DroneID)
	cancel()
	if err != nil {
		return fmt.Errorf("load drone: %w", err)
	}
	if len(r.Stops) == 0 {
		return fmt.Errorf("route %s has no stops", routeID)
	}

	f := &flight{route: r, rawRange: s.cfg.Range.RawRangeKm(d.BatteryCapacity), start: s.now(), battery: 100}
	log := s.log.With("route_id", routeID, "drone_id", d.ID)

	uctx, cancel = s.unit(ctx)
	err = s.store.LaunchRoute(uctx, routeID, f.start)
	cancel()
	if err != nil {
		if !s.aborted(ctx, routeID) {
			return fmt.Errorf("launch: %w", err)
		}
		uctx, cancel = s.unit(ctx)
		_, logErr := s.store.GetFlightLog(uctx, routeID)
		cancel()
		if logErr == nil {
			// already finalised by Abort
			return nil
		}
		return s.finishAborted(f, model.FlightAborted, model.DroneIdle, r.Note)
	}
	log.Infow("flight_launched", "stops", len(r.Stops), "distance_km", r.TotalDistanceKm)
	s.broker.Publish(live.RouteTopic(routeID), live.Event{Type: live.EventRouteLaunched, Data: map[string]any{
		"routeId": routeID, "droneId": d.ID, "launchedAt": f.start,
	}})

	prev := r.Stops[0].Location
	prevSeq := 0
	for i, stop := range r.Stops {
		f.next = i
		// the drone starts at the pickup, so there is no leg to fly to it
		if i > 0 {
			if err := s.travel(ctx, f, prev, prevSeq, stop); err != nil {
				return s.stopped(ctx, f, err)
			}
		}
		if err := s.arrive(ctx, f, stop); err != nil {
			if s.aborted(ctx, routeID) {
				return s.finishAborted(f, model.FlightAborted, model.DroneIdle, "")
			}
			return err
		}
		prev, prevSeq = stop.Location, stop.Seq
	}

	end := s.now()
	fl := model.FlightLog{
		RouteID:        routeID,
		DroneID:        d.ID,
		StartTime:      f.start,
		EndTime:        end,
		DistanceKm:     round(f.traveled, 3),
		BatteryUsedPct: int(math.Round(100 - f.battery)),
		Result:         model.FlightSuccess,
	}
	uctx, cancel = s.unit(ctx)
	defer cancel()
	if err := s.store.CompleteRoute(uctx, fl); err != nil {
		if s.aborted(ctx, routeID) {
			return s.finishAborted(f, model.FlightAborted, model.DroneIdle, "")
		}
		return fmt.Errorf("complete: %w", err)
	}
	metrics.Flights.WithLabelValues(string(model.FlightSuccess)).Inc()
	log.Infow("flight_completed", "distance_km", fl.DistanceKm, "battery_used_pct", fl.BatteryUsedPct, "duration", fl.Duration())
	s.broker.Publish(live.RouteTopic(routeID), live.Event{Type: live.EventRouteCompleted, Data: map[string]any{
		"routeId": routeID, "distanceKm": fl.DistanceKm, "batteryUsedPct": fl.BatteryUsedPct, "completedAt": end,
	}})
	return nil
}

// errBatteryDepleted ends travel when the battery reaches zero short of the final stop.
var errBatteryDepleted = errors.New("battery depleted")

// travel samples the leg to stop: steps = ceil(leg time / tick), capped, with a sample at
// every fraction step/steps including both ends.
func (s *Simulator) travel(ctx context.Context, f *flight, from geo.Point, fromSeq int, stop model.RouteStop) error {
	legKm := geo.Between(from, stop.Location)
	legSec := legKm / s.cfg.SpeedKmh * 3600
	steps := int(math.Ceil(legSec / s.cfg.Tick.Seconds()))
	if steps < 1 {
		steps = 1
	}
	if steps > s.cfg.MaxSamplesPerLeg {
		steps = s.cfg.MaxSamplesPerLeg
	}
	speed := 0.0
	if legKm > 0 {
		speed = round(s.cfg.SpeedKmh/3.6, 2)
	}
	before := f.traveled
	last := f.next == len(f.route.Stops)-1

	for step := 0; step <= steps; step++ {
		if step > 0 {
			if err := s.wait(ctx); err != nil {
				return err
			}
		}
		if s.aborted(ctx, f.route.ID) {
			return errAborted
		}
		frac := float64(step) / float64(steps)
		p := geo.Lerp(from, stop.Location, frac)
		f.traveled = before + legKm*frac
		if f.rawRange > 0 {
			f.battery = math.Max(0, math.Min(f.battery, 100-f.traveled*100/f.rawRange))
		}
		pos := model.RoutePosition{
			RouteID:    f.route.ID,
			FromSeq:    fromSeq,
			ToSeq:      stop.Seq,
			Lat:        p.Lat,
			Lng:        p.Lng,
			SpeedMps:   speed,
			BatteryPct: round(f.battery, 2),
			TS:         f.stamp(s.now()),
		}
		uctx, cancel := s.unit(ctx)
		err := s.store.AppendPosition(uctx, pos)
		cancel()
		if err != nil {
			return fmt.Errorf("append position: %w", err)
		}
		metrics.PositionSamples.Inc()
		s.publishPosition(f, pos)

		if f.battery <= 0 && !(last && step == steps) {
			return errBatteryDepleted
		}
	}
	return nil
}

func (s *Simulator) arrive(ctx context.Context, f *flight, stop model.RouteStop) error {
	routeID := f.route.ID
	at := s.now()
	uctx, cancel := s.unit(ctx)
	defer cancel()
	if err := s.store.ArriveStop(uctx, routeID, stop.Seq, at); err != nil {
		return fmt.Errorf("arrive stop %d: %w", stop.Seq, err)
	}
	f.route.Stops[f.next].Status = model.StopArrived
	s.broker.Publish(live.RouteTopic(routeID), live.Event{Type: live.EventStopArrived, Data: map[string]any{
		"routeId": routeID, "seq": stop.Seq, "type": stop.Type, "orderId": stop.OrderID, "arrivedAt": at,
	}})
	if stop.Type == model.StopDrop && stop.OrderID != "" {
		evt := live.Event{Type: live.EventOrderFulfilled, Data: map[string]any{
			"orderId": stop.OrderID, "routeId": routeID, "status": model.OrderFulfilled, "fulfilledAt": at,
		}}
		s.broker.Publish(live.RouteTopic(routeID), evt)
		s.broker.Publish(live.OrderTopic(stop.OrderID), evt)
	}
	if stop.Type == model.StopReturn {
		return nil
	}
	at = s.now()
	if err := s.store.DepartStop(uctx, routeID, stop.Seq, at); err != nil {
		return fmt.Errorf("depart stop %d: %w", stop.Seq, err)
	}
	f.route.Stops[f.next].Status = model.StopDeparted
	s.broker.Publish(live.RouteTopic(routeID), live.Event{Type: live.EventStopDeparted, Data: map[string]any{
		"routeId": routeID, "seq": stop.Seq, "departedAt": at,
	}})
	return nil
}

// publishPosition sends the sample to the route topic and to every order still waiting
// for its drop.
func (s *Simulator) publishPosition(f *flight, pos model.RoutePosition) {
	s.broker.Publish(live.RouteTopic(pos.RouteID), live.Event{Type: live.EventPosition, Data: map[string]any{
		"routeId":    pos.RouteID,
		"fromSeq":    pos.FromSeq,
		"toSeq":      pos.ToSeq,
		"lat":        pos.Lat,
		"lng":        pos.Lng,
		"speedMps":   pos.SpeedMps,
		"batteryPct": pos.BatteryPct,
		"ts":         pos.TS,
	}})
	for _, st := range f.route.Stops[f.next:] {
		if st.Type != model.StopDrop || st.OrderID == "" || st.Status != model.StopPending {
			continue
		}
		s.broker.Publish(live.OrderTopic(st.OrderID), live.Event{Type: live.EventPosition, Data: map[string]any{
			"orderId":    st.OrderID,
			"routeId":    pos.RouteID,
			"status":     "IN_TRANSIT",
			"lat":        pos.Lat,
			"lng":        pos.Lng,
			"batteryPct": pos.BatteryPct,
			"ts":         pos.TS,
		}})
	}
}

// stopped turns a travel interruption into the matching terminal outcome.
func (s *Simulator) stopped(ctx context.Context, f *flight, err error) error {
	switch {
	case errors.Is(err, errBatteryDepleted):
		s.log.Warnw("flight_emergency_landing", "route_id", f.route.ID, "traveled_km", round(f.traveled, 3))
		return s.finishAborted(f, model.FlightEmergencyLand, model.DroneMaintenance, "battery depleted")
	case errors.Is(err, errAborted), errors.Is(context.Cause(ctx), errAborted):
		return s.finishAborted(f, model.FlightAborted, model.DroneIdle, "")
	case ctx.Err() != nil:
		s.interrupted(ctx, f.route.ID, f)
		return nil
	}
	return err
}

func (s *Simulator) interrupted(ctx context.Context, routeID string, f *flight) {
	if errors.Is(context.Cause(ctx), errAborted) {
		if f == nil {
			uctx, cancel := s.unit(ctx)
			r, err := s.store.GetRoute(uctx, routeID)
			cancel()
			if err != nil {
				s.log.Errorw("flight_abort_failed", "route_id", routeID, "error", err)
				return
			}
			f = &flight{route: r, start: s.now(), battery: 100}
		}
		if err := s.finishAborted(f, model.FlightAborted, model.DroneIdle, ""); err != nil {
			s.log.Errorw("flight_abort_failed", "route_id", routeID, "error", err)
		}
		return
	}
	s.log.Warnw("flight_interrupted", "route_id", routeID, "cause", context.Cause(ctx))
}

func (s *Simulator) finishAborted(f *flight, result model.FlightResult, droneStatus model.DroneStatus, note string) error {
	routeID := f.route.ID
	end := s.now()
	fl := model.FlightLog{
		RouteID:        routeID,
		DroneID:        f.route.DroneID,
		StartTime:      f.start,
		EndTime:        end,
		DistanceKm:     round(f.traveled, 3),
		BatteryUsedPct: int(math.Round(100 - f.battery)),
		Result:         result,
		Note:           note,
	}
	uctx, cancel := s.unit(context.Background())
	defer cancel()
	if err := s.store.FinishAbortedRoute(uctx, fl, droneStatus); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			s.log.Debugw("flight_already_finalised", "route_id", routeID)
			return nil
		}
		return fmt.Errorf("finish aborted route: %w", err)
	}
	metrics.Flights.WithLabelValues(string(result)).Inc()
	s.log.Infow("flight_aborted", "route_id", routeID, "result", result, "distance_km", fl.DistanceKm)

	for _, st := range f.route.Stops {
		if st.Type != model.StopDrop || st.OrderID == "" || st.Status != model.StopPending {
			continue
		}
		evt := live.Event{Type: live.EventOrderFailed, Data: map[string]any{
			"orderId": st.OrderID, "routeId": routeID, "status": model.OrderFailed,
		}}
		s.broker.Publish(live.RouteTopic(routeID), evt)
		s.broker.Publish(live.OrderTopic(st.OrderID), evt)
	}
	s.broker.Publish(live.RouteTopic(routeID), live.Event{Type: live.EventRouteAborted, Data: map[string]any{
		"routeId": routeID, "result": result, "endedAt": end,
	}})
	return nil
}

// aborted reports whether the route was aborted, through Abort or directly in the store.
func (s *Simulator) aborted(ctx context.Context, routeID string) bool {
	if errors.Is(context.Cause(ctx), errAborted) {
		return true
	}
	uctx, cancel := s.unit(ctx)
	defer cancel()
	st, err := s.store.RouteStatus(uctx, routeID)
	return err == nil && st == model.RouteAborted
}

func (s *Simulator) wait(ctx context.Context) error {
	t := time.NewTimer(s.cfg.Tick)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

// unit is the context for one store call. It survives cancellation of the flight so a
// transition in progress is not cut short.
func (s *Simulator) unit(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.UnitTimeout)
}

// stamp keeps sample timestamps strictly increasing.
func (f *flight) stamp(t time.Time) time.Time {
	if !t.After(f.lastTS) {
		t = f.lastTS.Add(time.Microsecond)
	}
	f.lastTS = t
	return t
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
