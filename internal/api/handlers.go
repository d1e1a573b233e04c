package api

import (
	"fmt"
	"net/http"
	"strconv"

	"dronedispatch/internal/dispatch"
	"dronedispatch/internal/geo"
	"dronedispatch/internal/model"
)

const (
	defaultPositionLimit = 500
	maxPositionLimit     = 5000
)

// CreateStoreHandler handles POST /v1/stores
func (s *Server) CreateStoreHandler(w http.ResponseWriter, r *http.Request) {
	var in storeIn
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := validateStoreIn(&in); err != nil {
		s.fail(w, r, err)
		return
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}
	st, err := s.Store.CreateStore(r.Context(), model.Store{
		ID:               in.ID,
		Name:             in.Name,
		Location:         in.Location,
		DeliveryRadiusKm: in.DeliveryRadiusKm,
		Active:           active,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// ListStoresHandler handles GET /v1/stores
func (s *Server) ListStoresHandler(w http.ResponseWriter, r *http.Request) {
	items, err := s.Store.ListStores(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// CreateDroneHandler handles POST /v1/drones
func (s *Server) CreateDroneHandler(w http.ResponseWriter, r *http.Request) {
	var in droneIn
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := validateDroneIn(&in); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.Store.CreateDrone(r.Context(), model.Drone{
		ID:              in.ID,
		StoreID:         in.StoreID,
		Model:           in.Model,
		BatteryCapacity: in.BatteryCapacity,
		MaxPayloadKg:    in.MaxPayloadKg,
		Status:          model.DroneIdle,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// ListDronesHandler handles GET /v1/drones?storeId=
func (s *Server) ListDronesHandler(w http.ResponseWriter, r *http.Request) {
	items, err := s.Store.ListDrones(r.Context(), r.URL.Query().Get("storeId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// DroneStatusHandler handles PATCH /v1/drones/{id}/status, for charging and maintenance.
func (s *Server) DroneStatusHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status model.DroneStatus `json:"status"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := validateDroneStatus(in.Status); err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.Store.UpdateDroneStatus(r.Context(), r.PathValue("id"), in.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// CreateOrderHandler handles POST /v1/orders
func (s *Server) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var in model.OrderIn
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := validateOrderIn(&in); err != nil {
		s.fail(w, r, err)
		return
	}
	st, err := s.Store.GetStore(r.Context(), in.StoreID)
	if err != nil {
		s.fail(w, r, fmt.Errorf("store %s: %w", in.StoreID, err))
		return
	}
	if !st.Active {
		s.fail(w, r, fmt.Errorf("%w: %s", dispatch.ErrStoreInactive, st.ID))
		return
	}
	if !geo.WithinRadius(st.Location, in.Dest, st.DeliveryRadiusKm) {
		writeProblem(w, http.StatusUnprocessableEntity, "Constraint violated",
			fmt.Sprintf("%v: %.2fkm > %.2fkm", errOutsideRadius, geo.Between(st.Location, in.Dest), st.DeliveryRadiusKm), r.URL.Path)
		return
	}
	o, err := s.Store.CreateOrder(r.Context(), model.Order{
		StoreID:     in.StoreID,
		CustomerRef: in.CustomerRef,
		Dest:        in.Dest,
		WeightKg:    in.WeightKg,
		AmountTotal: in.AmountTotal,
		ItemCount:   in.ItemCount,
		Note:        in.Note,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Infow("order_created", "order_id", o.ID, "store_id", o.StoreID, "weight_kg", o.WeightKg)
	writeJSON(w, http.StatusCreated, o)
}

// GetOrderHandler handles GET /v1/orders/{id}
func (s *Server) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	o, err := s.Store.GetOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// CancelOrderHandler handles POST /v1/orders/{id}/cancel; only CREATED orders can be canceled.
func (s *Server) CancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	o, err := s.Store.CancelOrder(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// OrderRouteHandler handles GET /v1/orders/{id}/route
func (s *Server) OrderRouteHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.Store.GetOrder(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	routeID, err := s.Store.RouteForOrder(r.Context(), id)
	if err != nil {
		s.fail(w, r, fmt.Errorf("route for order %s: %w", id, err))
		return
	}
	rt, err := s.Store.GetRoute(r.Context(), routeID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

// StartDeliveriesHandler handles POST /v1/deliveries/start, an on-demand batch cycle.
func (s *Server) StartDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Dispatcher.RunCycle(r.Context(), dispatch.TriggerManual)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"report":         rep,
		"routesCreated":  rep.RoutesCreated(),
		"ordersAssigned": rep.OrdersAssigned(),
	})
}

// DispatchHandler handles POST /v1/deliveries/dispatch with an explicit order list.
func (s *Server) DispatchHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OrderIDs []string `json:"orderIds"`
	}
	if err := decodeJSON(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	rt, err := s.Dispatcher.DispatchOrders(r.Context(), in.OrderIDs)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rt)
}

// ActiveRoutesHandler handles GET /v1/routes/active
func (s *Server) ActiveRoutesHandler(w http.ResponseWriter, r *http.Request) {
	items, err := s.Store.ListActiveRoutes(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// GetRouteHandler handles GET /v1/routes/{id}
func (s *Server) GetRouteHandler(w http.ResponseWriter, r *http.Request) {
	rt, err := s.Store.GetRoute(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rt)
}

// CurrentPositionHandler handles GET /v1/routes/{id}/current-position
func (s *Server) CurrentPositionHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.Store.LatestPosition(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// PositionsHandler handles GET /v1/routes/{id}/positions?limit=; the newest samples are kept.
func (s *Server) PositionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultPositionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.fail(w, r, invalid("limit must be a positive integer"))
			return
		}
		limit = min(n, maxPositionLimit)
	}
	items, err := s.Store.ListPositions(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// FlightLogHandler handles GET /v1/routes/{id}/flight-log
func (s *Server) FlightLogHandler(w http.ResponseWriter, r *http.Request) {
	l, err := s.Store.GetFlightLog(r.Context(), r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// AbortRouteHandler handles POST /v1/routes/{id}/abort with an optional {"reason"} body.
func (s *Server) AbortRouteHandler(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &in); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	id := r.PathValue("id")
	if err := s.Flights.Abort(r.Context(), id, in.Reason); err != nil {
		s.fail(w, r, err)
		return
	}
	s.log.Infow("route_abort_requested", "route_id", id, "reason", in.Reason)
	rt, err := s.Store.GetRoute(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rt)
}
