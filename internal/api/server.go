// Package api implements the HTTP and websocket surface of the dispatch service.
package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dronedispatch/internal/dispatch"
	"dronedispatch/internal/live"
	"dronedispatch/internal/logger"
	"dronedispatch/internal/metrics"
	"dronedispatch/internal/model"
	"dronedispatch/internal/store"
)

// Dispatcher runs batch cycles and explicit dispatches.
type Dispatcher interface {
	RunCycle(ctx context.Context, trigger string) (dispatch.Report, error)
	DispatchOrders(ctx context.Context, orderIDs []string) (model.Route, error)
}

// FlightControl aborts simulated flights.
type FlightControl interface {
	Abort(ctx context.Context, routeID, reason string) error
	Active() []string
}

type Server struct {
	Store      store.Store
	Dispatcher Dispatcher
	Flights    FlightControl
	Broker     live.EventBroker
	// Config is the redacted configuration shown on /debug/info.
	Config map[string]any

	log *zap.SugaredLogger
}

type Deps struct {
	Store      store.Store
	Dispatcher Dispatcher
	Flights    FlightControl
	Broker     live.EventBroker
	Config     map[string]any
	Logger     *zap.SugaredLogger
}

func NewServer(d Deps) *Server {
	broker := d.Broker
	if broker == nil {
		broker = live.NewBroker()
	}
	return &Server{
		Store:      d.Store,
		Dispatcher: d.Dispatcher,
		Flights:    d.Flights,
		Broker:     broker,
		Config:     d.Config,
		log:        logger.Or(d.Logger),
	}
}

// Routes returns the service mux wrapped in the access log middleware.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	// Stores & fleet
	mux.HandleFunc("POST /v1/stores", s.CreateStoreHandler)
	mux.HandleFunc("GET /v1/stores", s.ListStoresHandler)
	mux.HandleFunc("POST /v1/drones", s.CreateDroneHandler)
	mux.HandleFunc("GET /v1/drones", s.ListDronesHandler)
	mux.HandleFunc("PATCH /v1/drones/{id}/status", s.DroneStatusHandler)

	// Orders
	mux.HandleFunc("POST /v1/orders", s.CreateOrderHandler)
	mux.HandleFunc("GET /v1/orders/{id}", s.GetOrderHandler)
	mux.HandleFunc("POST /v1/orders/{id}/cancel", s.CancelOrderHandler)
	mux.HandleFunc("GET /v1/orders/{id}/route", s.OrderRouteHandler)
	mux.HandleFunc("GET /v1/orders/{id}/events/stream", s.OrderEventsHandler)

	// Deliveries
	mux.HandleFunc("POST /v1/deliveries/start", s.StartDeliveriesHandler)
	mux.HandleFunc("POST /v1/deliveries/dispatch", s.DispatchHandler)

	// Routes
	mux.HandleFunc("GET /v1/routes/active", s.ActiveRoutesHandler)
	mux.HandleFunc("GET /v1/routes/{id}", s.GetRouteHandler)
	mux.HandleFunc("GET /v1/routes/{id}/current-position", s.CurrentPositionHandler)
	mux.HandleFunc("GET /v1/routes/{id}/positions", s.PositionsHandler)
	mux.HandleFunc("GET /v1/routes/{id}/flight-log", s.FlightLogHandler)
	mux.HandleFunc("POST /v1/routes/{id}/abort", s.AbortRouteHandler)
	mux.HandleFunc("GET /v1/routes/{id}/events/stream", s.RouteEventsHandler)

	// Live updates over websocket
	mux.HandleFunc("GET /ws/live", s.LiveWSHandler)

	// Ops
	mux.HandleFunc("GET /healthz", s.HealthHandler)
	mux.HandleFunc("GET /readyz", s.ReadyHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /debug/info", s.DebugJSON)
	mux.HandleFunc("GET /openapi.yaml", s.OpenAPIHandler)
	mux.HandleFunc("GET /openapi.json", s.OpenAPIJSONHandler)
	mux.HandleFunc("GET /docs", s.DocsHandler)

	return s.accessLog(mux)
}
