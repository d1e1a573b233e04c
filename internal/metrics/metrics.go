package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// BatchRuns counts batch cycles by trigger (cron, manual) and result (ok, error)
	BatchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_batch_runs_total", Help: "Batch cycles by trigger and result."},
		[]string{"trigger", "result"},
	)
	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "dispatch_batch_duration_seconds", Help: "Batch cycle duration in seconds.", Buckets: prometheus.DefBuckets},
	)
	// OrdersAssigned counts orders moved CREATED→ASSIGNED by mode (batch, explicit)
	OrdersAssigned = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_orders_assigned_total", Help: "Orders assigned to a route."},
		[]string{"mode"},
	)
	// GroupsSkipped counts store groups that produced no route, by reason
	GroupsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_groups_skipped_total", Help: "Store groups skipped by reason."},
		[]string{"reason"},
	)

	// Flights counts finished simulated flights by result
	Flights = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "simulator_flights_total", Help: "Finished flights by result."},
		[]string{"result"},
	)
	ActiveFlights = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "simulator_active_flights", Help: "Flights currently simulated."},
	)
	PositionSamples = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "simulator_position_samples_total", Help: "Position samples recorded."},
	)

	// LiveEvents counts live-update events by driver and outcome (published, dropped, error)
	LiveEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "live_events_total", Help: "Live-update events by driver and outcome."},
		[]string{"driver", "outcome"},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(BatchRuns, BatchDuration, OrdersAssigned, GroupsSkipped)
		Registry.MustRegister(Flights, ActiveFlights, PositionSamples)
		Registry.MustRegister(LiveEvents)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
