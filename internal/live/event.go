// Package live fans flight progress out to whoever is watching a route or an order.
// Delivery is best-effort: slow subscribers miss events rather than slowing the publisher.
package live

import "strings"

type Event struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Event types.
const (
	EventRouteLaunched  = "route.launched"
	EventPosition       = "position"
	EventStopArrived    = "stop.arrived"
	EventStopDeparted   = "stop.departed"
	EventOrderFulfilled = "order.fulfilled"
	EventOrderFailed    = "order.failed"
	EventRouteCompleted = "route.completed"
	EventRouteAborted   = "route.aborted"
)

// EventBroker is implemented by every live-update sink.
// Unsubscribe closes the channel returned by Subscribe.
type EventBroker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(topic string, evt Event)
}

func RouteTopic(routeID string) string { return "route:" + routeID }

func OrderTopic(orderID string) string { return "order:" + orderID }

// ValidTopic accepts route:<id> and order:<id>.
func ValidTopic(topic string) bool {
	kind, id, ok := strings.Cut(topic, ":")
	if !ok || strings.TrimSpace(id) == "" || strings.ContainsAny(id, " .*>") {
		return false
	}
	return kind == "route" || kind == "order"
}
