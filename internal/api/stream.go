package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"dronedispatch/internal/live"
)

const sseHeartbeat = 15 * time.Second

// terminalFor reports whether evt ends the stream of topic.
func terminalFor(topic string, evt live.Event) bool {
	switch evt.Type {
	case live.EventRouteCompleted, live.EventRouteAborted:
		return topic == live.RouteTopic(fmt.Sprint(evt.Data["routeId"]))
	case live.EventOrderFulfilled, live.EventOrderFailed:
		return topic == live.OrderTopic(fmt.Sprint(evt.Data["orderId"]))
	}
	return false
}

// RouteEventsHandler handles GET /v1/routes/{id}/events/stream
func (s *Server) RouteEventsHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rt, err := s.Store.GetRoute(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.stream(w, r, live.RouteTopic(id), map[string]any{"routeId": id, "status": rt.Status})
}

// OrderEventsHandler handles GET /v1/orders/{id}/events/stream
func (s *Server) OrderEventsHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	o, err := s.Store.GetOrder(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.stream(w, r, live.OrderTopic(id), map[string]any{"orderId": id, "status": o.Status})
}

// stream relays topic as server-sent events until the client leaves or a terminal event passes.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, topic string, hello map[string]any) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	heartbeat := func() {
		hello["ts"] = time.Now().UTC().Format(time.RFC3339)
		writeSSE(w, "heartbeat", hello)
		flusher.Flush()
	}
	heartbeat()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, evt.Type, evt.Data)
			flusher.Flush()
			if terminalFor(topic, evt) {
				return
			}
		case <-ticker.C:
			heartbeat()
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data any) {
	b, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", b)
}
