// Command livewatch prints live updates for a route or an order from a running API.
package main

import (
	"encoding/json"
	"flag"
	"net/url"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"

	"dronedispatch/internal/live"
	"dronedispatch/internal/logger"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	addr := flag.String("addr", "localhost:8080", "API host:port")
	route := flag.String("route", "", "route id to watch")
	order := flag.String("order", "", "order id to watch")
	flag.Parse()

	logger.Init("debug", logger.Options{Output: "stdout"})
	defer func() { _ = logger.Z().Sync() }()
	log := logger.S()

	var topic string
	switch {
	case *route != "":
		topic = live.RouteTopic(*route)
	case *order != "":
		topic = live.OrderTopic(*order)
	default:
		log.Fatal("one of -route or -order is required")
	}

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/ws/live"}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalw("dial_failed", "url", u.String(), "error", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatalw("init_failed", "error", err)
	}
	pl, _ := json.Marshal(map[string]string{"topic": topic})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatalw("subscribe_failed", "error", err)
	}
	log.Infow("watching", "topic", topic)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Infow("connection_closed", "error", err)
				return
			}
			switch m.Type {
			case "next":
				var evt live.Event
				if err := json.Unmarshal(m.Payload, &evt); err != nil {
					log.Warnw("bad_event", "payload", string(m.Payload), "error", err)
					continue
				}
				log.Infow(evt.Type, "data", evt.Data)
			case "error":
				log.Errorw("subscription_error", "payload", string(m.Payload))
			case "complete":
				log.Infow("subscription_complete", "topic", topic)
				return
			}
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	select {
	case <-done:
	case <-interrupt:
		_ = c.WriteJSON(wsMessage{Type: "complete", ID: "1"})
		_ = c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		select {
		case <-done:
		case <-time.After(time.Second):
		}
	}
}
