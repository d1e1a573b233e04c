package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dronedispatch/internal/live"
)

// Websocket live updates. Client messages: connection_init, ping, subscribe {topic}, complete.
// Server messages: connection_ack, pong, next {event}, error {message}, complete.

const (
	wsReadTimeout = 60 * time.Second
	wsPingEvery   = 20 * time.Second
	wsWriteWait   = 10 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type subscribePayload struct {
	Topic string `json:"topic"`
}

type wsSub struct {
	topic string
	ch    chan live.Event
}

// wsSession serializes writes; gorilla connections allow one concurrent writer.
type wsSession struct {
	conn   *websocket.Conn
	broker live.EventBroker

	writeMu sync.Mutex
	mu      sync.Mutex
	subs    map[string]wsSub
}

func (ss *wsSession) write(m wsMessage) error {
	ss.writeMu.Lock()
	defer ss.writeMu.Unlock()
	_ = ss.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return ss.conn.WriteJSON(m)
}

func (ss *wsSession) writeError(id, msg string) {
	pl, _ := json.Marshal(map[string]string{"message": msg})
	_ = ss.write(wsMessage{Type: "error", ID: id, Payload: pl})
	_ = ss.write(wsMessage{Type: "complete", ID: id})
}

func (ss *wsSession) subscribe(id, topic string) {
	ss.mu.Lock()
	if _, dup := ss.subs[id]; dup {
		ss.mu.Unlock()
		ss.writeError(id, "subscription id already in use")
		return
	}
	sub := wsSub{topic: topic, ch: ss.broker.Subscribe(topic)}
	ss.subs[id] = sub
	ss.mu.Unlock()

	go func() {
		for evt := range sub.ch {
			pl, _ := json.Marshal(evt)
			if err := ss.write(wsMessage{Type: "next", ID: id, Payload: pl}); err != nil {
				ss.unsubscribe(id)
				continue
			}
			if terminalFor(topic, evt) {
				ss.unsubscribe(id)
			}
		}
		_ = ss.write(wsMessage{Type: "complete", ID: id})
	}()
}

func (ss *wsSession) unsubscribe(id string) {
	ss.mu.Lock()
	sub, ok := ss.subs[id]
	delete(ss.subs, id)
	ss.mu.Unlock()
	if ok {
		ss.broker.Unsubscribe(sub.topic, sub.ch)
	}
}

func (ss *wsSession) closeAll() {
	ss.mu.Lock()
	ids := make([]string, 0, len(ss.subs))
	for id := range ss.subs {
		ids = append(ids, id)
	}
	ss.mu.Unlock()
	for _, id := range ids {
		ss.unsubscribe(id)
	}
}

// LiveWSHandler handles /ws/live
func (s *Server) LiveWSHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ss := &wsSession{conn: conn, broker: s.Broker, subs: map[string]wsSub{}}
	defer ss.closeAll()

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsReadTimeout)) })

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ss.writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
				ss.writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		switch msg.Type {
		case "connection_init":
			_ = ss.write(wsMessage{Type: "connection_ack"})
		case "ping":
			_ = ss.write(wsMessage{Type: "pong"})
		case "subscribe":
			var pl subscribePayload
			if err := json.Unmarshal(msg.Payload, &pl); err != nil || msg.ID == "" {
				ss.writeError(msg.ID, "subscribe needs an id and a {\"topic\"} payload")
				continue
			}
			if !live.ValidTopic(pl.Topic) {
				ss.writeError(msg.ID, "topic must be route:<id> or order:<id>")
				continue
			}
			ss.subscribe(msg.ID, pl.Topic)
		case "complete":
			ss.unsubscribe(msg.ID)
		default:
			s.log.Debugw("ws_unknown_message", "type", msg.Type)
		}
	}
}
