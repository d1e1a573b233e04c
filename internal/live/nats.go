package live

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"dronedispatch/internal/metrics"
)

type NATSOptions struct {
	URL            string
	Name           string
	SubjectPrefix  string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// NATSBroker implements EventBroker with core NATS pub/sub; topic route:<id> travels on
// subject <prefix>.route.<id>.
type NATSBroker struct {
	conn   *nats.Conn
	prefix string

	mu   sync.Mutex
	subs map[chan Event]*natsSub
}

type natsSub struct {
	mu     sync.Mutex
	closed bool
	ch     chan Event
	sub    *nats.Subscription
}

func NewNATSBroker(opts NATSOptions) (*NATSBroker, error) {
	if opts.SubjectPrefix == "" {
		opts.SubjectPrefix = "dronedispatch"
	}
	conn, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.Timeout(opts.ConnectTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSBroker{conn: conn, prefix: opts.SubjectPrefix, subs: map[chan Event]*natsSub{}}, nil
}

func (b *NATSBroker) Subscribe(topic string) chan Event {
	s := &natsSub{ch: make(chan Event, subscriberBuffer)}
	sub, err := b.conn.Subscribe(subjectFor(b.prefix, topic), func(msg *nats.Msg) {
		var evt Event
		if err := json.Unmarshal(msg.Data, &evt); err != nil {
			return
		}
		s.deliver(evt)
	})
	if err != nil {
		// a closed channel tells the caller the stream is over
		close(s.ch)
		return s.ch
	}
	s.sub = sub
	b.mu.Lock()
	b.subs[s.ch] = s
	b.mu.Unlock()
	return s.ch
}

func (s *natsSub) deliver(evt Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- evt:
	default:
		metrics.LiveEvents.WithLabelValues("nats", "dropped").Inc()
	}
}

func (s *natsSub) close() {
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (b *NATSBroker) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	s, ok := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ok {
		s.close()
	}
}

func (b *NATSBroker) Publish(topic string, evt Event) {
	data, err := json.Marshal(evt)
	if err == nil {
		err = b.conn.Publish(subjectFor(b.prefix, topic), data)
	}
	if err != nil {
		metrics.LiveEvents.WithLabelValues("nats", "error").Inc()
		return
	}
	metrics.LiveEvents.WithLabelValues("nats", "published").Inc()
}

func (b *NATSBroker) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = map[chan Event]*natsSub{}
	b.mu.Unlock()
	for _, s := range subs {
		s.close()
	}
	return b.conn.Drain()
}

// subjectFor maps "route:abc" to "<prefix>.route.abc".
func subjectFor(prefix, topic string) string {
	return prefix + "." + strings.Replace(topic, ":", ".", 1)
}
