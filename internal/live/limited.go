package live

import (
	"sync"

	"golang.org/x/time/rate"

	"dronedispatch/internal/metrics"
)

// pruneAt is the topic count past which limiters with a full bucket are forgotten.
const pruneAt = 1024

// Limited throttles position samples in front of another broker, with a separate budget
// per topic so a busy route cannot starve the others. Lifecycle events (arrivals,
// fulfilment, completion) always pass; samples over the limit are dropped.
type Limited struct {
	EventBroker
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewLimited(next EventBroker, perSecond float64, burst int) *Limited {
	if burst <= 0 {
		burst = 1
	}
	return &Limited{
		EventBroker: next,
		perSecond:   rate.Limit(perSecond),
		burst:       burst,
		limiters:    map[string]*rate.Limiter{},
	}
}

func (l *Limited) Publish(topic string, evt Event) {
	if evt.Type == EventPosition && !l.limiter(topic).Allow() {
		metrics.LiveEvents.WithLabelValues("limiter", "dropped").Inc()
		return
	}
	l.EventBroker.Publish(topic, evt)
}

func (l *Limited) limiter(topic string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[topic]; ok {
		return lim
	}
	if len(l.limiters) >= pruneAt {
		for t, lim := range l.limiters {
			if lim.Tokens() >= float64(l.burst) {
				delete(l.limiters, t)
			}
		}
	}
	lim := rate.NewLimiter(l.perSecond, l.burst)
	l.limiters[topic] = lim
	return lim
}
