package live

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func TestLimitedDropsPositionsOverBudget(t *testing.T) {
	inner := NewBroker()
	l := NewLimited(inner, 0.001, 2)
	ch := l.Subscribe("route:r")
	defer l.Unsubscribe("route:r", ch)

	for i := 0; i < 5; i++ {
		l.Publish("route:r", Event{Type: EventPosition})
	}
	assert.Len(t, ch, 2)

	// lifecycle events are never throttled
	for i := 0; i < 3; i++ {
		l.Publish("route:r", Event{Type: EventStopArrived})
	}
	assert.Len(t, ch, 5)
}

func TestLimitedBudgetsEachTopicSeparately(t *testing.T) {
	inner := NewBroker()
	l := NewLimited(inner, 0.001, 2)
	busy := l.Subscribe("route:busy")
	defer l.Unsubscribe("route:busy", busy)
	quiet := l.Subscribe("order:quiet")
	defer l.Unsubscribe("order:quiet", quiet)

	for i := 0; i < 10; i++ {
		l.Publish("route:busy", Event{Type: EventPosition})
	}
	l.Publish("order:quiet", Event{Type: EventPosition})
	l.Publish("order:quiet", Event{Type: EventPosition})

	assert.Len(t, busy, 2)
	assert.Len(t, quiet, 2, "a busy topic does not spend another topic's budget")
}

func TestLimitedForgetsIdleTopics(t *testing.T) {
	l := NewLimited(NewBroker(), 1000, 1)
	for i := 0; i < pruneAt; i++ {
		l.limiters[fmt.Sprintf("route:%d", i)] = rate.NewLimiter(l.perSecond, l.burst)
	}
	l.Publish("route:new", Event{Type: EventPosition})
	assert.Len(t, l.limiters, 1)
}

func TestOpenFallsBackToMemory(t *testing.T) {
	b, closeFn := Open(context.Background(), Options{Driver: DriverRedis, RedisURL: "redis://127.0.0.1:1"}, zap.NewNop().Sugar())
	assert.IsType(t, &Broker{}, b)
	assert.NoError(t, closeFn())

	b, _ = Open(context.Background(), Options{Driver: "carrier-pigeon"}, zap.NewNop().Sugar())
	assert.IsType(t, &Broker{}, b)

	b, _ = Open(context.Background(), Options{RatePerSecond: 10, Burst: 5}, zap.NewNop().Sugar())
	assert.IsType(t, &Limited{}, b)
}
