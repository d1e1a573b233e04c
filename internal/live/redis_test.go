package live

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBroker(t *testing.T) *RedisBroker {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := NewRedisBroker(context.Background(), "redis://"+mr.Addr(), "live:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBrokerRoundTrip(t *testing.T) {
	b := newTestRedisBroker(t)
	topic := RouteTopic("r1")
	ch := b.Subscribe(topic)

	b.Publish(topic, Event{Type: EventStopArrived, Data: map[string]any{"seq": 2}})
	select {
	case got := <-ch:
		assert.Equal(t, EventStopArrived, got.Type)
		// JSON numbers decode as float64
		assert.Equal(t, float64(2), got.Data["seq"])
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for redis event")
	}

	b.Unsubscribe(topic, ch)
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRedisBrokerUnreachable(t *testing.T) {
	_, err := NewRedisBroker(context.Background(), "redis://127.0.0.1:1", "")
	assert.Error(t, err)
	_, err = NewRedisBroker(context.Background(), "not a url", "")
	assert.Error(t, err)
}
