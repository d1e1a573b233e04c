package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type countingRunner struct {
	calls   atomic.Int32
	trigger atomic.Value
}

func (c *countingRunner) RunCycle(ctx context.Context, trigger string) (Report, error) {
	c.calls.Add(1)
	c.trigger.Store(trigger)
	return Report{Trigger: trigger}, nil
}

func TestCronTriggerFires(t *testing.T) {
	r := &countingRunner{}
	ct, err := NewCronTrigger("@every 1s", r, time.Second, zap.NewNop().Sugar())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ct.Start(ctx) }()

	require.Eventually(t, func() bool { return r.calls.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, TriggerCron, r.trigger.Load())

	cancel()
	require.NoError(t, <-done)
	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	assert.NoError(t, ct.Stop(stopCtx))
}

func TestCronTriggerSchedules(t *testing.T) {
	_, err := NewCronTrigger("", &countingRunner{}, 0, nil)
	assert.NoError(t, err)
	_, err = NewCronTrigger(DefaultSchedule, &countingRunner{}, 0, nil)
	assert.NoError(t, err)
	_, err = NewCronTrigger("every ten minutes", &countingRunner{}, 0, nil)
	assert.Error(t, err)
	// the seconds field is required
	_, err = NewCronTrigger("*/10 * * * *", &countingRunner{}, 0, nil)
	assert.Error(t, err)
}
