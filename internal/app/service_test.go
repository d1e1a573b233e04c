package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeService struct {
	name    string
	failIn  time.Duration
	started atomic.Bool
	stopped atomic.Bool
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Start(ctx context.Context) error {
	f.started.Store(true)
	if f.failIn > 0 {
		select {
		case <-time.After(f.failIn):
			return errors.New("boom")
		case <-ctx.Done():
			return nil
		}
	}
	<-ctx.Done()
	return nil
}

func (f *fakeService) Stop(ctx context.Context) error {
	f.stopped.Store(true)
	return nil
}

func TestRunnerStopsAllOnCancel(t *testing.T) {
	a, b := &fakeService{name: "a"}, &fakeService{name: "b"}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewRunner(a, b).Run(ctx, time.Second, zap.NewNop().Sugar()) }()

	require.Eventually(t, func() bool { return a.started.Load() && b.started.Load() }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	assert.True(t, a.stopped.Load())
	assert.True(t, b.stopped.Load())
}

func TestRunnerReturnsFirstFailure(t *testing.T) {
	ok := &fakeService{name: "ok"}
	bad := &fakeService{name: "bad", failIn: 10 * time.Millisecond}
	err := NewRunner(ok, bad).Run(context.Background(), time.Second, zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())
	assert.True(t, ok.stopped.Load())
}

func TestRunnerWithoutServices(t *testing.T) {
	assert.Error(t, NewRunner().Run(context.Background(), time.Second, nil))
}
