package autosync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xledger/internal/application/service"
	"xledger/internal/domain/model"
)

type countingStarter struct {
	calls atomic.Int32
	busy  bool
}

func (c *countingStarter) Start(context.Context, service.SyncRequest) (service.StartResult, error) {
	c.calls.Add(1)
	if c.busy {
		return service.StartResult{RunID: "r0"}, &model.SyncInProgressError{Account: "main", RunID: "r0"}
	}
	return service.StartResult{Started: true, RunID: "r1"}, nil
}

func TestRunTriggersOnEveryTick(t *testing.T) {
	st := &countingStarter{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewService(ServiceDeps{Sync: st, Interval: 10 * time.Millisecond, RunAtStart: true}).Run(ctx)
	}()

	require.Eventually(t, func() bool { return st.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunToleratesRunInProgress(t *testing.T) {
	st := &countingStarter{busy: true}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewService(ServiceDeps{Sync: st, Interval: 5 * time.Millisecond}).Run(ctx) }()

	require.Eventually(t, func() bool { return st.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))
}

func TestZeroIntervalNeverTicks(t *testing.T) {
	st := &countingStarter{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := NewService(ServiceDeps{Sync: st}).Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, st.calls.Load())
}

func TestZeroIntervalStillRunsAtStart(t *testing.T) {
	st := &countingStarter{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := NewService(ServiceDeps{Sync: st, RunAtStart: true}).Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int32(1), st.calls.Load())
}

func TestRunWithoutSync(t *testing.T) {
	assert.Error(t, NewService(ServiceDeps{Interval: time.Second}).Run(context.Background()))
}
