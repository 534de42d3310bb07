package task

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvery_StopsCalling(t *testing.T) {
	req := require.New(t)
	var calls atomic.Int32

	p := Every(context.Background(), "test", time.Millisecond, func(context.Context) {
		calls.Add(1)
	})
	req.Eventually(func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)

	// When the handle is stopped
	p.Stop()
	after := calls.Load()
	time.Sleep(20 * time.Millisecond)

	// Then no further call happens
	req.Equal(after, calls.Load())
	p.Stop()
}

func TestEvery_ParentCancel(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	p := Every(ctx, "test", time.Millisecond, func(context.Context) { calls.Add(1) })
	req.Eventually(func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	cancel()
	p.Stop()

	after := calls.Load()
	time.Sleep(10 * time.Millisecond)
	req.Equal(after, calls.Load())
}

func TestGo_RestartsUntilStopped(t *testing.T) {
	req := require.New(t)
	var runs atomic.Int32

	p := Go(context.Background(), "restart", time.Millisecond, func(context.Context) {
		runs.Add(1)
	})
	req.Eventually(func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	p.Stop()

	after := runs.Load()
	time.Sleep(10 * time.Millisecond)
	req.Equal(after, runs.Load())
}

func TestNew_HandleUsableFromFirstCall(t *testing.T) {
	req := require.New(t)
	var p *Periodic
	var once sync.Once
	stopped := make(chan struct{})

	// Given a loop that stops itself from inside fn
	p = New("self-stop", time.Millisecond, func(context.Context) {
		once.Do(func() {
			go func() {
				p.Stop()
				close(stopped)
			}()
		})
	})

	// When it is started
	p.Start(context.Background())

	// Then the handle it reads is the started one
	select {
	case <-stopped:
	case <-time.After(time.Second):
		req.Fail("loop did not stop itself")
	}
	p.Start(context.Background())
	p.Stop()
}

func TestStop_BeforeStart(t *testing.T) {
	var calls atomic.Int32
	p := New("never", time.Millisecond, func(context.Context) { calls.Add(1) })
	p.Stop()
	p.Start(context.Background())
	time.Sleep(10 * time.Millisecond)
	require.Zero(t, calls.Load())
}
