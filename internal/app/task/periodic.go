// Package task runs periodic background work behind an explicit handle.
package task

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Periodic calls fn every interval until Stop is called or the parent
// context is done. Stop waits for the loop to exit, so no call to fn starts
// after Stop returns.
type Periodic struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     conc.WaitGroup
	once   sync.Once
}

// New returns a stopped handle. fn may reference the handle, since no call
// happens before Start.
func New(name string, interval time.Duration, fn func(ctx context.Context)) *Periodic {
	return &Periodic{name: name, interval: interval, fn: fn}
}

// Every starts fn on its own goroutine. A panic in fn is recovered by the
// wait group and re-raised from Stop.
func Every(ctx context.Context, name string, interval time.Duration, fn func(ctx context.Context)) *Periodic {
	p := New(name, interval, fn)
	p.Start(ctx)
	return p
}

// Start runs the loop. Only the first call has an effect, and none after Stop.
func (p *Periodic) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Go(func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		log.Debug().Str("module", "task").Str("task", p.name).Dur("interval", p.interval).Msg("periodic started")
		for {
			select {
			case <-ctx.Done():
				log.Debug().Str("module", "task").Str("task", p.name).Msg("periodic stopped")
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				p.fn(ctx)
			}
		}
	})
}

// Stop cancels the loop and waits for it. Safe to call more than once.
func (p *Periodic) Stop() {
	p.once.Do(func() {
		p.mu.Lock()
		if p.cancel == nil {
			p.cancel = func() {}
		}
		cancel := p.cancel
		p.mu.Unlock()
		cancel()
		p.wg.Wait()
	})
}

// Go runs fn until it returns or ctx is done, restarting it after delay each
// time it returns while ctx is still live. The returned handle stops it.
func Go(ctx context.Context, name string, delay time.Duration, fn func(ctx context.Context)) *Periodic {
	ctx, cancel := context.WithCancel(ctx)
	p := &Periodic{name: name, interval: delay, fn: fn, cancel: cancel}
	p.wg.Go(func() {
		for {
			fn(ctx)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	})
	return p
}
