// Package reloadgate coordinates corpus reloads with in-flight replies.
//
// A Gate is closed while a reload runs. Readers check Reloading or block in
// Wait until the current reload finishes; only the goroutine that won Begin
// may call End.
package reloadgate

import (
	"context"
	"sync"
	"sync/atomic"
)

type Gate struct {
	active atomic.Bool

	mu   sync.Mutex
	done chan struct{}
}

func New() *Gate {
	return &Gate{}
}

// Begin marks a reload as started. It returns false when another reload is
// already running; the caller must not call End in that case.
func (g *Gate) Begin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active.Load() {
		return false
	}
	g.done = make(chan struct{})
	g.active.Store(true)
	return true
}

// End clears the reload flag and wakes every waiter.
func (g *Gate) End() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active.Load() {
		return
	}
	g.active.Store(false)
	close(g.done)
	g.done = nil
}

func (g *Gate) Reloading() bool {
	return g.active.Load()
}

// Wait blocks until no reload is running or ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if !g.active.Load() {
			g.mu.Unlock()
			return nil
		}
		done := g.done
		g.mu.Unlock()

		select {
		case <-done:
			// a new reload may have started between close and re-check
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run executes fn as an exclusive reload. When another reload is already
// running, Run waits for it instead and reports ran=false.
func (g *Gate) Run(ctx context.Context, fn func(context.Context) error) (ran bool, err error) {
	if !g.Begin() {
		return false, g.Wait(ctx)
	}
	defer g.End()
	return true, fn(ctx)
}
