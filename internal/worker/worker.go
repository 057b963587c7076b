// Package worker runs queued jobs on a bounded number of goroutines.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

type Options[J any] struct {
	// Size bounds concurrently running handlers. Values below 1 mean 1.
	Size   int
	Queue  int
	Handle func(context.Context, J)
	Logger *slog.Logger
}

type Pool[J any] struct {
	ctx    context.Context
	jobs   chan J
	sem    chan struct{}
	handle func(context.Context, J)
	logger *slog.Logger
	wg     sync.WaitGroup
}

// Start launches the dispatcher. It stops taking jobs when ctx is done;
// call Wait to block until running handlers return.
func Start[J any](ctx context.Context, opts Options[J]) *Pool[J] {
	size := opts.Size
	if size < 1 {
		size = 1
	}
	queue := opts.Queue
	if queue < 0 {
		queue = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool[J]{
		ctx:    ctx,
		jobs:   make(chan J, queue),
		sem:    make(chan struct{}, size),
		handle: opts.Handle,
		logger: logger,
	}
	p.wg.Add(1)
	go p.dispatch()
	return p
}

func (p *Pool[J]) dispatch() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobs:
			select {
			case p.sem <- struct{}{}:
			case <-p.ctx.Done():
				return
			}
			p.wg.Add(1)
			go func() {
				defer p.wg.Done()
				defer func() { <-p.sem }()
				p.run(job)
			}()
		}
	}
}

func (p *Pool[J]) run(job J) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("worker_panic", "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
		}
	}()
	if p.handle != nil {
		p.handle(p.ctx, job)
	}
}

// Enqueue hands job to the pool, blocking while the queue is full.
func (p *Pool[J]) Enqueue(ctx context.Context, job J) error {
	if ctx == nil {
		ctx = p.ctx
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobs <- job:
		return nil
	}
}

func (p *Pool[J]) Wait() {
	p.wg.Wait()
}
