package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPool_BoundsConcurrency(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var running, peak atomic.Int32
	var done sync.WaitGroup
	release := make(chan struct{})

	pool := Start(ctx, Options[int]{
		Size: 2,
		Handle: func(ctx context.Context, _ int) {
			defer done.Done()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			<-release
			running.Add(-1)
		},
	})

	done.Add(3)
	for i := 0; i < 3; i++ {
		if err := pool.Enqueue(ctx, i); err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
	}

	time.Sleep(50 * time.Millisecond)
	if got := running.Load(); got != 2 {
		t.Fatalf("running handlers = %d, want 2", got)
	}
	close(release)
	done.Wait()

	if got := peak.Load(); got != 2 {
		t.Fatalf("peak concurrency = %d, want 2", got)
	}
	cancel()
	pool.Wait()
}

func TestPool_RecoversPanics(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan int, 2)
	pool := Start(ctx, Options[int]{
		Size: 1,
		Handle: func(ctx context.Context, job int) {
			if job == 0 {
				panic("boom")
			}
			handled <- job
		},
	})
	if err := pool.Enqueue(ctx, 0); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := pool.Enqueue(ctx, 1); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	select {
	case got := <-handled:
		if got != 1 {
			t.Fatalf("handled job = %d, want 1", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pool stopped after a panicking job")
	}
	cancel()
	pool.Wait()
}

func TestPool_EnqueueAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := Start(ctx, Options[int]{Handle: func(context.Context, int) {}})
	cancel()
	pool.Wait()

	if err := pool.Enqueue(context.Background(), 1); err == nil {
		t.Fatalf("Enqueue() after cancel should fail")
	}
}
