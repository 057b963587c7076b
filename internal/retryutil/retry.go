// Package retryutil schedules one-shot background retries of failed jobs.
package retryutil

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultDelay   = 2 * time.Second
	defaultTimeout = 12 * time.Second
)

type Options struct {
	// Name prefixes the log events, e.g. "corpus_reload_retry_ok".
	Name    string
	Delay   time.Duration
	Timeout time.Duration
	Logger  *slog.Logger
}

// Async runs fn once more after opts.Delay on its own goroutine, bounded by
// opts.Timeout. The returned channel yields the retry's result, or ctx's error
// when ctx ends before the retry starts, and is then closed.
func Async(ctx context.Context, opts Options, fn func(ctx context.Context) error) <-chan error {
	done := make(chan error, 1)
	if fn == nil {
		close(done)
		return done
	}
	delay := opts.Delay
	if delay <= 0 {
		delay = defaultDelay
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := opts.Name
	if name == "" {
		name = "job"
	}

	logger.Info(name+"_retry_scheduled", "delay", delay.String(), "timeout", timeout.String())
	go func() {
		defer close(done)
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			logger.Info(name+"_retry_dropped", "reason", "context_canceled")
			done <- ctx.Err()
			return
		case <-timer.C:
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := fn(runCtx)
		if err != nil {
			logger.Warn(name+"_retry_failed", "error", err.Error())
		} else {
			logger.Info(name + "_retry_ok")
		}
		done <- err
	}()
	return done
}
