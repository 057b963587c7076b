package telegram

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/worker"
)

// Handler processes one inbound message. It runs on the poller's worker pool.
type Handler func(ctx context.Context, msg *Message)

type PollerOptions struct {
	PollTimeout    time.Duration
	MaxConcurrency int
	ErrorBackoff   time.Duration
	Logger         *slog.Logger
}

type Poller struct {
	client  *Client
	handle  Handler
	timeout time.Duration
	workers int
	backoff time.Duration
	logger  *slog.Logger
}

func NewPoller(client *Client, handle Handler, opts PollerOptions) *Poller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.PollTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	workers := opts.MaxConcurrency
	if workers < 1 {
		workers = 8
	}
	backoff := opts.ErrorBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	return &Poller{
		client:  client,
		handle:  handle,
		timeout: timeout,
		workers: workers,
		backoff: backoff,
		logger:  logger,
	}
}

// Run polls until ctx is done, Telegram reports a conflicting consumer or
// flood control outlasts the client's retries. Handlers still running when
// Run returns are waited for.
func (p *Poller) Run(ctx context.Context) error {
	poolCtx, cancel := context.WithCancel(ctx)
	pool := worker.Start(poolCtx, worker.Options[*Message]{
		Size:   p.workers,
		Handle: p.handle,
		Logger: p.logger,
	})
	defer func() {
		cancel()
		pool.Wait()
	}()

	p.logger.Info("telegram_poll_start", "timeout", p.timeout.String(), "workers", p.workers)
	var offset int64
	for {
		updates, next, err := p.client.GetUpdates(ctx, offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				p.logger.Info("telegram_stop", "reason", "context_canceled")
				return nil
			}
			if errors.Is(err, ErrConflict) {
				p.logger.Error("telegram_conflict", "error", err.Error())
				return err
			}
			var floodErr *RetryAfterError
			if errors.As(err, &floodErr) && floodErr.Loop {
				p.logger.Error("telegram_poll_flood_control", "error", err.Error())
				return err
			}
			if IsPollTimeout(err) {
				p.logger.Debug("telegram_get_updates_timeout", "error", err.Error())
			} else {
				p.logger.Warn("telegram_get_updates_error", "error", err.Error())
			}
			wait := p.backoff
			if errors.As(err, &floodErr) {
				wait = floodErr.RetryAfter
			}
			if sleepContext(ctx, wait) != nil {
				return nil
			}
			continue
		}
		offset = next

		for _, u := range updates {
			msg := u.Message
			if msg == nil || msg.Chat == nil || msg.Text == "" {
				continue
			}
			if err := pool.Enqueue(ctx, msg); err != nil {
				return nil
			}
		}
	}
}
