package telegram

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// chatLimiter paces outbound calls per chat so long answers split into many
// messages do not trip Telegram's flood control.
type chatLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[int64]*rate.Limiter
}

func newChatLimiter(perSecond float64, burst int) *chatLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &chatLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[int64]*rate.Limiter),
	}
}

func (l *chatLimiter) wait(ctx context.Context, chatID int64) error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	lim, ok := l.limiters[chatID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[chatID] = lim
	}
	l.mu.Unlock()
	return lim.Wait(ctx)
}
