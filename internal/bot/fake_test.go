package bot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/telegram"
)

type call struct {
	Method    string
	ChatID    int64
	MessageID int64
	Text      string
	ParseMode string
	ReplyTo   int64
}

// fakeTransport records every Telegram call. failures maps a call index to
// the error that call returns.
type fakeTransport struct {
	mu       sync.Mutex
	calls    []call
	failures map[int]error
	nextID   int64
}

func (f *fakeTransport) record(c call) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := len(f.calls)
	f.calls = append(f.calls, c)
	if err, ok := f.failures[idx]; ok {
		return err
	}
	return nil
}

func (f *fakeTransport) SendMessage(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (int64, error) {
	if err := f.record(call{Method: "send", ChatID: chatID, Text: text, ParseMode: opts.ParseMode, ReplyTo: opts.ReplyToMessageID}); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return 100 + f.nextID, nil
}

func (f *fakeTransport) EditMessageText(ctx context.Context, chatID, messageID int64, text, parseMode string) error {
	return f.record(call{Method: "edit", ChatID: chatID, MessageID: messageID, Text: text, ParseMode: parseMode})
}

func (f *fakeTransport) SendPhoto(ctx context.Context, chatID int64, png []byte, caption string) (int64, error) {
	if err := f.record(call{Method: "photo", ChatID: chatID, Text: string(png)}); err != nil {
		return 0, err
	}
	return 999, nil
}

func (f *fakeTransport) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeTransport) methods() []string {
	var out []string
	for _, c := range f.snapshot() {
		out = append(out, c.Method)
	}
	return out
}

// scriptedAnswerer returns the scripted results in order.
type scriptedAnswerer struct {
	mu      sync.Mutex
	results []result
	calls   int
	onAsk   func()
}

type result struct {
	answer string
	err    error
}

func (a *scriptedAnswerer) Ask(ctx context.Context, text string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.onAsk != nil {
		a.onAsk()
	}
	i := a.calls
	a.calls++
	if i >= len(a.results) {
		return "", errors.New("no scripted result")
	}
	return a.results[i].answer, a.results[i].err
}

type fakeRenderer struct {
	fail bool
}

func (r fakeRenderer) Render(expr string) ([]byte, error) {
	if r.fail {
		return nil, errors.New("unsupported macro")
	}
	return []byte("png:" + expr), nil
}

// recordSleeps replaces real waits with bookkeeping.
type recordSleeps struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordSleeps) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func newTestDeliverer(tg Transport, render fakeRenderer, sleeps *recordSleeps) *Deliverer {
	d := NewDeliverer(tg, DelivererOptions{Renderer: render})
	if sleeps != nil {
		d.sleep = sleeps.sleep
	}
	return d
}
