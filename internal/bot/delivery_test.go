package bot

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/telegram"
	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/telegramutil"
)

func TestDeliver_PlainAnswerEditsPlaceholder(t *testing.T) {
	tg := &fakeTransport{}
	d := newTestDeliverer(tg, fakeRenderer{}, nil)

	require.NoError(t, d.Deliver(context.Background(), 1, 50, "**Yes**, version 1.2!"))

	calls := tg.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, call{Method: "edit", ChatID: 1, MessageID: 50, Text: "*Yes*, version 1\\.2\\!", ParseMode: "MarkdownV2"}, calls[0])
}

func TestDeliver_LongAnswerIsChunked(t *testing.T) {
	tg := &fakeTransport{}
	d := newTestDeliverer(tg, fakeRenderer{}, nil)
	para := strings.Repeat("word ", 600)
	raw := para + "\n\n" + para

	require.NoError(t, d.Deliver(context.Background(), 1, 50, raw))

	assert.Equal(t, []string{"edit", "send"}, tg.methods())
	for _, c := range tg.snapshot() {
		assert.LessOrEqual(t, len([]rune(c.Text)), telegramutil.MaxMessageLength)
		assert.Equal(t, "MarkdownV2", c.ParseMode)
	}
}

func TestDeliver_MathSegmentsInOrder(t *testing.T) {
	tg := &fakeTransport{}
	d := newTestDeliverer(tg, fakeRenderer{}, nil)

	require.NoError(t, d.Deliver(context.Background(), 1, 50, "Result: $x^2$ end"))

	calls := tg.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, "edit", calls[0].Method)
	assert.Equal(t, "Result:", calls[0].Text)
	assert.Equal(t, "photo", calls[1].Method)
	assert.Equal(t, "png:x^2", calls[1].Text)
	assert.Equal(t, "send", calls[2].Method)
	assert.Equal(t, "end", calls[2].Text)
}

func TestDeliver_LeadingMathClearsPlaceholderFirst(t *testing.T) {
	tg := &fakeTransport{}
	d := newTestDeliverer(tg, fakeRenderer{}, nil)

	require.NoError(t, d.Deliver(context.Background(), 1, 50, "$$E=mc^2$$ holds."))

	calls := tg.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, call{Method: "edit", ChatID: 1, MessageID: 50, Text: zeroWidthSpace, ParseMode: "MarkdownV2"}, calls[0])
	assert.Equal(t, "photo", calls[1].Method)
	assert.Equal(t, "holds\\.", calls[2].Text)
}

func TestDeliver_RenderFailureFallsBackToText(t *testing.T) {
	tg := &fakeTransport{}
	d := newTestDeliverer(tg, fakeRenderer{fail: true}, nil)

	require.NoError(t, d.Deliver(context.Background(), 1, 50, "Area: $\\pi r^2$"))

	calls := tg.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "edit", calls[0].Method)
	assert.Equal(t, "send", calls[1].Method)
	assert.Equal(t, "$\\\\pi r^2$", calls[1].Text)
}

func TestDeliver_RetryAfterWaitsThenRetriesOnce(t *testing.T) {
	tg := &fakeTransport{failures: map[int]error{
		0: &telegram.RetryAfterError{Method: "editMessageText", RetryAfter: 5 * time.Second},
	}}
	sleeps := &recordSleeps{}
	d := newTestDeliverer(tg, fakeRenderer{}, sleeps)

	require.NoError(t, d.Deliver(context.Background(), 1, 50, "hello"))

	assert.Equal(t, []string{"edit", "edit"}, tg.methods())
	require.Len(t, sleeps.waits, 1)
	assert.GreaterOrEqual(t, sleeps.waits[0], 5*time.Second)
	assert.Equal(t, 6*time.Second, sleeps.waits[0])
}

func TestDeliver_RetryAfterTwiceDegradesToPlainText(t *testing.T) {
	flood := &telegram.RetryAfterError{Method: "editMessageText", RetryAfter: 5 * time.Second}
	tg := &fakeTransport{failures: map[int]error{0: flood, 1: flood}}
	sleeps := &recordSleeps{}
	d := newTestDeliverer(tg, fakeRenderer{}, sleeps)

	require.NoError(t, d.Deliver(context.Background(), 1, 50, "**hello**"))

	calls := tg.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, call{Method: "edit", ChatID: 1, MessageID: 50, Text: "hello"}, calls[2])
	assert.Len(t, sleeps.waits, 1)
}

func TestDeliver_RetryLoopEscalates(t *testing.T) {
	tg := &fakeTransport{failures: map[int]error{
		0: &telegram.RetryAfterError{Method: "editMessageText", RetryAfter: time.Second, Loop: true},
	}}
	d := newTestDeliverer(tg, fakeRenderer{}, &recordSleeps{})

	err := d.Deliver(context.Background(), 1, 50, "hello")
	assert.True(t, errors.Is(err, ErrFloodControl), "got %v", err)
	assert.Len(t, tg.snapshot(), 1)
}

func TestDeliver_NotModifiedIsNoop(t *testing.T) {
	tg := &fakeTransport{failures: map[int]error{
		0: &telegram.RequestError{StatusCode: 400, Description: "Bad Request: message is not modified"},
	}}
	d := newTestDeliverer(tg, fakeRenderer{}, nil)

	require.NoError(t, d.Deliver(context.Background(), 1, 50, "same"))
	assert.Len(t, tg.snapshot(), 1)
}

func TestDeliver_FallbackChain(t *testing.T) {
	badRequest := &telegram.RequestError{StatusCode: 400, Description: "Bad Request: can't parse entities"}
	tg := &fakeTransport{failures: map[int]error{0: badRequest, 1: badRequest, 2: errors.New("network down")}}
	d := newTestDeliverer(tg, fakeRenderer{}, nil)

	require.NoError(t, d.Deliver(context.Background(), 1, 50, "`code` here"))

	calls := tg.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, call{Method: "edit", ChatID: 1, MessageID: 50, Text: "code here"}, calls[1])
	assert.Equal(t, call{Method: "send", ChatID: 1, Text: msgDeliveryFailed}, calls[2])
}

func TestDeliver_RejectedMarkdownIsLoggedAsWarning(t *testing.T) {
	var logs bytes.Buffer
	badRequest := &telegram.RequestError{StatusCode: 400, Description: "Bad Request: can't parse entities: unexpected end"}
	tg := &fakeTransport{failures: map[int]error{0: badRequest}}
	d := NewDeliverer(tg, DelivererOptions{
		Renderer: fakeRenderer{},
		Logger:   slog.New(slog.NewTextHandler(&logs, nil)),
	})

	require.NoError(t, d.Deliver(context.Background(), 1, 50, "*half bold"))

	assert.Contains(t, logs.String(), "level=WARN msg=telegram_markdown_rejected")
	assert.NotContains(t, logs.String(), "telegram_delivery_failed")
	calls := tg.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "", calls[1].ParseMode)
}
