package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/gemini"
	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/reloadgate"
	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/telegram"
	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/telegramutil"
)

type reloaderFunc func(ctx context.Context) error

func (f reloaderFunc) Reload(ctx context.Context) error { return f(ctx) }

func newTestPipeline(answer Answerer, reloader Reloader, gate *reloadgate.Gate, tg Transport, maxAttempts int, sleeps *recordSleeps) *Pipeline {
	d := newTestDeliverer(tg, fakeRenderer{}, sleeps)
	p := NewPipeline(answer, reloader, gate, d, PipelineOptions{MaxAttempts: maxAttempts, Backoff: time.Millisecond})
	p.sleep = sleeps.sleep
	return p
}

func answerErr(code int) result {
	return result{err: &gemini.AnswerError{StatusCode: code, Err: errors.New("upstream")}}
}

func escaped(s string) string { return telegramutil.ToMarkdownV2(s) }

func TestReply_ServerErrorsThenSuccess(t *testing.T) {
	tg := &fakeTransport{}
	answer := &scriptedAnswerer{results: []result{answerErr(503), answerErr(500), answerErr(504), {answer: "All good"}}}
	sleeps := &recordSleeps{}
	p := newTestPipeline(answer, nil, reloadgate.New(), tg, 4, sleeps)

	require.NoError(t, p.Reply(context.Background(), 7, 3, 70, "what is x?"))

	calls := tg.snapshot()
	require.Len(t, calls, 5)
	assert.Equal(t, call{Method: "send", ChatID: 7, Text: msgPlaceholder, ParseMode: "HTML", ReplyTo: 70}, calls[0])
	thinking := 0
	for _, c := range calls[1:4] {
		assert.Equal(t, "edit", c.Method)
		if c.Text == escaped(msgThinking) {
			thinking++
		}
	}
	assert.Equal(t, 3, thinking)
	assert.Equal(t, "edit", calls[4].Method)
	assert.Equal(t, "All good", calls[4].Text)
	for _, c := range calls {
		assert.NotEqual(t, msgFinalFailure, c.Text)
	}
	assert.Equal(t, 4, answer.calls)
	assert.Len(t, sleeps.waits, 3)
}

func TestReply_ForbiddenReloadsThroughGate(t *testing.T) {
	for _, reloadErr := range []error{nil, errors.New("no documents")} {
		tg := &fakeTransport{}
		gate := reloadgate.New()
		var during []bool
		reloader := reloaderFunc(func(ctx context.Context) error {
			during = append(during, gate.Reloading())
			return reloadErr
		})
		var afterReload []bool
		answer := &scriptedAnswerer{results: []result{answerErr(403), {answer: "fresh"}}}
		answer.onAsk = func() {
			if len(during) > 0 {
				afterReload = append(afterReload, gate.Reloading())
			}
		}
		p := newTestPipeline(answer, reloader, gate, tg, 2, &recordSleeps{})

		require.NoError(t, p.Reply(context.Background(), 7, 3, 0, "question"))

		assert.Equal(t, []bool{true}, during)
		assert.Equal(t, []bool{false}, afterReload)
		assert.False(t, gate.Reloading())
		calls := tg.snapshot()
		require.Len(t, calls, 3)
		assert.Equal(t, escaped(msgSourcesUpdating), calls[1].Text)
		assert.Equal(t, "fresh", calls[2].Text)
	}
}

func TestReply_ExhaustedAttemptsSendsFailure(t *testing.T) {
	tg := &fakeTransport{}
	answer := &scriptedAnswerer{results: []result{answerErr(429), answerErr(400)}}
	sleeps := &recordSleeps{}
	p := newTestPipeline(answer, nil, reloadgate.New(), tg, 0, sleeps)

	require.NoError(t, p.Reply(context.Background(), 7, 3, 0, "question"))

	assert.Equal(t, []string{"send", "edit", "edit", "send"}, tg.methods())
	calls := tg.snapshot()
	assert.Equal(t, call{Method: "send", ChatID: 7, Text: msgFinalFailure}, calls[3])
	assert.Equal(t, 2, answer.calls)
	assert.Len(t, sleeps.waits, 1, "no backoff after the last attempt")
}

func TestReply_UnexpectedStatusStopsImmediately(t *testing.T) {
	tg := &fakeTransport{}
	answer := &scriptedAnswerer{results: []result{answerErr(302), {answer: "never"}}}
	sleeps := &recordSleeps{}
	p := newTestPipeline(answer, nil, reloadgate.New(), tg, 3, sleeps)

	require.NoError(t, p.Reply(context.Background(), 7, 3, 0, "question"))

	calls := tg.snapshot()
	require.Len(t, calls, 3)
	assert.Equal(t, escaped(msgUnexpectedStop), calls[1].Text)
	assert.Equal(t, msgFinalFailure, calls[2].Text)
	assert.Equal(t, 1, answer.calls)
	assert.Empty(t, sleeps.waits)
}

func TestReply_ErrorsWithoutCodeAreRetried(t *testing.T) {
	tg := &fakeTransport{}
	answer := &scriptedAnswerer{results: []result{
		{err: &gemini.AnswerError{Err: errors.New("connection reset")}},
		{err: errors.New("boom")},
		{answer: "ok"},
	}}
	p := newTestPipeline(answer, nil, reloadgate.New(), tg, 3, &recordSleeps{})

	require.NoError(t, p.Reply(context.Background(), 7, 3, 0, "question"))

	calls := tg.snapshot()
	require.Len(t, calls, 4)
	assert.Equal(t, escaped(msgUnexpectedRetry), calls[1].Text)
	assert.Equal(t, escaped(msgUnexpectedRetry), calls[2].Text)
	assert.Equal(t, "ok", calls[3].Text)
}

func TestReply_WaitsForActiveReload(t *testing.T) {
	tg := &fakeTransport{}
	gate := reloadgate.New()
	require.True(t, gate.Begin())

	answer := &scriptedAnswerer{results: []result{{answer: "after reload"}}}
	var reloadingAtAsk bool
	answer.onAsk = func() { reloadingAtAsk = gate.Reloading() }
	p := newTestPipeline(answer, nil, gate, tg, 2, &recordSleeps{})

	done := make(chan error, 1)
	go func() { done <- p.Reply(context.Background(), 7, 3, 0, "question") }()

	require.Eventually(t, func() bool { return len(tg.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, escaped(msgReloadWait), tg.snapshot()[1].Text)
	select {
	case <-done:
		t.Fatalf("reply finished while the reload was still running")
	case <-time.After(50 * time.Millisecond):
	}

	gate.End()
	require.NoError(t, <-done)
	assert.False(t, reloadingAtAsk)
	calls := tg.snapshot()
	assert.Equal(t, "after reload", calls[len(calls)-1].Text)
}

func TestReply_FloodControlEscapes(t *testing.T) {
	tg := &fakeTransport{failures: map[int]error{
		0: &telegram.RetryAfterError{Method: "sendMessage", RetryAfter: time.Second, Loop: true},
	}}
	answer := &scriptedAnswerer{}
	p := newTestPipeline(answer, nil, reloadgate.New(), tg, 2, &recordSleeps{})

	err := p.Reply(context.Background(), 7, 3, 0, "question")
	assert.ErrorIs(t, err, ErrFloodControl)
	assert.Equal(t, 0, answer.calls)
}

func TestReply_PlaceholderFailureIsSwallowed(t *testing.T) {
	tg := &fakeTransport{failures: map[int]error{0: errors.New("chat not found")}}
	answer := &scriptedAnswerer{}
	p := newTestPipeline(answer, nil, reloadgate.New(), tg, 2, &recordSleeps{})

	require.NoError(t, p.Reply(context.Background(), 7, 3, 0, "question"))
	assert.Equal(t, 0, answer.calls)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		notice string
		next   replyState
	}{
		{&gemini.AnswerError{StatusCode: 500}, msgThinking, stateBackoff},
		{&gemini.AnswerError{StatusCode: 599}, msgThinking, stateBackoff},
		{&gemini.AnswerError{StatusCode: 403}, msgSourcesUpdating, stateReloading},
		{&gemini.AnswerError{StatusCode: 404}, msgSourcesUpdating, stateBackoff},
		{&gemini.AnswerError{StatusCode: 200}, msgUnexpectedStop, stateFailed},
		{&gemini.AnswerError{}, msgUnexpectedRetry, stateBackoff},
		{errors.New("other"), msgUnexpectedRetry, stateBackoff},
	}
	for _, tt := range tests {
		notice, next := classify(tt.err)
		assert.Equal(t, tt.notice, notice, tt.err.Error())
		assert.Equal(t, tt.next, next, tt.err.Error())
	}
}
