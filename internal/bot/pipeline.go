package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/gemini"
	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/reloadgate"
)

const (
	DefaultMaxAttempts = 2
	DefaultBackoff     = 3 * time.Second
)

type Answerer interface {
	Ask(ctx context.Context, text string) (string, error)
}

type Reloader interface {
	Reload(ctx context.Context) error
}

type PipelineOptions struct {
	// MaxAttempts bounds Answerer calls per message. Values below 1 mean
	// DefaultMaxAttempts.
	MaxAttempts int
	Backoff     time.Duration
	Logger      *slog.Logger
}

// Pipeline answers one accepted message: placeholder, attempts against the
// Answerer with error-specific recovery, and delivery of the result.
type Pipeline struct {
	answer      Answerer
	reloader    Reloader
	gate        *reloadgate.Gate
	deliver     *Deliverer
	maxAttempts int
	backoff     time.Duration
	sleep       func(context.Context, time.Duration) error
	logger      *slog.Logger
}

func NewPipeline(answer Answerer, reloader Reloader, gate *reloadgate.Gate, deliver *Deliverer, opts PipelineOptions) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attempts := opts.MaxAttempts
	if attempts < 1 {
		attempts = DefaultMaxAttempts
	}
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	if gate == nil {
		gate = reloadgate.New()
	}
	return &Pipeline{
		answer:      answer,
		reloader:    reloader,
		gate:        gate,
		deliver:     deliver,
		maxAttempts: attempts,
		backoff:     backoff,
		sleep:       sleepContext,
		logger:      logger,
	}
}

type replyState int

const (
	stateAttempting replyState = iota
	stateReloading
	stateBackoff
	stateDone
	stateFailed
)

func (s replyState) String() string {
	switch s {
	case stateAttempting:
		return "attempting"
	case stateReloading:
		return "reloading"
	case stateBackoff:
		return "backoff"
	case stateDone:
		return "done"
	case stateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type pendingReply struct {
	id            string
	chatID        int64
	userID        int64
	placeholderID int64
	text          string
	attempt       int
	lastErr       error
	state         replyState
}

// Reply runs the pipeline for text. Only ErrFloodControl is returned; every
// other failure ends as a chat message and a log line.
func (p *Pipeline) Reply(ctx context.Context, chatID, userID, replyTo int64, text string) error {
	r := &pendingReply{
		id:     uuid.NewString(),
		chatID: chatID,
		userID: userID,
		text:   text,
	}
	logger := p.logger.With("reply_id", r.id, "chat_id", chatID, "user_id", userID)

	placeholderID, err := p.deliver.Placeholder(ctx, chatID, replyTo)
	if err != nil {
		if errors.Is(err, ErrFloodControl) {
			return err
		}
		logger.Error("reply_placeholder_failed", "error", err.Error())
		return nil
	}
	r.placeholderID = placeholderID

	if p.gate.Reloading() {
		logger.Info("reply_waiting_for_reload")
		if err := p.deliver.Deliver(ctx, chatID, placeholderID, msgReloadWait); err != nil {
			return floodOnly(err)
		}
	}

	for {
		switch r.state {
		case stateAttempting:
			// each attempt starts from a settled document set
			if err := p.gate.Wait(ctx); err != nil {
				return nil
			}
			r.attempt++
			logger.Debug("reply_attempt", "attempt", r.attempt, "max_attempts", p.maxAttempts)
			answer, err := p.answer.Ask(ctx, text)
			if err == nil {
				if err := p.deliver.Deliver(ctx, chatID, placeholderID, answer); err != nil {
					return floodOnly(err)
				}
				r.state = stateDone
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			notice, next := classify(err)
			r.lastErr = err
			r.state = next
			logger.Warn("reply_attempt_failed", "attempt", r.attempt, "next", next.String(), "error", err.Error())
			if err := p.deliver.Deliver(ctx, chatID, placeholderID, notice); err != nil {
				return floodOnly(err)
			}

		case stateReloading:
			logger.Warn("reply_reload_corpus", "reason", "documents_forbidden")
			if err := p.reloadCorpus(ctx); err != nil {
				logger.Error("reply_reload_failed", "error", err.Error())
				r.lastErr = fmt.Errorf("reload corpus: %w", err)
			}
			r.state = stateBackoff

		case stateBackoff:
			if r.attempt >= p.maxAttempts {
				r.state = stateFailed
				continue
			}
			if err := p.sleep(ctx, p.backoff); err != nil {
				return nil
			}
			r.state = stateAttempting

		case stateDone:
			logger.Info("reply_delivered", "attempts", r.attempt)
			return nil

		case stateFailed:
			errText := ""
			if r.lastErr != nil {
				errText = r.lastErr.Error()
			}
			logger.Error("reply_failed", "attempts", r.attempt, "error", errText)
			if err := p.deliver.Send(ctx, chatID, msgFinalFailure, 0); err != nil {
				if errors.Is(err, ErrFloodControl) {
					return err
				}
				logger.Error("reply_failure_notice_failed", "error", err.Error())
			}
			return nil
		}
	}
}

// reloadCorpus re-registers documents as an exclusive phase. If a reload is
// already running it waits for that one instead.
func (p *Pipeline) reloadCorpus(ctx context.Context) error {
	if p.reloader == nil {
		return errors.New("no reloader configured")
	}
	_, err := p.gate.Run(ctx, p.reloader.Reload)
	return err
}

// classify maps an Answerer error to the notice shown to the user and the
// next state.
func classify(err error) (string, replyState) {
	var aerr *gemini.AnswerError
	if !errors.As(err, &aerr) || aerr.StatusCode == 0 {
		return msgUnexpectedRetry, stateBackoff
	}
	code := aerr.StatusCode
	switch {
	case code >= 500 && code < 600:
		return msgThinking, stateBackoff
	case code == 403:
		return msgSourcesUpdating, stateReloading
	case code >= 400 && code < 500:
		return msgSourcesUpdating, stateBackoff
	default:
		return msgUnexpectedStop, stateFailed
	}
}

func floodOnly(err error) error {
	if errors.Is(err, ErrFloodControl) {
		return err
	}
	return nil
}
