// Package bot decides which chat messages get answered and drives each answer
// from placeholder to final delivery.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/telegram"
)

const (
	minMessageLength     = 3
	lengthyMessageLength = 400
	maxMessageLength     = 500
	mentionSeparators    = " :,-"
)

type Action int

const (
	ActionDrop Action = iota
	ActionReject
	ActionProcess
	ActionStart
)

// Decision is the routing outcome for one inbound text.
type Decision struct {
	Action Action
	// Text is the question to answer, trimmed and without the mention.
	Text string
	// Lengthy asks for a warning before processing.
	Lengthy bool
}

// Route classifies text from chatID. Positive ids are direct chats; anything
// else is a group where the bot must be addressed by name.
func Route(chatID int64, text, botName string) Decision {
	if cmd, ok := command(text); ok {
		if isStart(cmd, botName) {
			return Decision{Action: ActionStart}
		}
		return Decision{Action: ActionDrop}
	}

	if chatID <= 0 {
		stripped, ok := stripMention(text, botName)
		if !ok {
			return Decision{Action: ActionDrop}
		}
		text = stripped
	}

	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	switch {
	case n < minMessageLength:
		return Decision{Action: ActionDrop}
	case n > maxMessageLength:
		return Decision{Action: ActionReject}
	}
	return Decision{Action: ActionProcess, Text: text, Lengthy: n > lengthyMessageLength}
}

// stripMention removes a leading "name" or "@name" (any case) and the
// separators after it.
func stripMention(text, botName string) (string, bool) {
	name := strings.TrimPrefix(strings.TrimSpace(botName), "@")
	if name == "" {
		return "", false
	}
	text = strings.TrimLeftFunc(text, isSpace)
	for _, variant := range []string{"@" + name, name} {
		if len(text) >= len(variant) && strings.EqualFold(text[:len(variant)], variant) {
			return strings.TrimLeft(text[len(variant):], mentionSeparators), true
		}
	}
	return "", false
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

func command(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	cmd := text[1:]
	if i := strings.IndexAny(cmd, " \t\n"); i >= 0 {
		cmd = cmd[:i]
	}
	return cmd, true
}

func isStart(cmd, botName string) bool {
	name, target, hasTarget := strings.Cut(cmd, "@")
	if !strings.EqualFold(name, "start") {
		return false
	}
	if !hasTarget {
		return true
	}
	bot := strings.TrimPrefix(strings.TrimSpace(botName), "@")
	return bot == "" || strings.EqualFold(target, bot)
}

type Replier interface {
	Reply(ctx context.Context, chatID, userID, replyTo int64, text string) error
}

type RouterOptions struct {
	BotName string
	Logger  *slog.Logger
}

// Router applies Route to inbound messages and hands accepted ones to the
// reply pipeline.
type Router struct {
	botName string
	replier Replier
	deliver *Deliverer
	logger  *slog.Logger
}

func NewRouter(replier Replier, deliver *Deliverer, opts RouterOptions) *Router {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		botName: opts.BotName,
		replier: replier,
		deliver: deliver,
		logger:  logger,
	}
}

// Handle processes one message. Only ErrFloodControl is returned.
func (r *Router) Handle(ctx context.Context, msg *telegram.Message) error {
	if msg == nil || msg.Chat == nil {
		return nil
	}
	chatID := msg.Chat.ID
	var userID int64
	sender := ""
	if msg.From != nil {
		userID = msg.From.ID
		sender = msg.From.DisplayName()
	}
	logger := r.logger.With("chat_id", chatID, "user_id", userID)

	d := Route(chatID, msg.Text, r.botName)
	switch d.Action {
	case ActionDrop:
		logger.Debug("message_dropped")
		return nil
	case ActionStart:
		logger.Info("start_command", "sender", sender)
		return r.notify(ctx, logger, chatID, msgStart, msg.MessageID)
	case ActionReject:
		logger.Warn("message_too_long")
		return r.notify(ctx, logger, chatID, msgTooLong, msg.MessageID)
	}

	if d.Lengthy {
		logger.Warn("message_lengthy")
		if err := r.notify(ctx, logger, chatID, msgLengthy, msg.MessageID); err != nil {
			return err
		}
	}
	logger.Info("message_accepted", "sender", sender, "chars", utf8.RuneCountInString(d.Text))
	return r.replier.Reply(ctx, chatID, userID, msg.MessageID, d.Text)
}

func (r *Router) notify(ctx context.Context, logger *slog.Logger, chatID int64, text string, replyTo int64) error {
	err := r.deliver.Send(ctx, chatID, text, replyTo)
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrFloodControl) {
		return err
	}
	logger.Error("notice_send_failed", "error", err.Error())
	return nil
}
