package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/mathtext"
	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/telegram"
	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/telegramutil"
)

// ErrFloodControl means Telegram kept refusing calls after the client's own
// flood retries. The process should exit and be restarted. It is the
// transport's sentinel, so polling and delivery report the same condition.
var ErrFloodControl = telegram.ErrFloodControl

// Transport is the part of the Telegram client replies go through.
type Transport interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) (int64, error)
	EditMessageText(ctx context.Context, chatID, messageID int64, text, parseMode string) error
	SendPhoto(ctx context.Context, chatID int64, png []byte, caption string) (int64, error)
}

type DelivererOptions struct {
	Renderer mathtext.Renderer
	// MessageLimit is the chunk size in characters.
	MessageLimit int
	// FloodBuffer is added to Telegram's retry_after before the single retry.
	FloodBuffer time.Duration
	Logger      *slog.Logger
}

// Deliverer turns raw answers into MarkdownV2 edits, follow-up messages and
// formula images.
type Deliverer struct {
	tg     Transport
	render mathtext.Renderer
	limit  int
	buffer time.Duration
	sleep  func(context.Context, time.Duration) error
	logger *slog.Logger
}

func NewDeliverer(tg Transport, opts DelivererOptions) *Deliverer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	render := opts.Renderer
	if render == nil {
		render = mathtext.NewPNGRenderer()
	}
	limit := opts.MessageLimit
	if limit <= 0 || limit > telegramutil.MaxMessageLength {
		limit = telegramutil.MaxMessageLength
	}
	buffer := opts.FloodBuffer
	if buffer <= 0 {
		buffer = time.Second
	}
	return &Deliverer{
		tg:     tg,
		render: render,
		limit:  limit,
		buffer: buffer,
		sleep:  sleepContext,
		logger: logger,
	}
}

// Deliver replaces the placeholder with raw, formatted. Only ErrFloodControl
// and context errors are returned; other failures degrade to plain text and
// then to a generic notice.
func (d *Deliverer) Deliver(ctx context.Context, chatID, placeholderID int64, raw string) error {
	err := d.deliver(ctx, chatID, placeholderID, raw)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrFloodControl):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	case telegram.IsNotModified(err):
		d.logger.Debug("telegram_edit_not_modified", "chat_id", chatID, "message_id", placeholderID)
		return nil
	}
	if telegram.IsParseError(err) {
		d.logger.Warn("telegram_markdown_rejected", "chat_id", chatID, "message_id", placeholderID, "error", err.Error())
	} else {
		d.logger.Error("telegram_delivery_failed", "chat_id", chatID, "message_id", placeholderID, "error", err.Error())
	}
	return d.fallback(ctx, chatID, placeholderID, raw)
}

func (d *Deliverer) deliver(ctx context.Context, chatID, placeholderID int64, raw string) error {
	segs := mathtext.Split(raw)
	if !mathtext.HasMath(segs) {
		return d.emit(ctx, chatID, placeholderID, d.chunks(raw), true)
	}

	first := true
	for _, seg := range segs {
		if seg.Kind == mathtext.Text {
			if strings.TrimSpace(seg.Content) == "" {
				continue
			}
			chunks := d.chunks(seg.Content)
			if len(chunks) == 1 && chunks[0] == "" {
				continue
			}
			if err := d.emit(ctx, chatID, placeholderID, chunks, first); err != nil {
				return err
			}
			first = false
			continue
		}

		if first {
			if err := d.edit(ctx, chatID, placeholderID, zeroWidthSpace, telegram.ParseModeMarkdownV2); err != nil {
				return err
			}
			first = false
		}
		if err := d.sendFormula(ctx, chatID, seg.Content); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deliverer) sendFormula(ctx context.Context, chatID int64, expr string) error {
	png, err := d.render.Render(expr)
	if err == nil {
		err = d.call(ctx, "sendPhoto", func(ctx context.Context) error {
			_, err := d.tg.SendPhoto(ctx, chatID, png, "")
			return err
		})
		if err == nil || errors.Is(err, ErrFloodControl) {
			return err
		}
		d.logger.Warn("telegram_send_formula_failed", "chat_id", chatID, "error", err.Error())
	} else {
		d.logger.Warn("formula_render_failed", "expr", expr, "error", err.Error())
	}
	return d.emit(ctx, chatID, 0, d.chunks("$"+expr+"$"), false)
}

func (d *Deliverer) chunks(text string) []string {
	escaped := strings.TrimSpace(telegramutil.ToMarkdownV2(text))
	return telegramutil.SplitMessage(escaped, d.limit)
}

// emit edits the placeholder with the first chunk when asEdit is set and
// sends every other chunk as a new message.
func (d *Deliverer) emit(ctx context.Context, chatID, placeholderID int64, chunks []string, asEdit bool) error {
	for i, chunk := range chunks {
		if i == 0 && asEdit {
			if err := d.edit(ctx, chatID, placeholderID, chunk, telegram.ParseModeMarkdownV2); err != nil {
				return err
			}
			continue
		}
		if err := d.send(ctx, chatID, chunk, telegram.SendOptions{ParseMode: telegram.ParseModeMarkdownV2}); err != nil {
			return err
		}
	}
	return nil
}

func (d *Deliverer) fallback(ctx context.Context, chatID, placeholderID int64, raw string) error {
	plain := strings.TrimSpace(telegramutil.StripMarkdown(raw))
	if plain == "" {
		plain = msgDeliveryFailed
	}
	chunks := telegramutil.SplitMessage(plain, d.limit)
	err := d.edit(ctx, chatID, placeholderID, chunks[0], "")
	if err == nil || telegram.IsNotModified(err) {
		for _, chunk := range chunks[1:] {
			if err := d.send(ctx, chatID, chunk, telegram.SendOptions{}); err != nil {
				if errors.Is(err, ErrFloodControl) {
					return err
				}
				d.logger.Error("telegram_plain_send_failed", "chat_id", chatID, "error", err.Error())
				break
			}
		}
		return nil
	}
	if errors.Is(err, ErrFloodControl) {
		return err
	}
	d.logger.Error("telegram_plain_edit_failed", "chat_id", chatID, "message_id", placeholderID, "error", err.Error())

	if err := d.send(ctx, chatID, msgDeliveryFailed, telegram.SendOptions{}); err != nil {
		if errors.Is(err, ErrFloodControl) {
			return err
		}
		d.logger.Error("telegram_error_notice_failed", "chat_id", chatID, "error", err.Error())
	}
	return nil
}

// Send posts a plain-text message with flood-control handling.
func (d *Deliverer) Send(ctx context.Context, chatID int64, text string, replyTo int64) error {
	return d.send(ctx, chatID, text, telegram.SendOptions{ReplyToMessageID: replyTo})
}

// Placeholder sends the HTML "processing" message and returns its id.
func (d *Deliverer) Placeholder(ctx context.Context, chatID, replyTo int64) (int64, error) {
	var id int64
	err := d.call(ctx, "sendMessage", func(ctx context.Context) error {
		var err error
		id, err = d.tg.SendMessage(ctx, chatID, msgPlaceholder, telegram.SendOptions{
			ParseMode:        telegram.ParseModeHTML,
			ReplyToMessageID: replyTo,
		})
		return err
	})
	return id, err
}

func (d *Deliverer) send(ctx context.Context, chatID int64, text string, opts telegram.SendOptions) error {
	return d.call(ctx, "sendMessage", func(ctx context.Context) error {
		_, err := d.tg.SendMessage(ctx, chatID, text, opts)
		return err
	})
}

func (d *Deliverer) edit(ctx context.Context, chatID, messageID int64, text, parseMode string) error {
	return d.call(ctx, "editMessageText", func(ctx context.Context) error {
		return d.tg.EditMessageText(ctx, chatID, messageID, text, parseMode)
	})
}

// call runs fn and handles flood control: a plain retry-after is waited out
// (plus the buffer) and fn is retried once; a retry-after coming out of the
// client's own retry loop becomes ErrFloodControl.
func (d *Deliverer) call(ctx context.Context, op string, fn func(context.Context) error) error {
	err := fn(ctx)
	var floodErr *telegram.RetryAfterError
	if !errors.As(err, &floodErr) {
		return err
	}
	if floodErr.Loop {
		d.logger.Error("telegram_flood_control_fatal", "op", op, "error", err.Error())
		return fmt.Errorf("%w: %v", ErrFloodControl, err)
	}

	wait := floodErr.RetryAfter + d.buffer
	d.logger.Warn("telegram_flood_control", "op", op, "retry_after", floodErr.RetryAfter.String(), "wait", wait.String())
	if err := d.sleep(ctx, wait); err != nil {
		return err
	}

	err = fn(ctx)
	if errors.As(err, &floodErr) && floodErr.Loop {
		d.logger.Error("telegram_flood_control_fatal", "op", op, "error", err.Error())
		return fmt.Errorf("%w: %v", ErrFloodControl, err)
	}
	if err != nil {
		d.logger.Error("telegram_flood_retry_failed", "op", op, "error", err.Error())
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
