package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/bot"
	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/corpus"
	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/mathtext"
	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/telegram"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(sigCtx)
			if err != nil {
				return err
			}
			if err := a.cfg.RequireBotName(); err != nil {
				a.logger.Error("config_invalid", "error", err.Error())
				return err
			}
			return serve(sigCtx, a)
		},
	}
}

func serve(sigCtx context.Context, a *app) error {
	cfg := a.cfg
	logger := a.logger
	logger.Info("ragbot_start",
		"version", version,
		"build_date", buildDate(),
		"model", a.service.Model(),
		"bot_name", cfg.Telegram.BotName,
		"max_attempts", cfg.Gemini.MaxAttempts,
	)

	tgLogger := logger.With("component", "telegram")
	tg := telegram.New(telegram.Options{
		BaseURL:             cfg.Telegram.BaseURL,
		Token:               cfg.Telegram.BotToken,
		Logger:              tgLogger,
		RatePerChat:         cfg.Telegram.RatePerChat,
		RateBurst:           1,
		FloodRetryThreshold: cfg.Telegram.FloodRetryThreshold,
		FloodRetries:        cfg.Telegram.FloodRetries,
	})
	me, err := tg.GetMe(sigCtx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	logger.Info("telegram_identity", "id", me.ID, "username", me.Username)

	if err := a.reload(sigCtx); err != nil {
		logger.Error("corpus_initial_reload_failed", "error", err.Error())
	}

	ctx, cancel := context.WithCancelCause(sigCtx)
	defer cancel(nil)

	botLogger := logger.With("component", "bot")
	deliverer := bot.NewDeliverer(tg, bot.DelivererOptions{
		Renderer:     mathtext.NewPNGRenderer(),
		MessageLimit: cfg.Telegram.MessageLimit,
		Logger:       botLogger,
	})
	pipeline := bot.NewPipeline(a.service, a.reloader, a.gate, deliverer, bot.PipelineOptions{
		MaxAttempts: cfg.Gemini.MaxAttempts,
		Backoff:     cfg.Reply.Backoff,
		Logger:      botLogger,
	})
	router := bot.NewRouter(pipeline, deliverer, bot.RouterOptions{
		BotName: cfg.Telegram.BotName,
		Logger:  botLogger,
	})
	poller := telegram.NewPoller(tg, func(ctx context.Context, msg *telegram.Message) {
		if err := router.Handle(ctx, msg); errors.Is(err, bot.ErrFloodControl) {
			cancel(err)
		}
	}, telegram.PollerOptions{
		PollTimeout:    cfg.Telegram.PollTimeout,
		MaxConcurrency: cfg.Telegram.MaxConcurrency,
		Logger:         tgLogger,
	})

	scheduler, err := corpus.NewScheduler(a.reload, corpus.SchedulerOptions{
		Schedule: cfg.Corpus.ReloadSchedule,
		Logger:   logger.With("component", "scheduler"),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poller.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	if cfg.Corpus.Watch {
		watcher := corpus.NewWatcher(cfg.Corpus.LocalPath, a.reload, corpus.WatcherOptions{
			Extensions: cfg.Corpus.Extensions,
			Debounce:   cfg.Corpus.WatchDebounce,
			Paused:     a.gate.Reloading,
			Logger:     logger.With("component", "watcher"),
		})
		g.Go(func() error {
			if err := watcher.Run(gctx); err != nil {
				logger.Error("corpus_watch_failed", "error", err.Error())
			}
			return nil
		})
	}

	err = g.Wait()
	if err == nil && sigCtx.Err() == nil {
		err = context.Cause(ctx)
	}
	if !needsRestart(err) {
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info("ragbot_stop")
		return nil
	}

	logger.Error("ragbot_restart_required", "error", err.Error(), "delay", cfg.Telegram.RestartDelay.String())
	waitRestart(sigCtx, logger, cfg.Telegram.RestartDelay)
	return &restartError{err: err}
}

// needsRestart reports conditions a fresh process may recover from: flood
// control from polling or delivery, and a competing getUpdates consumer.
func needsRestart(err error) bool {
	return errors.Is(err, telegram.ErrFloodControl) || errors.Is(err, telegram.ErrConflict)
}

func waitRestart(ctx context.Context, logger *slog.Logger, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		logger.Info("ragbot_restart_delay_interrupted")
	}
}
