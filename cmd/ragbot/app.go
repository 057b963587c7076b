package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/config"
	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/corpus"
	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/gemini"
	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/logutil"
	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/reloadgate"
)

// app holds what every subcommand needs: configuration, the answer service
// and the corpus reloader behind one gate.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	gate     *reloadgate.Gate
	service  *gemini.Service
	reloader *corpus.Reloader
}

func newApp(ctx context.Context) (*app, error) {
	logger, err := logutil.LoggerFromViper()
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	cfg, err := config.Load(nil)
	if err != nil {
		logger.Error("config_invalid", "error", err.Error())
		return nil, err
	}

	backend, err := gemini.NewBackend(ctx, gemini.ClientOptions{
		APIKey:  cfg.Gemini.APIKey,
		BaseURL: cfg.Gemini.BaseURL,
		Timeout: cfg.Gemini.RequestTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	service := gemini.NewService(backend, gemini.Options{
		Model:   cfg.Gemini.Model,
		BotName: cfg.Telegram.BotName,
		Logger:  logger.With("component", "gemini"),
	})

	corpusLogger := logger.With("component", "corpus")
	syncer := corpus.NewGitSyncer(cfg.Corpus.RepoURL, cfg.Corpus.LocalPath, cfg.Corpus.RepoToken, corpusLogger)
	reloader := corpus.NewReloader(syncer, service, corpus.ReloaderOptions{
		Root:       cfg.Corpus.LocalPath,
		Extensions: cfg.Corpus.Extensions,
		Logger:     corpusLogger,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		gate:     reloadgate.New(),
		service:  service,
		reloader: reloader,
	}, nil
}

func (a *app) reload(ctx context.Context) error {
	return a.reloader.RunGated(ctx, a.gate)
}
