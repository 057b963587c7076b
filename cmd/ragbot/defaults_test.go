package main

import (
	"testing"

	"github.com/spf13/viper"

	"github.com/iu2frl/Telegram-GeminiAI-RAG-Bot/internal/config"
)

func TestViperDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	initViperDefaults()
	viper.Set("telegram.bot_token", "123:abc")
	viper.Set("gemini.api_key", "key")

	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Corpus.LocalPath != "./sources" {
		t.Fatalf("corpus.local_path = %q, want ./sources", cfg.Corpus.LocalPath)
	}
	if cfg.Telegram.RestartDelay != config.DefaultRestartDelay {
		t.Fatalf("restart delay = %v", cfg.Telegram.RestartDelay)
	}
	if cfg.Telegram.FloodRetries != 3 || cfg.Telegram.FloodRetryThreshold.Seconds() != 3 {
		t.Fatalf("flood retries = %d, threshold = %v", cfg.Telegram.FloodRetries, cfg.Telegram.FloodRetryThreshold)
	}
	if len(cfg.Corpus.Extensions) != 1 || cfg.Corpus.Extensions[0] != ".md" {
		t.Fatalf("extensions = %v", cfg.Corpus.Extensions)
	}
}
