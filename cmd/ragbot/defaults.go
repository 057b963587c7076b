package main

import (
	"time"

	"github.com/spf13/viper"
)

func initViperDefaults() {
	// Telegram
	viper.SetDefault("telegram.base_url", "https://api.telegram.org")
	viper.SetDefault("telegram.poll_timeout", 30*time.Second)
	viper.SetDefault("telegram.max_concurrency", 8)
	viper.SetDefault("telegram.message_limit", 4096)
	viper.SetDefault("telegram.restart_delay", "15s")
	viper.SetDefault("telegram.rate_limit_per_chat", 1.0)
	viper.SetDefault("telegram.flood_retry_threshold", 3*time.Second)
	viper.SetDefault("telegram.flood_retries", 3)

	// Gemini
	viper.SetDefault("gemini.model", "gemini-2.0-flash")
	viper.SetDefault("gemini.max_attempts", 2)
	viper.SetDefault("gemini.request_timeout", 120*time.Second)

	// Corpus
	viper.SetDefault("corpus.local_path", "./sources")
	viper.SetDefault("corpus.extensions", []string{".md"})
	viper.SetDefault("corpus.reload_schedule", "@daily")
	viper.SetDefault("corpus.watch", false)
	viper.SetDefault("corpus.watch_debounce", 5*time.Second)

	// Reply pipeline
	viper.SetDefault("reply.backoff", 3*time.Second)

	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.add_source", false)
	viper.SetDefault("trace", false)
}
