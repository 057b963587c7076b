// Package config turns viper settings into the immutable configuration the
// bot components are built from.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultMaxAttempts    = 2
	DefaultRestartDelay   = 15 * time.Second
	MaxRestartDelay       = 600 * time.Second
	DefaultModel          = "gemini-2.0-flash"
	DefaultReloadSchedule = "@daily"
)

var ErrMissingConfig = errors.New("missing required configuration")

type Config struct {
	Telegram  TelegramConfig
	Gemini    GeminiConfig
	Corpus    CorpusConfig
	Reply     ReplyConfig
	BuildDate string
}

type TelegramConfig struct {
	BotToken            string
	BotName             string
	BaseURL             string
	PollTimeout         time.Duration
	MaxConcurrency      int
	MessageLimit        int
	RestartDelay        time.Duration
	RatePerChat         float64
	FloodRetryThreshold time.Duration
	FloodRetries        int
}

type GeminiConfig struct {
	APIKey         string
	Model          string
	MaxAttempts    int
	BaseURL        string
	RequestTimeout time.Duration
}

type CorpusConfig struct {
	RepoURL        string
	RepoToken      string
	LocalPath      string
	Extensions     []string
	ReloadSchedule string
	Watch          bool
	WatchDebounce  time.Duration
}

type ReplyConfig struct {
	Backoff time.Duration
}

// Load reads v (the global viper instance when nil). Missing credentials
// fail with ErrMissingConfig; out-of-range numbers fall back to defaults.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.GetViper()
	}

	cfg := Config{
		Telegram: TelegramConfig{
			BotToken:            strings.TrimSpace(v.GetString("telegram.bot_token")),
			BotName:             strings.TrimSpace(v.GetString("telegram.bot_name")),
			BaseURL:             strings.TrimSpace(v.GetString("telegram.base_url")),
			PollTimeout:         v.GetDuration("telegram.poll_timeout"),
			MaxConcurrency:      v.GetInt("telegram.max_concurrency"),
			MessageLimit:        v.GetInt("telegram.message_limit"),
			RestartDelay:        restartDelay(v.GetString("telegram.restart_delay")),
			RatePerChat:         v.GetFloat64("telegram.rate_limit_per_chat"),
			FloodRetryThreshold: v.GetDuration("telegram.flood_retry_threshold"),
			FloodRetries:        v.GetInt("telegram.flood_retries"),
		},
		Gemini: GeminiConfig{
			APIKey:         strings.TrimSpace(v.GetString("gemini.api_key")),
			Model:          strings.TrimSpace(v.GetString("gemini.model")),
			MaxAttempts:    maxAttempts(v.GetString("gemini.max_attempts")),
			BaseURL:        strings.TrimSpace(v.GetString("gemini.base_url")),
			RequestTimeout: v.GetDuration("gemini.request_timeout"),
		},
		Corpus: CorpusConfig{
			RepoURL:        strings.TrimSpace(v.GetString("corpus.repo_url")),
			RepoToken:      strings.TrimSpace(v.GetString("corpus.repo_token")),
			LocalPath:      strings.TrimSpace(v.GetString("corpus.local_path")),
			Extensions:     extensions(v.GetStringSlice("corpus.extensions")),
			ReloadSchedule: strings.TrimSpace(v.GetString("corpus.reload_schedule")),
			Watch:          v.GetBool("corpus.watch"),
			WatchDebounce:  v.GetDuration("corpus.watch_debounce"),
		},
		Reply: ReplyConfig{
			Backoff: v.GetDuration("reply.backoff"),
		},
		BuildDate: strings.TrimSpace(v.GetString("build_date")),
	}

	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = DefaultModel
	}
	if cfg.Corpus.ReloadSchedule == "" {
		cfg.Corpus.ReloadSchedule = DefaultReloadSchedule
	}
	if cfg.Reply.Backoff < 0 {
		cfg.Reply.Backoff = 0
	}

	var missing []string
	if cfg.Telegram.BotToken == "" {
		missing = append(missing, "telegram.bot_token")
	}
	if cfg.Gemini.APIKey == "" {
		missing = append(missing, "gemini.api_key")
	}
	if len(missing) > 0 {
		return cfg, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}
	return cfg, nil
}

// RequireBotName reports ErrMissingConfig when no bot name is set. Serving
// needs it for group addressing; the one-shot commands do not.
func (c Config) RequireBotName() error {
	if strings.TrimPrefix(c.Telegram.BotName, "@") == "" {
		return fmt.Errorf("%w: telegram.bot_name", ErrMissingConfig)
	}
	return nil
}

func maxAttempts(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return DefaultMaxAttempts
	}
	return n
}

// restartDelay accepts a duration ("30s") or a bare number of seconds.
func restartDelay(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return DefaultRestartDelay
	}
	var d time.Duration
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		d = time.Duration(secs * float64(time.Second))
	} else if parsed, err := time.ParseDuration(raw); err == nil {
		d = parsed
	} else {
		return DefaultRestartDelay
	}
	switch {
	case d < 0:
		return 0
	case d > MaxRestartDelay:
		return MaxRestartDelay
	}
	return d
}

func extensions(in []string) []string {
	var out []string
	for _, e := range in {
		for _, part := range strings.Split(e, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
