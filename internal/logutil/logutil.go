// Package logutil builds the process logger from the logging.* settings.
package logutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings mirrors the logging.* configuration keys.
type Settings struct {
	Level     string
	Format    string
	AddSource bool
}

// SettingsFrom reads logging.* from v. --trace lowers the default level to
// debug unless a level was given explicitly.
func SettingsFrom(v *viper.Viper) Settings {
	s := Settings{
		Level:     strings.TrimSpace(v.GetString("logging.level")),
		Format:    strings.TrimSpace(v.GetString("logging.format")),
		AddSource: v.GetBool("logging.add_source"),
	}
	if s.Level == "" && v.GetBool("trace") {
		s.Level = "debug"
	}
	return s
}

// LoggerFromViper builds the stderr logger from the global viper instance.
func LoggerFromViper() (*slog.Logger, error) {
	return LoggerFrom(viper.GetViper(), os.Stderr)
}

func LoggerFrom(v *viper.Viper, w io.Writer) (*slog.Logger, error) {
	return New(SettingsFrom(v), w)
}

func New(s Settings, w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{
		Level:       level,
		AddSource:   s.AddSource,
		ReplaceAttr: durationsAsText,
	}

	switch strings.ToLower(s.Format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown logging.format: %s", s.Format)
}

// ParseLevel accepts slog level names ("debug", "warn", "error+2") plus the
// "warning" alias. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown logging.level: %s", s)
	}
	return level, nil
}

// durationsAsText keeps durations readable ("1.5s") in JSON output, which
// otherwise prints nanoseconds.
func durationsAsText(_ []string, a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindDuration {
		return slog.String(a.Key, a.Value.Duration().Round(time.Millisecond).String())
	}
	return a
}
