package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix = "RAGBOT"

	// exitTempFail asks the supervisor to restart the process.
	exitTempFail = 75
)

// legacyEnv maps config keys to the environment names earlier deployments
// used. RAGBOT_* variables are read as well.
var legacyEnv = map[string]string{
	"telegram.bot_token":     "TELEGRAM_API_KEY",
	"telegram.bot_name":      "TELEGRAM_BOT_NAME",
	"telegram.restart_delay": "TELEGRAM_RESTART_DELAY_SECONDS",
	"gemini.api_key":         "GOOGLE_API_KEY",
	"gemini.model":           "GOOGLE_API_MODEL",
	"gemini.max_attempts":    "GOOGLE_API_MAX_ATTEMPTS",
	"corpus.repo_url":        "REPO_URL",
	"corpus.local_path":      "LOCAL_REPO_PATH",
	"build_date":             "BUILD_DATE",
}

// restartError makes Execute exit with exitTempFail instead of 1.
type restartError struct {
	err error
}

func (e *restartError) Error() string { return e.err.Error() }
func (e *restartError) Unwrap() error { return e.err }

func Execute() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var restart *restartError
		if errors.As(err, &restart) {
			os.Exit(exitTempFail)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "ragbot",
		Short:        "Telegram bot answering from a document corpus with Gemini",
		SilenceUsage: true,
	}

	cobra.OnInitialize(initConfig)

	cmd.PersistentFlags().String("config", "", "Config file path (optional).")
	cmd.PersistentFlags().String("env-file", ".env", "Dotenv file loaded before reading the environment (ignored when missing).")
	_ = viper.BindPFlag("config", cmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("env_file", cmd.PersistentFlags().Lookup("env-file"))

	cmd.PersistentFlags().String("log-level", "", "Logging level: debug|info|warn|error (defaults to info; debug if --trace).")
	cmd.PersistentFlags().String("log-format", "text", "Logging format: text|json.")
	cmd.PersistentFlags().Bool("log-add-source", false, "Include source file:line in logs.")
	cmd.PersistentFlags().Bool("trace", false, "Print extra debug info to stderr.")

	_ = viper.BindPFlag("logging.level", cmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", cmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("logging.add_source", cmd.PersistentFlags().Lookup("log-add-source"))
	_ = viper.BindPFlag("trace", cmd.PersistentFlags().Lookup("trace"))

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func initConfig() {
	initViperDefaults()

	envFile := strings.TrimSpace(viper.GetString("env_file"))
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			_, _ = fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", envFile, err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	for key, legacy := range legacyEnv {
		_ = viper.BindEnv(key, envPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy)
	}

	cfgFile := strings.TrimSpace(viper.GetString("config"))
	if cfgFile == "" {
		return
	}

	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to read config: %v\n", err)
	}
}
