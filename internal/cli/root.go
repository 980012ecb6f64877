package cli

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/groupwatch/internal/control"
	"github.com/vietddude/groupwatch/internal/core/config"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "groupwatch",
	Short: "Financial sentiment pipeline for discussion groups",
	Long: `groupwatch pulls new posts from zsxq discussion groups, keeps the ones that
talk about markets, asks an LLM for a structured sentiment assessment and
writes the results to report sinks. Progress is tracked per group so every
post is analyzed once.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
}

// setup loads .env and the config file and initializes logging.
func setup() (*config.AppConfig, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		return nil, err
	}

	slogLevel := slog.LevelInfo
	if isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	})
	return cfg, nil
}

// newWatcher loads configuration and builds a watcher restricted to only.
func newWatcher(only []string, startDate, endDate string) (*control.Watcher, error) {
	cfg, err := setup()
	if err != nil {
		return nil, err
	}
	app, err := control.NewWatcher(control.Config{
		AppConfig: *cfg,
		Only:      only,
		StartDate: startDate,
		EndDate:   endDate,
	})
	if err != nil {
		slog.Error("Failed to initialize Watcher", "error", err)
		return nil, err
	}
	return app, nil
}
