package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/sellwatch/config"
)

var rootCmd = &cobra.Command{
	Use:   "sellwatch",
	Short: "Watches held positions for moving-average exit signals",
	Long: `Sellwatch tracks every position in the account against an assigned
moving average and raises a sell signal when price drops below the
average while the position is still above its cost basis.

It keeps an on-disk bar cache fed by a pacing-aware backfill, evaluates
hour-watched instruments at the top of each hour and day-watched
instruments just before the close, and records every decision to an
audit journal. Orders are dry-run by default; nothing is transmitted
unless live mode is explicitly enabled.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging()
	},
}

var (
	cfgPath   string
	logLevel  string
	logFormat string
)

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "f", "", "path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console|json)")
}

func setupLogging() error {
	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil {
		return fmt.Errorf("bad log level %q: %w", logLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	switch logFormat {
	case "console":
		log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
			With().Timestamp().Logger()
		zerolog.DefaultContextLogger = &log
	case "json":
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		zerolog.DefaultContextLogger = &log
	default:
		return fmt.Errorf("bad log format %q", logFormat)
	}
	return nil
}

func logger() zerolog.Logger {
	if zerolog.DefaultContextLogger != nil {
		return *zerolog.DefaultContextLogger
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	if cfgPath == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(cfgPath)
}
