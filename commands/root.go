// Package commands defines the arcana CLI.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mooncourt/arcana/config"
	"github.com/spf13/cobra"
)

const (
	// Version is the release version, overridden at build time.
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "arcana"
)

// Root builds the arcana command tree.
func Root() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "arcana",
		Short: "Live tarot reading session engine",
		Long: `Arcana runs live tarot reading sessions: ordered card openings,
realtime sync for session members, and queued AI interpretation of
completed readings.

State lives in NATS JetStream; the serve and worker commands can run
in one process or scale out separately against the same cluster.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(serveCmd(&logLevel))
	cmd.AddCommand(workerCmd(&logLevel))
	cmd.AddCommand(spreadsCmd(&logLevel))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// setupLogger configures the process-wide logger and returns it.
func setupLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig runs the layered loader: defaults, user config, project config,
// environment overrides.
func loadConfig(logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.NewLoader(logger).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
