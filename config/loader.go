package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the name of the project-level config file.
	ProjectConfigFile = "arcana.yaml"
	// UserConfigDir is the directory for user-level config.
	UserConfigDir = ".config/arcana"
	// UserConfigFile is the name of the user-level config file.
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence: defaults, then the user
// config (~/.config/arcana/config.yaml), then the project config
// (arcana.yaml in the working directory), then ARCANA_NATS_URL from the
// environment.
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfig, err := LoadFromFile(userConfigPath); err == nil {
		l.logger.Debug("loaded user config", "path", userConfigPath)
		config.Merge(userConfig)
	} else if !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("failed to load user config", "path", userConfigPath, "error", err)
	}

	if _, err := os.Stat(ProjectConfigFile); err == nil {
		if projectConfig, err := LoadFromFile(ProjectConfigFile); err == nil {
			l.logger.Debug("loaded project config", "path", ProjectConfigFile)
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("failed to load project config", "path", ProjectConfigFile, "error", err)
		}
	}

	if url := os.Getenv("ARCANA_NATS_URL"); url != "" {
		config.NATS.URL = url
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}
