// Package config provides configuration loading for the Arcana engine.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mooncourt/arcana/insight"
	"github.com/mooncourt/arcana/profile"
)

// Config is the complete engine configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	NATS     NATSConfig     `yaml:"nats"`
	Model    ModelConfig    `yaml:"model"`
	Engine   EngineConfig   `yaml:"engine"`
	Worker   WorkerConfig   `yaml:"worker"`
	Profiles ProfilesConfig `yaml:"profiles"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr"`
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	// URL is the NATS server URL.
	URL string `yaml:"url"`
	// Name identifies this connection on the server.
	Name string `yaml:"name"`
}

// ModelConfig configures the generation model endpoint.
type ModelConfig struct {
	// Provider selects the wire format ("openai", "anthropic").
	Provider string `yaml:"provider"`
	// Name is the model identifier, e.g. "qwen2.5:14b".
	Name string `yaml:"name"`
	// Endpoint is the API base URL (empty uses the provider default).
	Endpoint string `yaml:"endpoint"`
	// Timeout is the per-call ceiling for model invocations.
	Timeout time.Duration `yaml:"timeout"`
}

// EngineConfig configures reading behavior.
type EngineConfig struct {
	// SpreadsDir holds YAML spread definitions; empty uses builtins only.
	SpreadsDir string `yaml:"spreads_dir"`
	// WatchSpreads hot-reloads the catalog on file changes.
	WatchSpreads bool `yaml:"watch_spreads"`
	// ReversedProbability is the chance a drawn card lands reversed. It is a
	// pointer so an explicit 0 in a config file survives merging; nil means
	// the field was not set.
	ReversedProbability *float64 `yaml:"reversed_probability"`
	// Confidence parameterizes insight scoring.
	Confidence insight.ConfidenceParams `yaml:"confidence"`
}

// WorkerConfig configures the interpretation worker loop.
type WorkerConfig struct {
	// LeaseTTL is the job lease: the ack deadline between heartbeats.
	LeaseTTL time.Duration `yaml:"lease_ttl"`
	// MaxAttempts caps deliveries per job.
	MaxAttempts int `yaml:"max_attempts"`
	// RetryBackoffBase and RetryBackoffMax shape redelivery delays.
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max"`
}

// ProfilesConfig configures the consumed user/profile service.
type ProfilesConfig struct {
	// URL is the profile service base URL. Empty uses the static table.
	URL string `yaml:"url"`
	// Static maps user ids to roles for development setups.
	Static map[string]string `yaml:"static"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		NATS: NATSConfig{
			URL:  "nats://localhost:4222",
			Name: "arcana",
		},
		Model: ModelConfig{
			Provider: "openai",
			Name:     "qwen2.5:14b",
			Endpoint: "http://localhost:11434/v1",
			Timeout:  90 * time.Second,
		},
		Engine: EngineConfig{
			ReversedProbability: floatPtr(0.3),
			Confidence:          insight.DefaultConfidenceParams(),
		},
		Worker: WorkerConfig{
			LeaseTTL:         2 * time.Minute,
			MaxAttempts:      5,
			RetryBackoffBase: 5 * time.Second,
			RetryBackoffMax:  2 * time.Minute,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.Model.Provider == "" {
		return fmt.Errorf("model.provider is required")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	if c.Engine.ReversedProbability == nil {
		return fmt.Errorf("engine.reversed_probability is required")
	}
	if *c.Engine.ReversedProbability < 0 || *c.Engine.ReversedProbability > 1 {
		return fmt.Errorf("engine.reversed_probability must be between 0 and 1")
	}
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be at least 1")
	}
	if c.Model.Timeout >= c.Worker.LeaseTTL {
		return fmt.Errorf("model.timeout must be shorter than worker.lease_ttl")
	}
	for id, role := range c.Profiles.Static {
		if !profile.Role(role).Valid() {
			return fmt.Errorf("profiles.static[%s]: unknown role %q", id, role)
		}
	}
	return nil
}

// StaticProfiles builds the static profile table from configuration.
func (c *Config) StaticProfiles() map[string]profile.Profile {
	out := make(map[string]profile.Profile, len(c.Profiles.Static))
	for id, role := range c.Profiles.Static {
		out[id] = profile.Profile{ID: id, Role: profile.Role(role)}
	}
	return out
}

// Merge overlays non-zero fields from other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}

	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.Name != "" {
		c.NATS.Name = other.NATS.Name
	}

	if other.Model.Provider != "" {
		c.Model.Provider = other.Model.Provider
	}
	if other.Model.Name != "" {
		c.Model.Name = other.Model.Name
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	if other.Engine.SpreadsDir != "" {
		c.Engine.SpreadsDir = other.Engine.SpreadsDir
	}
	if other.Engine.WatchSpreads {
		c.Engine.WatchSpreads = true
	}
	if other.Engine.ReversedProbability != nil {
		c.Engine.ReversedProbability = other.Engine.ReversedProbability
	}
	if other.Engine.Confidence != (insight.ConfidenceParams{}) {
		c.Engine.Confidence = other.Engine.Confidence
	}

	if other.Worker.LeaseTTL != 0 {
		c.Worker.LeaseTTL = other.Worker.LeaseTTL
	}
	if other.Worker.MaxAttempts != 0 {
		c.Worker.MaxAttempts = other.Worker.MaxAttempts
	}
	if other.Worker.RetryBackoffBase != 0 {
		c.Worker.RetryBackoffBase = other.Worker.RetryBackoffBase
	}
	if other.Worker.RetryBackoffMax != 0 {
		c.Worker.RetryBackoffMax = other.Worker.RetryBackoffMax
	}

	if other.Profiles.URL != "" {
		c.Profiles.URL = other.Profiles.URL
	}
	if len(other.Profiles.Static) > 0 {
		c.Profiles.Static = other.Profiles.Static
	}
}

func floatPtr(v float64) *float64 {
	return &v
}

// LoadFromFile loads configuration from a YAML file, layered over defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return config, nil
}
