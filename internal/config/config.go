// Package config loads and validates the application configuration.
package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full application configuration.
type Config struct {
	// LogLevel is the default logging level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	Server        ServerConfig        `yaml:"server"`
	Queue         QueueConfig         `yaml:"queue"`
	Model         ModelConfig         `yaml:"model"`
	Investigation InvestigationConfig `yaml:"investigation"`
	Slack         SlackConfig         `yaml:"slack"`
	GitHub        GitHubConfig        `yaml:"github"`
	Grafana       GrafanaConfig       `yaml:"grafana"`
	Tracing       TracingConfig       `yaml:"tracing"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// QueueConfig configures the job queue. An empty URL selects the
// in-memory queue, which only makes sense for a single process.
type QueueConfig struct {
	URL    string `yaml:"url"`
	Region string `yaml:"region"`
}

// ModelConfig configures the language model provider.
type ModelConfig struct {
	APIKey      string  `yaml:"api_key"`
	Name        string  `yaml:"name"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// InvestigationConfig bounds a single investigation.
type InvestigationConfig struct {
	MaxLoops      int           `yaml:"max_loops"`
	MaxIterations int           `yaml:"max_iterations"`
	MaxDuration   time.Duration `yaml:"max_duration"`

	// Concurrency is the number of jobs processed in parallel.
	Concurrency int `yaml:"concurrency"`
}

// SlackConfig configures progress updates and report delivery.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
}

// GitHubConfig configures the code host.
type GitHubConfig struct {
	Token string `yaml:"token"`

	// Repositories lists the workspace's repositories (owner/name) for
	// preprocessing: service-mapping scans and deployment metadata.
	Repositories []string `yaml:"repositories"`
}

// GrafanaConfig configures the observability backend.
type GrafanaConfig struct {
	URL               string `yaml:"url"`
	Token             string `yaml:"token"`
	LogsDatasource    string `yaml:"logs_datasource"`
	MetricsDatasource string `yaml:"metrics_datasource"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"`
	TLSCAPath   string `yaml:"tls_ca_path"`
	TLSInsecure bool   `yaml:"tls_insecure"`
}

// Default returns the configuration used when a field is not set.
func Default() Config {
	return Config{
		LogLevel: "info",
		Server:   ServerConfig{Port: 8080},
		Model: ModelConfig{
			MaxTokens:   4096,
			Temperature: 0.0,
		},
		Investigation: InvestigationConfig{
			MaxLoops:      2,
			MaxIterations: 10,
			MaxDuration:   5 * time.Minute,
			Concurrency:   4,
		},
	}
}

// Load reads a YAML config file and merges it over the defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %q: %w", path, err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("parse config from %q: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed for %q: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Investigation.MaxLoops < 1 {
		return fmt.Errorf("investigation.max_loops must be at least 1, got %d", c.Investigation.MaxLoops)
	}
	if c.Investigation.MaxIterations < 1 {
		return fmt.Errorf("investigation.max_iterations must be at least 1, got %d", c.Investigation.MaxIterations)
	}
	if c.Investigation.MaxDuration <= 0 {
		return fmt.Errorf("investigation.max_duration must be positive, got %s", c.Investigation.MaxDuration)
	}
	if c.Investigation.Concurrency < 1 {
		return fmt.Errorf("investigation.concurrency must be at least 1, got %d", c.Investigation.Concurrency)
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint must be set when tracing is enabled")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	return nil
}
