// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Provider ProviderConfig `mapstructure:"provider"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Workers  WorkerConfig   `mapstructure:"workers"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	Index    IndexConfig    `mapstructure:"index"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// ProviderConfig points at the scraping provider API.
type ProviderConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms"`
	PollTimeoutSec int    `mapstructure:"poll_timeout_seconds"`
}

// LLMConfig selects the synthesis model.
type LLMConfig struct {
	Model string `mapstructure:"model"`
}

// WorkerConfig governs the job execution pool.
type WorkerConfig struct {
	Concurrency      int `mapstructure:"concurrency"`
	QueueDepth       int `mapstructure:"queue_depth"`
	MaxRetries       int `mapstructure:"max_retries"`
	RetryBackoffMs   int `mapstructure:"retry_backoff_ms"`
	JobTimeoutSec    int `mapstructure:"job_timeout_seconds"`
}

// StorageConfig selects where blob artifacts are written.
type StorageConfig struct {
	// Backend is one of "gcs", "local", or "memory".
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// DBConfig controls access to the relational database. An empty DSN
// selects the in-memory stores.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int32  `mapstructure:"max_open_conns"`
	MinOpenConns int32  `mapstructure:"min_open_conns"`
}

// IndexConfig controls the vector index behind the scratchpad. An
// empty DSN selects the in-memory lexical index.
type IndexConfig struct {
	DSN              string `mapstructure:"dsn"`
	EmbedderEndpoint string `mapstructure:"embedder_endpoint"`
	EmbedderModel    string `mapstructure:"embedder_model"`
}

// PubSubConfig holds metadata for job completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBSCOUT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout_seconds", 60)
	v.SetDefault("provider.base_url", "https://api.firecrawl.dev")
	v.SetDefault("provider.timeout_seconds", 120)
	v.SetDefault("provider.poll_interval_ms", 2000)
	v.SetDefault("provider.poll_timeout_seconds", 300)
	v.SetDefault("llm.model", "claude-sonnet-4-5")
	v.SetDefault("workers.concurrency", 4)
	v.SetDefault("workers.queue_depth", 64)
	v.SetDefault("workers.max_retries", 2)
	v.SetDefault("workers.retry_backoff_ms", 500)
	v.SetDefault("workers.job_timeout_seconds", 600)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Workers.Concurrency <= 0 {
		return fmt.Errorf("workers.concurrency must be > 0")
	}
	if c.Workers.QueueDepth <= 0 {
		return fmt.Errorf("workers.queue_depth must be > 0")
	}
	switch c.Storage.Backend {
	case "", "memory":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Index.DSN != "" && c.Index.EmbedderEndpoint == "" {
		return fmt.Errorf("index.embedder_endpoint must be set when index.dsn is set")
	}
	return nil
}

// ServerTimeout converts the request timeout knob into a duration.
func (c Config) ServerTimeout() time.Duration {
	return time.Duration(c.Server.TimeoutSeconds) * time.Second
}

// RetryBackoff converts the worker backoff knob into a duration.
func (c Config) RetryBackoff() time.Duration {
	return time.Duration(c.Workers.RetryBackoffMs) * time.Millisecond
}

// PollInterval converts the provider poll knob into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Provider.PollIntervalMs) * time.Millisecond
}

// PollTimeout converts the provider poll bound into a duration.
func (c Config) PollTimeout() time.Duration {
	return time.Duration(c.Provider.PollTimeoutSec) * time.Second
}
