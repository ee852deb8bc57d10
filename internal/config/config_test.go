package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  timeout_seconds: 30
provider:
  base_url: https://scrape.internal
  poll_interval_ms: 500
  poll_timeout_seconds: 60
llm:
  model: claude-sonnet-4-5
workers:
  concurrency: 6
  queue_depth: 128
  max_retries: 4
  retry_backoff_ms: 100
storage:
  backend: gcs
  gcs_bucket: artifacts
db:
  dsn: postgres://localhost/webscout
index:
  dsn: postgres://localhost/webscout
  embedder_endpoint: http://localhost:9200/embed
pubsub:
  project_id: proj
  topic_name: job-events
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Provider.BaseURL != "https://scrape.internal" {
		t.Fatalf("expected provider override, got %q", cfg.Provider.BaseURL)
	}
	if cfg.Workers.Concurrency != 6 || cfg.Workers.QueueDepth != 128 {
		t.Fatalf("expected worker overrides to apply: %+v", cfg.Workers)
	}
	if cfg.Storage.Backend != "gcs" || cfg.Storage.GCSBucket != "artifacts" {
		t.Fatalf("expected storage overrides to apply: %+v", cfg.Storage)
	}
	if cfg.PubSub.TopicName != "job-events" {
		t.Fatalf("expected pubsub topic, got %q", cfg.PubSub.TopicName)
	}
	if cfg.Logging.Development {
		t.Fatal("expected development logging disabled")
	}
	if got := cfg.ServerTimeout(); got != 30*time.Second {
		t.Fatalf("expected server timeout 30s, got %v", got)
	}
	if got := cfg.PollInterval(); got != 500*time.Millisecond {
		t.Fatalf("expected poll interval 500ms, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Provider.BaseURL != "https://api.firecrawl.dev" {
		t.Fatalf("expected default provider url, got %q", cfg.Provider.BaseURL)
	}
	if cfg.Storage.Backend != "memory" {
		t.Fatalf("expected default memory backend, got %q", cfg.Storage.Backend)
	}
	if cfg.LLM.Model == "" {
		t.Fatal("expected a default model")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:  ServerConfig{Port: 8080},
		Workers: WorkerConfig{Concurrency: 4, QueueDepth: 64},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid concurrency",
			cfg: func() Config {
				c := base
				c.Workers.Concurrency = 0
				return c
			}(),
			want: "workers.concurrency",
		},
		{
			name: "invalid queue depth",
			cfg: func() Config {
				c := base
				c.Workers.QueueDepth = 0
				return c
			}(),
			want: "workers.queue_depth",
		},
		{
			name: "gcs backend missing bucket",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "gcs"
				return c
			}(),
			want: "storage.gcs_bucket",
		},
		{
			name: "local backend missing dir",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "local"
				return c
			}(),
			want: "storage.local_dir",
		},
		{
			name: "unknown backend",
			cfg: func() Config {
				c := base
				c.Storage.Backend = "s3"
				return c
			}(),
			want: "storage backend",
		},
		{
			name: "index missing embedder",
			cfg: func() Config {
				c := base
				c.Index.DSN = "postgres://localhost/x"
				return c
			}(),
			want: "index.embedder_endpoint",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
