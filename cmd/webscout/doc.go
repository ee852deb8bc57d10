// Package main hosts the webscout service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, job submission, and scratchpad endpoints. Requests are
//     authenticated by API key, normalized into job options, and debited against the account's credit quota before
//     the job is persisted and enqueued.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by workers.queue_depth and are fanned out
//     to a fixed worker pool sized by workers.concurrency. Context cancellation stops workers cleanly on shutdown.
//   - Job execution: the orchestrator runs each job to a terminal state through the provider gateway, which shapes
//     payloads, polls async provider jobs, and falls back from basic to stealth proxying on blocked fetches.
//     Research jobs additionally plan, collect, and synthesize source material through the configured LLM.
//   - Persistence & fanout: jobs, results, users, and scratchpad entries live in Postgres (or in-memory stores when
//     no DSN is configured). Screenshots are offloaded to the configured BlobStore (memory/local/GCS). A compact
//     Pub/Sub completion event is published when a project is configured. The scratchpad's semantic search runs on
//     pgvector when an index DSN is set, otherwise on an in-process lexical index.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging; Prometheus
//     metrics are exported via the metrics middleware and /metrics handler.
//
// Operational notes:
//   - Concurrency model: bounded queue + fixed worker pool; each job run is bounded by workers.job_timeout_seconds so
//     a hung provider call cannot pin a worker. Shutdown is coordinated via context cancellation propagated from main
//     through the dispatcher to workers.
//   - Credits: submission debits usage up front (1 credit per URL, 5 with stealth proxying) and a failed run does not
//     refund; quota violations surface as 403s before any job record is written.
//   - Observability: zap logs carry job IDs at key transitions; Prometheus counters/histograms track API and job
//     activity. Tracing is not wired in.
//   - Cloud Run: the HTTP server listens on the configured port (overridable via PORT). Health endpoints (/healthz,
//     /readyz) remain lightweight; the process reacts to SIGTERM for graceful drain and shutdown of workers.
//
// Quick checklist:
//   - Configure env vars: WEBSCOUT_SERVER_PORT or PORT, WEBSCOUT_WORKERS_CONCURRENCY, WEBSCOUT_PROVIDER_BASE_URL,
//     WEBSCOUT_LLM_MODEL, storage (WEBSCOUT_STORAGE_*), pubsub, and WEBSCOUT_DB_DSN / WEBSCOUT_INDEX_DSN when
//     persistence beyond memory is required.
//   - Run locally: go run ./cmd/webscout -config config.yaml (or rely solely on env overrides).
package main
