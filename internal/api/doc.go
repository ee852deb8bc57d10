// Package api hosts the HTTP server, middleware, and REST handlers for
// client access. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scraper/... for job submission.
//   - GET /v1/jobs/... for job status and results.
//   - /v1/scratchpad/... for the per-user research scratchpad.
package api
