// Package api hosts the crawler's status HTTP server. Routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for a JSON snapshot of the current crawl run.
package api
