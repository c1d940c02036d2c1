// Package api hosts the HTTP server for operator access. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to trigger a pipeline run; 409 while one is in flight.
//   - GET /v1/runs/latest and /v1/runs/latest/events for the most recent
//     run summary and its event log.
package api
