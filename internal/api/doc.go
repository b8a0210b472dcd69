// Package api hosts the HTTP server for serve mode. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/builds to start a database build (409 while one is running).
//   - GET /v1/builds, /v1/builds/{run_id} and /v1/builds/{run_id}/records
//     to inspect retained builds and query their records.
package api
