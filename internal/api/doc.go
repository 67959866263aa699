// Package api hosts the operator HTTP surface of a crawl run:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /status for the dispatcher snapshot.
//   - GET /v1/jobs and /v1/jobs/{country}/{store}/{product} for checkpoint progress.
package api
