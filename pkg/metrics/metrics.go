// Package metrics exposes the Prometheus registry used by the Graph client.
// All metrics are defined in their respective packages (client, batch,
// pagination, ratelimit) to maintain modularity and avoid circular dependencies.
//
// This package provides the HTTP handler and a reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the Graph client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - graph_requests_total{method, status} (Counter): HTTP requests by method and status
//   - graph_request_duration_seconds{method} (Histogram): Request duration by method
//   - graph_errors_total{class} (Counter): Errors by class (client, server, throttle, network, unexpected)
//
// Throttle Metrics (pkg/client):
//   - graph_throttle_retries_total (Counter): Requests resent after a 429
//   - graph_throttle_sleep_seconds (Histogram): Time slept before a resend
//   - graph_throttle_exhausted_total (Counter): Requests abandoned by a bounded policy
//
// Batch Metrics (pkg/batch):
//   - graph_batch_flushes_total{result} (Counter): $batch flushes by result (ok, failed, error)
//   - graph_batch_size (Histogram): Sub-requests per flush
//   - graph_batch_subrequest_failures_total{status} (Counter): Failed sub-requests by status
//
// Pagination Metrics (pkg/pagination):
//   - graph_pages_fetched_total (Counter): Collection pages fetched by cursors
//
// Shared Throttle Metrics (pkg/ratelimit):
//   - graph_throttle_cooldown_seconds (Gauge): Last recorded shared cooldown
//   - graph_throttle_events_total (Counter): 429s recorded in the shared store
//   - graph_throttle_shared_waits_total (Counter): Waits on a cooldown set by any session
//   - graph_pacer_waits_total (Counter): Requests delayed by the client-side pacer
//
// Example Prometheus Queries:
//
//   # Throttle Rate
//   rate(graph_throttle_retries_total[5m]) / sum(rate(graph_requests_total[5m]))
//
//   # Failed Batch Ratio
//   sum(rate(graph_batch_flushes_total{result!="ok"}[5m])) / sum(rate(graph_batch_flushes_total[5m]))
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(graph_request_duration_seconds_bucket[5m]))
