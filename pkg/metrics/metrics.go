// Package metrics exposes the Prometheus metrics of the Web API client.
// All metrics are defined in their respective packages (client, ratelimit,
// pagination) via promauto to keep those packages self-contained; this
// package documents them and serves them over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every client metric is registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer collects the metrics registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the gathered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - webapi_requests_total{method, status} (Counter): Requests by method and HTTP status ("network_error" when no response)
//   - webapi_request_duration_seconds{method} (Histogram): Transport call duration by method
//   - webapi_errors_total{code} (Counter): Failed attempts by error code (request_error, rate_limited, http_error, platform_error)
//
// Queue Metrics (pkg/client):
//   - webapi_queue_in_flight (Gauge): Calls currently dispatched to the transport
//   - webapi_queue_pending (Gauge): Admitted calls waiting for dispatch
//
// Retry Metrics (pkg/client):
//   - webapi_retries_total{error_code} (Counter): Retry attempts by error code
//   - webapi_retry_backoff_seconds{error_code} (Histogram): Backoff delay by error code
//   - webapi_retry_exhausted_total{error_code} (Counter): Calls that used up their retry budget
//
// Rate Limit Metrics (pkg/ratelimit):
//   - webapi_rate_limit_pauses_total (Counter): Dispatch pauses caused by 429 responses
//   - webapi_rate_limit_rejections_total (Counter): Rate-limited calls rejected without retry
//   - webapi_rate_limit_retry_after_seconds (Histogram): Retry-After values received
//
// Pagination Metrics (pkg/pagination):
//   - webapi_pages_fetched_total{method} (Counter): Pages fetched by auto-pagination
//   - webapi_paginations_total{outcome} (Counter): Auto-paginated calls by outcome (done, error)
//
// Example Prometheus Queries:
//
//   # Rate-limit pauses per minute
//   rate(webapi_rate_limit_pauses_total[1m]) * 60
//
//   # Share of attempts that were retried
//   sum(rate(webapi_retries_total[5m])) / sum(rate(webapi_requests_total[5m]))
//
//   # Platform errors by rate
//   rate(webapi_errors_total{code="platform_error"}[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(webapi_request_duration_seconds_bucket[5m]))
//
//   # Backlog
//   webapi_queue_pending + webapi_queue_in_flight
