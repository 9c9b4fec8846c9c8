// Package metrics exposes the Prometheus registry used by the search client.
// Metrics are defined in their own packages (omdb, pagination, search,
// poster, quota) and registered through promauto; this package serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the client packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving every registered metric.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/omdb):
//   - omdb_requests_total{status} (Counter): requests by HTTP status or failure kind
//   - omdb_request_duration_seconds (Histogram): request duration including retries
//   - omdb_retries_total{error_class} (Counter): retry attempts by error class
//   - omdb_retry_exhausted_total{error_class} (Counter): requests that exhausted retries
//
// Pagination Metrics (pkg/pagination):
//   - omdb_pages_fetched_total (Counter): pages appended to a buffer
//   - omdb_engine_terminal_total{state} (Counter): engines ending exhausted, failed or cancelled
//
// Search Metrics (pkg/search):
//   - omdb_searches_total{outcome} (Counter): started, replaced, duplicate
//   - omdb_feed_overruns_total (Counter): subscriptions closed over the feed limit
//
// Poster Metrics (pkg/poster):
//   - omdb_poster_cache_hits_total (Counter)
//   - omdb_poster_cache_misses_total (Counter)
//   - omdb_poster_coalesced_total (Counter)
//   - omdb_poster_cache_bytes (Gauge)
//   - omdb_poster_fetch_errors_total (Counter)
//
// Quota Metrics (pkg/quota):
//   - omdb_quota_remaining (Gauge)
//   - omdb_quota_blocks_total (Counter)
//
// Example Prometheus Queries:
//
//   # Poster Cache Hit Rate
//   rate(omdb_poster_cache_hits_total[5m]) /
//   (rate(omdb_poster_cache_hits_total[5m]) + rate(omdb_poster_cache_misses_total[5m]))
//
//   # Searches abandoned by a new term
//   rate(omdb_engine_terminal_total{state="cancelled"}[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(omdb_request_duration_seconds_bucket[5m]))
