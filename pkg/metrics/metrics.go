// Package metrics provides the centralized Prometheus registry reference
// for the harvester. All metrics are defined in their respective packages
// (client, harvest) to maintain modularity and avoid circular
// dependencies.
//
// This package provides documentation and reference for all available
// metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the harvester.
// All metrics are automatically registered via promauto in their
// respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - jira_requests_total{endpoint, status} (Counter): Total requests by endpoint and HTTP status
//   - jira_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - jira_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, malformed, unexpected)
//
// Retry Metrics (pkg/client):
//   - jira_retries_total{error_class} (Counter): Retry attempts by error class
//   - jira_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - jira_retry_exhausted_total{error_class} (Counter): Requests that exhausted max attempts
//   - jira_rate_limit_waits_total (Counter): Retry-After waits caused by 429 responses
//
// Harvest Metrics (pkg/harvest):
//   - harvest_issues_scraped_total{project} (Counter): Issues scraped and written per project
//   - harvest_issues_skipped_total{project} (Counter): Issues skipped as already processed
//   - harvest_transform_failures_total{project} (Counter): Issues dropped by normalization failures
//   - harvest_batches_flushed_total (Counter): Record batches flushed to the output stream
//   - harvest_page_failures_total{project} (Counter): Failed page fetches per project
//   - harvest_project_failures_total (Counter): Projects aborted after repeated failures
//
// Example Prometheus Queries:
//
//   # Request Error Rate
//   rate(jira_errors_total[5m])
//
//   # Scrape Throughput
//   sum(rate(harvest_issues_scraped_total[5m]))
//
//   # Retry Exhaustion
//   rate(jira_retry_exhausted_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(jira_request_duration_seconds_bucket[5m]))
