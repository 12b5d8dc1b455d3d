// Package client provides the resilient Jira HTTP client with retry,
// backoff, rate-limit handling, and error classification.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Piyanshu129/Web-scraper/pkg/pacing"
)

// Prometheus metrics for request execution.
var (
	jiraRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_requests_total",
		Help: "Total Jira requests by endpoint and status",
	}, []string{"endpoint", "status"})

	jiraRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jira_request_duration_seconds",
		Help:    "Jira request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	jiraErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_errors_total",
		Help: "Total Jira request errors by class",
	}, []string{"class"})

	jiraRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	jiraRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "jira_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	jiraRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jira_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	jiraRateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jira_rate_limit_waits_total",
		Help: "Total number of Retry-After waits caused by 429 responses",
	})
)

// SleepFunc suspends the caller for the given duration while honoring
// context cancellation. Tests inject a recording implementation.
type SleepFunc func(ctx context.Context, d time.Duration) error

// sleepContext is the default SleepFunc.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Config holds the executor configuration.
type Config struct {
	// BaseURL is the Jira REST API root.
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// MaxAttempts is the total attempt budget for retriable failures.
	// 429 responses are retried without consuming it.
	MaxAttempts int

	// BaseDelay is the initial backoff for 5xx and network failures.
	// Attempt n sleeps BaseDelay * 2^n.
	BaseDelay time.Duration

	// RateLimitDelay is the fallback wait when a 429 response carries
	// no usable Retry-After header.
	RateLimitDelay time.Duration

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration
}

// DefaultConfig returns a safe default configuration for the public
// Apache Jira instance.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://issues.apache.org/jira/rest/api/2",
		UserAgent:      "Apache-Jira-Scraper/1.0",
		MaxAttempts:    5,
		BaseDelay:      1 * time.Second,
		RateLimitDelay: 1 * time.Second,
		Timeout:        30 * time.Second,
	}
}

// Executor issues HTTP calls against the Jira REST API. Every failure mode
// maps to a single uniform signal for the caller: a nil payload and a
// classified error. Callers decide their own escalation.
type Executor struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
	sleep      SleepFunc
}

// NewExecutor creates a new request executor.
func NewExecutor(cfg Config) *Executor {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.RateLimitDelay <= 0 {
		cfg.RateLimitDelay = DefaultConfig().RateLimitDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	return &Executor{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: log.With().Str("component", "jira-executor").Logger(),
		sleep:  sleepContext,
	}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (e *Executor) SetHTTPClient(client *http.Client) {
	e.httpClient = client
}

// SetSleep sets a custom sleep function (for testing).
func (e *Executor) SetSleep(fn SleepFunc) {
	e.sleep = fn
}

// Execute performs one logical request with retry, backoff and rate-limit
// handling, returning the parsed JSON payload.
//
// Per attempt, up to Config.MaxAttempts:
//   - 429: sleep for Retry-After (or the configured fallback) and retry
//     without consuming an attempt.
//   - 5xx, timeout, connection failure: sleep BaseDelay*2^attempt and
//     consume one attempt; exhaustion fails with ErrRetryExhausted.
//   - other 4xx: fail immediately, no retry.
//   - 200 with an unparsable or null body: fail immediately, no retry.
//   - any other status: fail immediately, no retry.
func (e *Executor) Execute(ctx context.Context, method, path string, query url.Values) (map[string]any, error) {
	endpoint := "/" + strings.TrimPrefix(path, "/")

	requestURL := e.config.BaseURL + endpoint
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	startTime := time.Now()
	defer func() {
		jiraRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	var lastErr error

	for attempt := 0; attempt < e.config.MaxAttempts; {
		req, err := http.NewRequestWithContext(ctx, method, requestURL, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", e.config.UserAgent)

		resp, err := e.httpClient.Do(req)
		if err != nil {
			// Network error or timeout: treated like 5xx.
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = &APIError{
				Class:   ErrorClassNetwork,
				Message: "request failed",
				Err:     err,
			}
			jiraErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			jiraRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()

			if err := e.backoff(ctx, endpoint, ErrorClassNetwork, &attempt); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		status := resp.StatusCode
		jiraRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", status)).Inc()

		switch {
		case status == http.StatusTooManyRequests:
			// Rate limiting never consumes the retry budget.
			wait := pacing.RetryAfter(resp.Header, e.config.RateLimitDelay)
			jiraErrorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			jiraRateLimitWaitsTotal.Inc()

			e.logger.Warn().
				Str("endpoint", endpoint).
				Dur("retry_after", wait).
				Msg("Rate limited, waiting before retry")

			if err := e.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue

		case status >= 400:
			class := ErrorClassClient
			if status >= 500 {
				class = ErrorClassServer
			}
			apiErr := &APIError{
				StatusCode: status,
				Class:      class,
				Message:    resp.Status,
			}
			jiraErrorsTotal.WithLabelValues(string(class)).Inc()

			if !shouldRetry(class) {
				e.logger.Error().
					Str("endpoint", endpoint).
					Int("status", status).
					Str("body", truncateBody(body)).
					Msg("Client error, not retrying")
				return nil, apiErr
			}

			lastErr = apiErr
			if err := e.backoff(ctx, endpoint, class, &attempt); err != nil {
				return nil, err
			}
			continue

		case status == http.StatusOK:
			if readErr != nil {
				jiraErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
				lastErr = &APIError{
					StatusCode: status,
					Class:      ErrorClassNetwork,
					Message:    "read response body",
					Err:        readErr,
				}
				if err := e.backoff(ctx, endpoint, ErrorClassNetwork, &attempt); err != nil {
					return nil, err
				}
				continue
			}

			payload, err := parseBody(body)
			if err != nil {
				jiraErrorsTotal.WithLabelValues(string(ErrorClassMalformed)).Inc()
				e.logger.Error().
					Str("endpoint", endpoint).
					Err(err).
					Msg("Failed to parse response body")

				return nil, &APIError{
					StatusCode: status,
					Class:      ErrorClassMalformed,
					Message:    "parse response",
					Err:        err,
				}
			}
			return payload, nil

		default:
			jiraErrorsTotal.WithLabelValues(string(ErrorClassUnexpected)).Inc()
			e.logger.Warn().
				Str("endpoint", endpoint).
				Int("status", status).
				Msg("Unexpected status code")

			return nil, &APIError{
				StatusCode: status,
				Class:      ErrorClassUnexpected,
				Message:    resp.Status,
			}
		}
	}

	jiraRetryExhaustedTotal.WithLabelValues(errorClassOf(lastErr)).Inc()
	e.logger.Error().
		Str("endpoint", endpoint).
		Int("max_attempts", e.config.MaxAttempts).
		Err(lastErr).
		Msg("Retry attempts exhausted")

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, e.config.MaxAttempts, lastErr)
}

// backoff consumes one retry attempt and sleeps BaseDelay*2^attempt unless
// the budget is already spent.
func (e *Executor) backoff(ctx context.Context, endpoint string, class ErrorClass, attempt *int) error {
	index := *attempt
	*attempt = index + 1

	// Last attempt failed, no point sleeping before giving up.
	if *attempt >= e.config.MaxAttempts {
		return nil
	}

	wait := e.config.BaseDelay * (1 << index)
	jiraRetriesTotal.WithLabelValues(string(class)).Inc()
	jiraRetryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

	e.logger.Warn().
		Str("endpoint", endpoint).
		Str("error_class", string(class)).
		Int("attempt", index+1).
		Int("max_attempts", e.config.MaxAttempts).
		Dur("backoff", wait).
		Msg("Retrying request after backoff")

	return e.sleep(ctx, wait)
}

// parseBody decodes a JSON object payload, rejecting empty and null bodies.
func parseBody(body []byte) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedResponse)
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return payload, nil
}

// errorClassOf extracts the class label from a terminal error for metrics.
func errorClassOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return string(apiErr.Class)
	}
	return string(ErrorClassUnexpected)
}

// truncateBody limits error-response bodies in log output.
func truncateBody(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit])
	}
	return string(body)
}
