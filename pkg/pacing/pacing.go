// Package pacing spaces requests to the remote Jira API. It parses
// Retry-After headers for 429 responses and provides courtesy delays
// between ordinary requests so a long harvest never hammers the server.
package pacing

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// RetryAfter extracts the wait duration from a 429 response header.
// It accepts the delta-seconds form and the HTTP-date form; when the
// header is absent or unparsable the configured fallback applies.
func RetryAfter(headers http.Header, fallback time.Duration) time.Duration {
	value := headers.Get("Retry-After")
	if value == "" {
		return fallback
	}

	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 {
			return fallback
		}
		return time.Duration(secs * float64(time.Second))
	}

	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}

	return fallback
}

// Pacer enforces the courtesy delay between requests. Comment fetches run
// at half the configured delay, matching the lighter weight of that
// endpoint. A zero delay disables pacing entirely.
type Pacer struct {
	delay    time.Duration
	requests *rate.Limiter
	comments *rate.Limiter
}

// New creates a Pacer with the given inter-request delay.
func New(delay time.Duration) *Pacer {
	p := &Pacer{delay: delay}
	if delay > 0 {
		p.requests = rate.NewLimiter(rate.Every(delay), 1)
		p.comments = rate.NewLimiter(rate.Every(delay/2), 1)
	}
	return p
}

// Delay returns the configured inter-request delay.
func (p *Pacer) Delay() time.Duration {
	return p.delay
}

// WaitRequest blocks until the next full-delay request slot is available.
func (p *Pacer) WaitRequest(ctx context.Context) error {
	if p.requests == nil {
		return ctx.Err()
	}
	return p.requests.Wait(ctx)
}

// WaitComments blocks until the next half-delay comment-fetch slot is
// available.
func (p *Pacer) WaitComments(ctx context.Context) error {
	if p.comments == nil {
		return ctx.Err()
	}
	return p.comments.Wait(ctx)
}

// ProjectPause sleeps for twice the inter-request delay. It is used
// between projects to give the server a longer break.
func (p *Pacer) ProjectPause(ctx context.Context) error {
	if p.delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(2 * p.delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
