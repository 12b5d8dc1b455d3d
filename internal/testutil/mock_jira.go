// Package testutil provides testing utilities for the Jira harvester.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock Jira endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockJira is a configurable mock Jira server for testing.
type MockJira struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	// Tracking
	RequestCount int
	PathCounts   map[string]int
	LastQuery    map[string][]string
}

// NewMockJira creates a new mock Jira server.
func NewMockJira() *MockJira {
	mock := &MockJira{
		handlers:   make(map[string]func(w http.ResponseWriter, r *http.Request)),
		PathCounts: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.PathCounts[r.URL.Path]++
		mock.LastQuery = r.URL.Query()
		mock.mu.Unlock()

		// Check for custom handler
		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		// Default handler
		mock.defaultHandler(w)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockJira) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockJira) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockJira) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PathCounts = make(map[string]int)
	m.LastQuery = nil
}

// SetHandler sets a custom handler for a specific path.
func (m *MockJira) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockJira) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// SetSequence configures a path to serve the given responses in order.
// The last response repeats once the sequence is exhausted.
func (m *MockJira) SetSequence(path string, responses ...MockResponse) {
	var mu sync.Mutex
	index := 0

	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := responses[index]
		if index < len(responses)-1 {
			index++
		}
		mu.Unlock()

		writeResponse(w, resp)
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockJira) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetPathCount returns the number of requests for one path.
func (m *MockJira) GetPathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.PathCounts[path]
}

// GetLastQuery returns the query parameters of the most recent request.
func (m *MockJira) GetLastQuery() map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastQuery
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
	}

	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// defaultHandler provides a default empty JSON response.
func (m *MockJira) defaultHandler(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{}`))
}

// NewJSONResponse creates a 200 OK response with the given JSON body.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response with the
// given Retry-After value.
func NewRateLimitResponse(retryAfter string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "rate limit exceeded"}`,
		Headers: map[string]string{
			"Retry-After": retryAfter,
		},
	}
}

// NewServerErrorResponse creates a 503 Service Unavailable response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       `{"error": "service unavailable"}`,
	}
}

// Issue builds a raw search-result issue with the given key and summary.
func Issue(key, summary string) map[string]any {
	return map[string]any{
		"key": key,
		"fields": map[string]any{
			"summary":     summary,
			"description": "Description of " + key,
			"status":      map[string]any{"name": "Open"},
			"issuetype":   map[string]any{"name": "Bug"},
			"priority":    map[string]any{"name": "Major"},
			"project":     map[string]any{"name": "Test Project"},
			"reporter":    map[string]any{"displayName": "Reporter"},
			"labels":      []any{},
			"components":  []any{},
		},
	}
}

// SearchPage builds a search response body with the given total and issues.
func SearchPage(total int, issues ...map[string]any) string {
	if issues == nil {
		issues = []map[string]any{}
	}
	body, err := json.Marshal(map[string]any{
		"total":      total,
		"startAt":    0,
		"maxResults": len(issues),
		"issues":     issues,
	})
	if err != nil {
		panic(fmt.Sprintf("marshal search page: %v", err))
	}
	return string(body)
}

// CommentsPage builds a comments response body.
func CommentsPage(comments ...map[string]any) string {
	if comments == nil {
		comments = []map[string]any{}
	}
	body, err := json.Marshal(map[string]any{
		"comments": comments,
		"total":    len(comments),
	})
	if err != nil {
		panic(fmt.Sprintf("marshal comments page: %v", err))
	}
	return string(body)
}

// ProjectInfo builds a project metadata response body.
func ProjectInfo(key, name string) string {
	body, err := json.Marshal(map[string]any{
		"key":  key,
		"name": name,
	})
	if err != nil {
		panic(fmt.Sprintf("marshal project info: %v", err))
	}
	return string(body)
}
