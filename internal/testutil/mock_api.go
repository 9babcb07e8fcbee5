// Package testutil provides testing utilities for the Web API client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock API method response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock Web API server for testing. Methods are
// served at /api/<method>.
type MockAPI struct {
	server *httptest.Server

	mu        sync.Mutex
	handlers  map[string]http.HandlerFunc
	sequences map[string][]MockResponse

	// Tracking
	requestCount int
	inFlight     int
	maxInFlight  int
	requests     []RecordedRequest
}

// RecordedRequest is what the mock saw for one call.
type RecordedRequest struct {
	Method string
	Form   map[string]string
	Header http.Header
	At     time.Time
}

// NewMockAPI creates a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:  make(map[string]http.HandlerFunc),
		sequences: make(map[string][]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := strings.TrimPrefix(r.URL.Path, "/api/")
		_ = r.ParseForm()
		form := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}

		mock.mu.Lock()
		mock.requestCount++
		mock.inFlight++
		if mock.inFlight > mock.maxInFlight {
			mock.maxInFlight = mock.inFlight
		}
		mock.requests = append(mock.requests, RecordedRequest{
			Method: method,
			Form:   form,
			Header: r.Header.Clone(),
			At:     time.Now(),
		})
		handler, hasHandler := mock.handlers[method]
		var next *MockResponse
		if seq := mock.sequences[method]; len(seq) > 0 {
			next = &seq[0]
			if len(seq) > 1 {
				mock.sequences[method] = seq[1:]
			}
		}
		mock.mu.Unlock()

		defer func() {
			mock.mu.Lock()
			mock.inFlight--
			mock.mu.Unlock()
		}()

		switch {
		case next != nil:
			writeResponse(w, *next)
		case hasHandler:
			handler(w, r)
		default:
			writeResponse(w, NewOKResponse(`{"ok": true}`))
		}
	}))

	return mock
}

// URL returns the API root, suitable for client.Config.BaseURL.
func (m *MockAPI) URL() string {
	return m.server.URL + "/api/"
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a method.
func (m *MockAPI) SetHandler(method string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method] = handler
}

// SetResponse configures a fixed response for a method.
func (m *MockAPI) SetResponse(method string, resp MockResponse) {
	m.SetSequence(method, resp)
}

// SetSequence serves responses in order; the last one repeats.
func (m *MockAPI) SetSequence(method string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[method] = responses
}

// SetPages serves a cursor-paginated method. pages[i] is the JSON object
// of page i without response_metadata; page i is returned for cursor
// "c<i>" (page 0 for no cursor) and points at page i+1.
func (m *MockAPI) SetPages(method string, pages []map[string]any) {
	m.SetHandler(method, func(w http.ResponseWriter, r *http.Request) {
		index := 0
		if cursor := r.PostForm.Get("cursor"); cursor != "" {
			if _, err := fmt.Sscanf(cursor, "c%d", &index); err != nil || index >= len(pages) {
				writeResponse(w, NewPlatformErrorResponse("invalid_cursor"))
				return
			}
		}

		page := make(map[string]any, len(pages[index])+2)
		for k, v := range pages[index] {
			page[k] = v
		}
		next := ""
		if index+1 < len(pages) {
			next = fmt.Sprintf("c%d", index+1)
		}
		page["ok"] = true
		page["response_metadata"] = map[string]any{"next_cursor": next}

		body, _ := json.Marshal(page)
		writeResponse(w, NewOKResponse(string(body)))
	})
}

// RequestCount returns the number of requests made to the server.
func (m *MockAPI) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}

// MaxInFlight returns the highest number of concurrent requests observed.
func (m *MockAPI) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// Requests returns every recorded request in arrival order.
func (m *MockAPI) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// NewOKResponse creates a 200 OK JSON response.
func NewOKResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewPlatformErrorResponse creates a 200 response with ok=false.
func NewPlatformErrorResponse(apiError string) MockResponse {
	return NewOKResponse(fmt.Sprintf(`{"ok": false, "error": %q}`, apiError))
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
// An empty retryAfter omits the header.
func NewRateLimitResponse(retryAfter string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"ok": false, "error": "ratelimited"}`,
		Headers: map[string]string{
			"Retry-After":  retryAfter,
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `Internal server error`,
		Headers: map[string]string{
			"Content-Type": "text/plain",
		},
	}
}
