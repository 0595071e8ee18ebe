// Package httputil holds the HTTP client seam used by the waveform archive
// clients, so tests can script archive responses without a network.
package httputil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/picktune/internal/version"
)

// HTTPClient sends requests. *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StandardClient wraps *http.Client and stamps every request with the
// picktune User-Agent.
type StandardClient struct {
	*http.Client
	UserAgent string
}

// NewStandardClient returns a client with the given overall timeout. A zero
// timeout leaves requests bounded only by their context.
func NewStandardClient(timeout time.Duration) *StandardClient {
	return &StandardClient{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: fmt.Sprintf("picktune/%s", version.Version),
	}
}

// Do sends req.
func (c *StandardClient) Do(req *http.Request) (*http.Response, error) {
	if c.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	return c.Client.Do(req)
}

// MockResponse is a canned response. A non-nil Error fails the request.
type MockResponse struct {
	StatusCode int
	Body       []byte
	Error      error
}

// MockHTTPClient replays queued responses in order and records requests.
// Once the queue is drained it answers 404.
type MockHTTPClient struct {
	mu        sync.Mutex
	DoFunc    func(req *http.Request) (*http.Response, error)
	requests  []*http.Request
	responses []MockResponse
	next      int
}

// NewMockHTTPClient returns an empty mock.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a response.
func (m *MockHTTPClient) AddResponse(status int, body []byte) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockResponse{StatusCode: status, Body: body})
	return m
}

// AddErrorResponse queues a transport failure.
func (m *MockHTTPClient) AddErrorResponse(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, MockResponse{Error: err})
	return m
}

// Do records req and returns the next queued response.
func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if m.DoFunc != nil {
		fn := m.DoFunc
		m.mu.Unlock()
		return fn(req)
	}
	resp := MockResponse{StatusCode: http.StatusNotFound}
	if m.next < len(m.responses) {
		resp = m.responses[m.next]
		m.next++
	}
	m.mu.Unlock()

	if resp.Error != nil {
		return nil, resp.Error
	}
	return &http.Response{
		StatusCode: resp.StatusCode,
		Body:       io.NopCloser(bytes.NewReader(resp.Body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// RequestCount returns the number of requests seen.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Request returns the nth recorded request, or nil.
func (m *MockHTTPClient) Request(n int) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n < 0 || n >= len(m.requests) {
		return nil
	}
	return m.requests[n]
}
