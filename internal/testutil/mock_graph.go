// Package testutil provides testing utilities for the Graph client.
package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/o365-graph-client/pkg/batch"
)

// APIPrefix is the path prefix the mock serves, mirroring /v1.0.
const APIPrefix = "/v1.0"

// MockResponse defines the behavior for a mock Graph endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is a request received by the mock.
type RecordedRequest struct {
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     []byte
}

// BatchResponder produces the $batch result for a received envelope.
type BatchResponder func(env batch.Envelope) batch.Result

// MockGraph is a configurable mock Graph server for testing.
type MockGraph struct {
	server   *httptest.Server
	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	queues   map[string][]MockResponse
	batchFn  BatchResponder

	requests  []RecordedRequest
	envelopes []batch.Envelope
}

// NewMockGraph creates a new mock Graph server. Unknown paths answer 404
// with a Graph error body; $batch answers every sub-request with 204.
func NewMockGraph() *MockGraph {
	mock := &MockGraph{
		handlers: make(map[string]http.HandlerFunc),
		queues:   make(map[string][]MockResponse),
		batchFn:  AllSucceed,
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.serve))
	return mock
}

// APIRoot returns the base URL to configure a session with.
func (m *MockGraph) APIRoot() string {
	return m.server.URL + APIPrefix
}

// Close shuts down the mock server.
func (m *MockGraph) Close() {
	m.server.Close()
}

// Reset clears recorded traffic.
func (m *MockGraph) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.envelopes = nil
}

// SetHandler sets a custom handler for a path relative to the API root.
func (m *MockGraph) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[APIPrefix+path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockGraph) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, resp)
	})
}

// QueueResponses serves responses for path in order; the last one repeats.
func (m *MockGraph) QueueResponses(path string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[APIPrefix+path] = append(m.queues[APIPrefix+path], responses...)
}

// SetBatchResponder replaces the $batch result producer.
func (m *MockGraph) SetBatchResponder(fn BatchResponder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchFn = fn
}

// Requests returns every request received so far.
func (m *MockGraph) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RecordedRequest(nil), m.requests...)
}

// RequestCount returns the number of requests made to the server.
func (m *MockGraph) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Envelopes returns every $batch envelope received so far.
func (m *MockGraph) Envelopes() []batch.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]batch.Envelope(nil), m.envelopes...)
}

func (m *MockGraph) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	m.mu.Lock()
	m.requests = append(m.requests, RecordedRequest{
		Method:   r.Method,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
		Header:   r.Header.Clone(),
		Body:     body,
	})
	handler, hasHandler := m.handlers[r.URL.Path]
	var queued *MockResponse
	if q := m.queues[r.URL.Path]; len(q) > 0 {
		resp := q[0]
		queued = &resp
		if len(q) > 1 {
			m.queues[r.URL.Path] = q[1:]
		}
	}
	batchFn := m.batchFn
	m.mu.Unlock()

	switch {
	case queued != nil:
		writeResponse(w, *queued)
	case hasHandler:
		handler(w, r)
	case r.Method == http.MethodPost && r.URL.Path == APIPrefix+"/$batch":
		m.serveBatch(w, body, batchFn)
	default:
		writeResponse(w, NewErrorResponse(http.StatusNotFound, "itemNotFound", "The resource could not be found."))
	}
}

func (m *MockGraph) serveBatch(w http.ResponseWriter, body []byte, fn BatchResponder) {
	var env batch.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeResponse(w, NewErrorResponse(http.StatusBadRequest, "BadRequest", "Invalid batch payload"))
		return
	}
	m.mu.Lock()
	m.envelopes = append(m.envelopes, env)
	m.mu.Unlock()

	data, _ := json.Marshal(fn(env))
	writeResponse(w, NewJSONResponse(string(data)))
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// AllSucceed answers every sub-request with 204, in reverse order.
func AllSucceed(env batch.Envelope) batch.Result {
	result := batch.Result{Responses: make([]batch.SubResponse, 0, len(env.Requests))}
	for i := len(env.Requests) - 1; i >= 0; i-- {
		result.Responses = append(result.Responses, batch.SubResponse{ID: env.Requests[i].ID, Status: http.StatusNoContent})
	}
	return result
}

// FailID answers sub-request id with status and an error body, the rest with 204.
func FailID(id string, status int, message string) BatchResponder {
	return func(env batch.Envelope) batch.Result {
		result := AllSucceed(env)
		for i := range result.Responses {
			if result.Responses[i].ID == id {
				result.Responses[i].Status = status
				result.Responses[i].Body = json.RawMessage(fmt.Sprintf(`{"error":{"code":"Failed","message":%q}}`, message))
			}
		}
		return result
	}
}

// NewJSONResponse creates a 200 OK response with a JSON body.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewPageResponse creates a collection page with an optional next link.
func NewPageResponse(nextLink string, items ...string) MockResponse {
	page := map[string]any{"value": rawItems(items)}
	if nextLink != "" {
		page["@odata.nextLink"] = nextLink
	}
	data, _ := json.Marshal(page)
	return NewJSONResponse(string(data))
}

func rawItems(items []string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		out = append(out, json.RawMessage(item))
	}
	return out
}

// NewErrorResponse creates a Graph-style error response.
func NewErrorResponse(status int, code, message string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       fmt.Sprintf(`{"error":{"code":%q,"message":%q}}`, code, message),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewThrottleResponse creates a 429 response. A negative retryAfter omits the header.
func NewThrottleResponse(retryAfter int) MockResponse {
	resp := NewErrorResponse(http.StatusTooManyRequests, "TooManyRequests", "Too many requests")
	if retryAfter >= 0 {
		resp.Headers["Retry-After"] = strconv.Itoa(retryAfter)
	}
	return resp
}
