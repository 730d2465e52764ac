// Package client provides the Graph session: direct requests with throttle
// absorption, lazy pagination, and coalescing of writes into $batch calls.
package client

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/o365-graph-client/pkg/auth"
	"github.com/Sternrassler/o365-graph-client/pkg/batch"
	"github.com/Sternrassler/o365-graph-client/pkg/pagination"
	"github.com/Sternrassler/o365-graph-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for Graph requests.
var (
	graphRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_requests_total",
		Help: "Total Graph HTTP requests by method and status",
	}, []string{"method", "status"})

	graphRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "graph_request_duration_seconds",
		Help:    "Graph request duration in seconds by method",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	graphErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_errors_total",
		Help: "Total Graph errors by class",
	}, []string{"class"})
)

// DefaultAPIRoot is the Graph v1.0 endpoint.
const DefaultAPIRoot = "https://graph.microsoft.com/v1.0"

// ErrPendingRequests is returned by Shutdown when buffered requests could not be delivered.
var ErrPendingRequests = errors.New("buffered requests were not delivered")

// Mode is the session's dispatch mode.
type Mode int

const (
	// ModeDirect sends every request immediately.
	ModeDirect Mode = iota

	// ModeBatching buffers requests until the batch size is reached.
	ModeBatching
)

func (m Mode) String() string {
	if m == ModeBatching {
		return "batching"
	}
	return "direct"
}

// Config holds the session configuration.
type Config struct {
	// APIRoot is the absolute base URL of the API.
	APIRoot string

	// Tokens supplies the bearer token for every attempt (REQUIRED unless Transport is set).
	Tokens auth.TokenSupplier

	// HTTPClient defaults to a client with a 60s timeout.
	HTTPClient *http.Client

	UserAgent string

	// Throttle controls 429 handling.
	Throttle ThrottlePolicy

	// Limiter paces outgoing requests (optional).
	Limiter ratelimit.Limiter

	// Cooldown shares throttle deadlines with other processes (optional).
	Cooldown Cooldown

	// Transport replaces the HTTP transport built from the fields above.
	Transport Transport

	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns a configuration for the public Graph endpoint.
func DefaultConfig(tokens auth.TokenSupplier) Config {
	return Config{
		APIRoot:   DefaultAPIRoot,
		Tokens:    tokens,
		UserAgent: "o365-graph-client/1.0",
		Throttle:  DefaultThrottlePolicy(),
	}
}

// Session mediates every call to the API. Buffer and mode are guarded by a
// mutex, so a session may be shared; direct calls run concurrently.
type Session struct {
	transport Transport
	apiRoot   string
	logger    zerolog.Logger

	mu      sync.Mutex
	batches *batch.Coordinator
}

// New creates a session in direct mode.
func New(cfg Config) (*Session, error) {
	if cfg.APIRoot == "" {
		return nil, fmt.Errorf("api root is required")
	}
	u, err := url.Parse(cfg.APIRoot)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("api root must be an absolute URL (got %q)", cfg.APIRoot)
	}
	if cfg.Transport == nil && cfg.Tokens == nil {
		return nil, fmt.Errorf("token supplier is required")
	}
	if cfg.Throttle.MaxAttempts < 0 {
		return nil, fmt.Errorf("throttle max_attempts must be >= 0 (got %d)", cfg.Throttle.MaxAttempts)
	}

	var logger zerolog.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	} else {
		logger = log.Logger
	}

	transport := cfg.Transport
	if transport == nil {
		transport = NewHTTPTransport(cfg, logger)
	}

	s := &Session{
		transport: transport,
		apiRoot:   strings.TrimSuffix(cfg.APIRoot, "/"),
		logger:    logger.With().Str("component", "graph-session").Logger(),
	}
	s.batches = batch.NewCoordinator(s, s.apiRoot, logger.With().Str("component", "graph-batch").Logger())
	return s, nil
}

// APIRoot returns the base URL requests are built from.
func (s *Session) APIRoot() string { return s.apiRoot }

// URL joins path segments onto the API root.
func (s *Session) URL(segments ...string) string {
	return s.apiRoot + "/" + strings.Join(segments, "/")
}

// Mode returns the current dispatch mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batches.Active() {
		return ModeBatching
	}
	return ModeDirect
}

// Pending returns the number of buffered, unsent requests.
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches.Len()
}

// Request dispatches spec. While batching, and unless spec.ForceDirect is
// set, the request is buffered and Request returns (nil, nil); a flush
// triggered by this call may still fail. Otherwise the response is sent and
// run through the error policy.
func (s *Session) Request(ctx context.Context, spec RequestSpec) (*Response, error) {
	spec = spec.clone()
	if spec.Method == "" {
		spec.Method = http.MethodGet
	}

	s.mu.Lock()
	if s.batches.Active() && !spec.ForceDirect {
		defer s.mu.Unlock()
		req, err := toBatchRequest(spec)
		if err != nil {
			return nil, err
		}
		return nil, s.batches.Enqueue(ctx, req)
	}
	s.mu.Unlock()

	return s.direct(ctx, spec)
}

func (s *Session) direct(ctx context.Context, spec RequestSpec) (*Response, error) {
	resp, err := s.transport.Do(ctx, spec)
	if err != nil {
		return nil, err
	}
	if err := applyPolicy(spec, resp); err != nil {
		s.logger.Debug().Err(err).Int("status", resp.StatusCode).Msg("Request failed")
		return resp, err
	}
	return resp, nil
}

// Get issues a GET that always bypasses the batch buffer. Any non-2xx
// status is an error unless WithCannotRaise is given.
func (s *Session) Get(ctx context.Context, rawURL string, opts ...Option) (*Response, error) {
	spec := RequestSpec{Method: http.MethodGet, URL: rawURL}
	for _, opt := range opts {
		opt(&spec)
	}
	spec.ForceDirect = true

	resp, err := s.Request(ctx, spec)
	if err != nil {
		return resp, err
	}
	if !resp.OK() && !spec.CannotRaise {
		_, msg := Classify(resp)
		if msg == "" {
			msg = fmt.Sprintf("Error %d while accessing %s", resp.StatusCode, resp.URL)
		}
		graphErrorsTotal.WithLabelValues(string(ErrorClassUnexpected)).Inc()
		return resp, &GraphError{
			StatusCode: resp.StatusCode,
			Class:      ErrorClassUnexpected,
			Method:     spec.Method,
			URL:        resp.URL,
			Message:    msg,
			Body:       resp.Body,
		}
	}
	return resp, nil
}

// GetItem fetches a single JSON object. A 404 yields an empty map so callers
// can tell "absent" apart from a failure.
func (s *Session) GetItem(ctx context.Context, rawURL string, opts ...Option) (map[string]any, error) {
	opts = append([]Option{WithHeaders(map[string]string{
		"Accept-Encoding": "gzip",
		"Content-Type":    "application/json",
	})}, opts...)
	opts = append(opts, WithCannotRaise())

	resp, err := s.Get(ctx, rawURL, opts...)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		return map[string]any{}, nil
	}
	if isErr, msg := Classify(resp); isErr {
		return nil, &GraphError{
			StatusCode: resp.StatusCode,
			Class:      classifyStatus(resp.StatusCode),
			Method:     http.MethodGet,
			URL:        resp.URL,
			Message:    msg,
			Body:       resp.Body,
		}
	}
	item := map[string]any{}
	if len(resp.Body) == 0 {
		return item, nil
	}
	if err := resp.Decode(&item); err != nil {
		return nil, err
	}
	return item, nil
}

// GetNextItem returns a lazy cursor over every element of a paginated
// collection. Pages are fetched with forced-direct GETs as the cursor advances.
func (s *Session) GetNextItem(rawURL string, params url.Values, opts ...Option) *pagination.Cursor {
	var base RequestSpec
	for _, opt := range opts {
		opt(&base)
	}
	if len(base.Params) > 0 {
		// params given as options belong to the first page only
		merged := make(url.Values, len(base.Params)+len(params))
		for k, v := range base.Params {
			merged[k] = append([]string(nil), v...)
		}
		for k, v := range params {
			merged[k] = append([]string(nil), v...)
		}
		params = merged
	}
	fetcher := &pageFetcher{session: s, opts: opts}
	return pagination.New(fetcher, rawURL, params).
		WithLogger(s.logger.With().Str("component", "graph-pagination").Logger())
}

// GetAllItems materializes GetNextItem.
func (s *Session) GetAllItems(ctx context.Context, rawURL string, params url.Values, opts ...Option) ([]json.RawMessage, error) {
	return s.GetNextItem(rawURL, params, opts...).Collect(ctx)
}

// FetchPage implements pagination.PageFetcher.
func (s *Session) FetchPage(ctx context.Context, rawURL string, params url.Values) (*pagination.Page, error) {
	return (&pageFetcher{session: s}).FetchPage(ctx, rawURL, params)
}

type pageFetcher struct {
	session *Session
	opts    []Option
}

func (f *pageFetcher) FetchPage(ctx context.Context, rawURL string, params url.Values) (*pagination.Page, error) {
	// next links carry their own query; params is nil for them
	opts := append(append([]Option(nil), f.opts...), WithParams(params))
	resp, err := f.session.Get(ctx, rawURL, opts...)
	if err != nil {
		return nil, err
	}
	return pagination.ParsePage(resp.Body)
}

// StartBatchMode switches to batching with the given threshold. Anything
// still buffered from an earlier batch is discarded.
func (s *Session) StartBatchMode(size int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches.Start(size)
}

// Flush sends the buffer as one $batch call and stays in batch mode.
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches.Flush(ctx)
}

// Close flushes the buffer and returns to direct mode. The session is
// direct afterwards even if the flush fails.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches.Close(ctx)
}

// Shutdown closes the session and reports lost work as ErrPendingRequests.
func (s *Session) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.batches.Len()
	if err := s.batches.Close(ctx); err != nil {
		return fmt.Errorf("%w (%d buffered): %w", ErrPendingRequests, pending, err)
	}
	return nil
}

// SendBatch implements batch.Sender: one POST to <root>/$batch.
func (s *Session) SendBatch(ctx context.Context, env batch.Envelope) (*batch.Result, error) {
	start := time.Now()
	resp, err := s.direct(ctx, RequestSpec{
		Method: http.MethodPost,
		URL:    s.apiRoot + "/$batch",
		JSON:   env,
	})
	if err != nil {
		return nil, err
	}

	var result batch.Result
	if err := resp.Decode(&result); err != nil {
		return nil, err
	}
	s.logger.Debug().
		Int("requests", len(env.Requests)).
		Int("responses", len(result.Responses)).
		Dur("duration", time.Since(start)).
		Msg("Batch sent")
	return &result, nil
}

// toBatchRequest converts a spec into a buffered batch entry. Raw bodies that
// are not JSON travel base64-encoded under their own Content-Type, which
// defaults to application/octet-stream.
func toBatchRequest(spec RequestSpec) (batch.Request, error) {
	target, err := spec.fullURL()
	if err != nil {
		return batch.Request{}, err
	}
	req := batch.Request{
		Method:  spec.Method,
		URL:     target,
		Headers: spec.Headers,
	}

	body, isJSON, err := spec.encodeBody()
	if err != nil {
		return batch.Request{}, err
	}
	if len(body) == 0 {
		return req, nil
	}
	contentType := "application/json"
	if !isJSON && !json.Valid(body) {
		if body, err = json.Marshal(base64.StdEncoding.EncodeToString(body)); err != nil {
			return batch.Request{}, fmt.Errorf("marshal raw body: %w", err)
		}
		contentType = "application/octet-stream"
	}
	req.Body = body
	if _, ok := req.Headers["Content-Type"]; !ok {
		if req.Headers == nil {
			req.Headers = make(map[string]string, 1)
		}
		req.Headers["Content-Type"] = contentType
	}
	return req, nil
}

var (
	_ batch.Sender           = (*Session)(nil)
	_ pagination.PageFetcher = (*Session)(nil)
)
