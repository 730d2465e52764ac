package client

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/o365-graph-client/pkg/auth"
	"github.com/Sternrassler/o365-graph-client/pkg/ratelimit"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Transport sends one logical request and returns the final non-throttled
// response. Implementations absorb 429s; they do not apply the error policy.
type Transport interface {
	Do(ctx context.Context, spec RequestSpec) (*Response, error)
}

// Cooldown is a throttle deadline shared between sessions.
type Cooldown interface {
	ratelimit.Limiter
	RecordThrottle(ctx context.Context, retryAfter time.Duration) error
}

// HTTPTransport is the Transport used by sessions built with New.
type HTTPTransport struct {
	httpClient *http.Client
	tokens     auth.TokenSupplier
	policy     ThrottlePolicy
	limiter    ratelimit.Limiter
	cooldown   Cooldown
	userAgent  string
	logger     zerolog.Logger
	sleep      sleepFunc
}

// NewHTTPTransport creates a transport from the session config.
func NewHTTPTransport(cfg Config, logger zerolog.Logger) *HTTPTransport {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPTransport{
		httpClient: httpClient,
		tokens:     cfg.Tokens,
		policy:     cfg.Throttle,
		limiter:    cfg.Limiter,
		cooldown:   cfg.Cooldown,
		userAgent:  cfg.UserAgent,
		logger:     logger.With().Str("component", "graph-transport").Logger(),
		sleep:      sleepContext,
	}
}

// Do sends spec, resending the identical request after every 429 until a
// different status arrives, the policy gives up, or ctx is done.
func (t *HTTPTransport) Do(ctx context.Context, spec RequestSpec) (*Response, error) {
	target, err := spec.fullURL()
	if err != nil {
		return nil, err
	}
	body, isJSON, err := spec.encodeBody()
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()

	for attempt := 1; ; attempt++ {
		if err := t.waitTurn(ctx); err != nil {
			return nil, err
		}

		resp, err := t.send(ctx, spec.Method, target, body, isJSON, spec.Headers, requestID)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			if attempt > 1 {
				t.logger.Info().
					Str("url", target).
					Int("attempt", attempt).
					Msg("Request succeeded after throttling")
			}
			return resp, nil
		}

		delay := t.policy.Delay(resp.Header)
		if t.cooldown != nil {
			if err := t.cooldown.RecordThrottle(ctx, delay); err != nil {
				t.logger.Warn().Err(err).Msg("Failed to record shared throttle cooldown")
			}
		}

		if t.policy.exhausted(attempt) {
			graphThrottleExhaustedTotal.Inc()
			t.logger.Error().
				Str("method", spec.Method).
				Str("url", target).
				Int("attempts", attempt).
				Msg("Throttle attempts exhausted")
			return nil, fmt.Errorf("%w after %d attempts: %s %s", ErrThrottleExhausted, attempt, spec.Method, target)
		}

		graphThrottleRetriesTotal.Inc()
		graphThrottleSleepSeconds.Observe(delay.Seconds())
		t.logger.Warn().
			Str("method", spec.Method).
			Str("url", target).
			Int("attempt", attempt).
			Dur("retry_after", delay).
			Msg("Throttled, sleeping before resend")

		if err := t.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// waitTurn blocks on the pacer and the shared cooldown. A broken cooldown
// store is logged and ignored.
func (t *HTTPTransport) waitTurn(ctx context.Context) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
			}
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
	if t.cooldown != nil {
		if err := t.cooldown.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
			}
			t.logger.Warn().Err(err).Msg("Shared throttle cooldown unavailable")
		}
	}
	return nil
}

func (t *HTTPTransport) send(ctx context.Context, method, target string, body []byte, isJSON bool, headers map[string]string, requestID string) (*Response, error) {
	var reader io.Reader = http.NoBody
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	token, err := t.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("client-request-id", requestID)
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	if isJSON {
		req.Header.Set("Content-Type", "application/json")
	}
	// an empty caller value removes a default header
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}

	t.logger.Debug().
		Str("method", method).
		Str("url", target).
		Str("request_id", requestID).
		Msg("Sending Graph request")

	start := time.Now()
	httpResp, err := t.httpClient.Do(req)
	graphRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		}
		graphErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		graphRequestsTotal.WithLabelValues(method, "network_error").Inc()
		t.logger.Error().Err(err).Str("url", target).Msg("HTTP request failed")
		return nil, &GraphError{
			Class:   ErrorClassNetwork,
			Method:  method,
			URL:     target,
			Message: "Error while accessing " + target,
			Err:     err,
		}
	}
	defer httpResp.Body.Close()

	data, err := readBody(httpResp)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", target, err)
	}
	graphRequestsTotal.WithLabelValues(method, strconv.Itoa(httpResp.StatusCode)).Inc()

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		URL:        target,
	}, nil
}

// readBody reads the whole body, inflating it when the caller asked for gzip
// explicitly and net/http therefore left it compressed.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	if !resp.Uncompressed && strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(r)
}
