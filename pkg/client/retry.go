package client

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for throttle handling.
var (
	graphThrottleRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graph_throttle_retries_total",
		Help: "Total number of requests resent after a 429 response",
	})

	graphThrottleSleepSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graph_throttle_sleep_seconds",
		Help:    "Time slept before resending a throttled request",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})

	graphThrottleExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graph_throttle_exhausted_total",
		Help: "Total number of requests abandoned after exhausting throttle attempts",
	})
)

// DefaultRetryAfter is used when a 429 carries no usable Retry-After header.
const DefaultRetryAfter = 30 * time.Second

// ThrottlePolicy controls how 429 responses are absorbed.
type ThrottlePolicy struct {
	// DefaultDelay is slept when Retry-After is absent or unparsable.
	DefaultDelay time.Duration

	// MaxDelay caps a single sleep. Zero means no cap.
	MaxDelay time.Duration

	// MaxAttempts bounds the number of sends for one request. Zero retries forever.
	MaxAttempts int
}

// DefaultThrottlePolicy returns the default policy: honor Retry-After, 30s
// fallback, never give up.
func DefaultThrottlePolicy() ThrottlePolicy {
	return ThrottlePolicy{
		DefaultDelay: DefaultRetryAfter,
	}
}

// Delay returns how long to wait before resending after a 429 with header h.
func (p ThrottlePolicy) Delay(h http.Header) time.Duration {
	d, ok := parseRetryAfter(h.Get("Retry-After"))
	if !ok {
		d = p.DefaultDelay
		if d <= 0 {
			d = DefaultRetryAfter
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// exhausted reports whether attempt sends are all the policy allows.
func (p ThrottlePolicy) exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt >= p.MaxAttempts
}

// parseRetryAfter reads a whole-seconds Retry-After value.
func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// sleepFunc waits for d or until ctx is done.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}
