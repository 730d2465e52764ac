package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var pacerDelaysTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "graph_pacer_waits_total",
	Help: "Total requests that had to wait for a pacer token",
})

// Pacer keeps a session under a fixed request rate.
type Pacer struct {
	limiter *rate.Limiter
}

// NewPacer returns a pacer releasing rps tokens per second with the given burst.
func NewPacer(rps float64, burst int) *Pacer {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Pacer{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Wait blocks until a token is available or the context is canceled.
func (p *Pacer) Wait(ctx context.Context) error {
	r := p.limiter.Reserve()
	if !r.OK() {
		return errors.New("pacer reservation refused")
	}
	delay := r.Delay()
	if delay == 0 {
		return nil
	}
	pacerDelaysTotal.Inc()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.Cancel()
		return fmt.Errorf("pacer wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

var _ Limiter = (*Pacer)(nil)
