package batch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for batch flushes.
var (
	batchFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_batch_flushes_total",
		Help: "Total $batch flushes by result",
	}, []string{"result"})

	batchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graph_batch_size",
		Help:    "Number of sub-requests per $batch flush",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	})

	batchSubRequestFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graph_batch_subrequest_failures_total",
		Help: "Total failed sub-requests in $batch results by status",
	}, []string{"status"})
)

// ErrInvalidBatchSize is returned when batch mode is started with a size < 1.
var ErrInvalidBatchSize = errors.New("batch size must be >= 1")

// Sender submits one physical $batch call.
type Sender interface {
	SendBatch(ctx context.Context, env Envelope) (*Result, error)
}

// Coordinator buffers requests while batch mode is active and drains them
// through the Sender. It is not safe for concurrent use; the session
// serializes access.
type Coordinator struct {
	sender  Sender
	apiRoot string
	logger  zerolog.Logger

	active  bool
	size    int
	pending []Request
}

// NewCoordinator creates an inactive coordinator.
func NewCoordinator(sender Sender, apiRoot string, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		sender:  sender,
		apiRoot: apiRoot,
		logger:  logger,
	}
}

// Start activates batch mode with the given threshold and clears the buffer.
func (c *Coordinator) Start(size int) error {
	if size < 1 {
		return fmt.Errorf("%w (got %d)", ErrInvalidBatchSize, size)
	}
	if len(c.pending) > 0 {
		c.logger.Warn().
			Int("dropped", len(c.pending)).
			Msg("Batch mode restarted with unflushed requests")
	}
	c.active = true
	c.size = size
	c.pending = nil
	return nil
}

// Active reports whether batch mode is on.
func (c *Coordinator) Active() bool { return c.active }

// Size returns the flush threshold.
func (c *Coordinator) Size() int { return c.size }

// Len returns the number of buffered requests.
func (c *Coordinator) Len() int { return len(c.pending) }

// Enqueue buffers req. When the buffer reaches the threshold it is flushed
// before Enqueue returns.
func (c *Coordinator) Enqueue(ctx context.Context, req Request) error {
	c.pending = append(c.pending, req)
	if len(c.pending) >= c.size {
		return c.Flush(ctx)
	}
	return nil
}

// Flush sends everything buffered as one $batch call. An empty buffer sends
// nothing. The buffer is cleared before sending, so a failed flush loses its
// requests.
func (c *Coordinator) Flush(ctx context.Context) error {
	if len(c.pending) == 0 {
		return nil
	}

	requests := c.pending
	c.pending = nil

	env := BuildEnvelope(c.apiRoot, requests)
	batchSize.Observe(float64(len(env.Requests)))

	start := time.Now()
	c.logger.Debug().
		Int("requests", len(env.Requests)).
		Msg("Flushing batch")

	result, err := c.sender.SendBatch(ctx, env)
	if err != nil {
		batchFlushesTotal.WithLabelValues("error").Inc()
		c.logger.Error().Err(err).Int("requests", len(env.Requests)).Msg("Batch call failed")
		return fmt.Errorf("send batch: %w", err)
	}

	if len(result.Responses) != len(env.Requests) {
		c.logger.Warn().
			Int("requests", len(env.Requests)).
			Int("responses", len(result.Responses)).
			Msg("Batch response count mismatch")
	}

	for _, failed := range result.Failed() {
		batchSubRequestFailuresTotal.WithLabelValues(strconv.Itoa(failed.Status)).Inc()
	}

	if err := result.Validate(); err != nil {
		batchFlushesTotal.WithLabelValues("failed").Inc()
		c.logger.Error().
			Err(err).
			Interface("responses", result.Responses).
			Msg("Error during batch")
		return err
	}

	batchFlushesTotal.WithLabelValues("ok").Inc()
	c.logger.Debug().
		Int("requests", len(env.Requests)).
		Dur("duration", time.Since(start)).
		Msg("Batch flushed")
	return nil
}

// Close flushes the remainder and leaves batch mode, even when the flush fails.
func (c *Coordinator) Close(ctx context.Context) error {
	err := c.Flush(ctx)
	c.active = false
	c.size = 0
	return err
}
