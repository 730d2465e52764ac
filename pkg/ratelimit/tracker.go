package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for shared throttle tracking.
var (
	throttleCooldownSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "graph_throttle_cooldown_seconds",
		Help: "Length of the most recently recorded shared throttle cooldown",
	})

	throttleEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graph_throttle_events_total",
		Help: "Total throttle events recorded in the shared tracker",
	})

	throttleWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graph_throttle_shared_waits_total",
		Help: "Total requests delayed by a cooldown recorded by another session",
	})
)

// Tracker records throttle cooldowns in Redis and makes sessions wait them out.
type Tracker struct {
	redis     *redis.Client
	namespace string
	logger    zerolog.Logger
	now       func() time.Time
}

// NewTracker creates a tracker for namespace (typically the tenant id).
func NewTracker(redisClient *redis.Client, namespace string, logger zerolog.Logger) *Tracker {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if namespace == "" {
		namespace = "default"
	}
	return &Tracker{
		redis:     redisClient,
		namespace: namespace,
		logger:    logger.With().Str("component", "graph-throttle").Str("namespace", namespace).Logger(),
		now:       time.Now,
	}
}

func (t *Tracker) key(suffix string) string {
	return strings.Join([]string{RedisKeyPrefix, t.namespace, suffix}, ":")
}

// GetState reads the shared state. Missing keys yield a zero state.
func (t *Tracker) GetState(ctx context.Context) (*ThrottleState, error) {
	untilMillis, err := t.redis.Get(ctx, t.key(redisSuffixUntil)).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get throttle deadline: %w", err)
	}

	events, err := t.redis.Get(ctx, t.key(redisSuffixEventCount)).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get throttle events: %w", err)
	}

	state := &ThrottleState{Events: events}
	if untilMillis > 0 {
		state.Until = time.UnixMilli(untilMillis)
	}
	return state, nil
}

// RecordThrottle stores a cooldown of retryAfter starting now. A longer
// cooldown already on record is kept.
func (t *Tracker) RecordThrottle(ctx context.Context, retryAfter time.Duration) error {
	if retryAfter <= 0 {
		return nil
	}

	until := t.now().Add(retryAfter)

	current, err := t.GetState(ctx)
	if err != nil {
		return err
	}

	pipe := t.redis.TxPipeline()
	pipe.Incr(ctx, t.key(redisSuffixEventCount))
	if !current.Until.After(until) {
		pipe.Set(ctx, t.key(redisSuffixUntil), until.UnixMilli(), retryAfter)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store throttle state in redis: %w", err)
	}

	throttleEventsTotal.Inc()
	throttleCooldownSeconds.Set(retryAfter.Seconds())

	t.logger.Warn().
		Dur("retry_after", retryAfter).
		Time("until", until).
		Msg("Graph throttle recorded")
	return nil
}

// Wait blocks until any shared cooldown has passed or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	state, err := t.GetState(ctx)
	if err != nil {
		return fmt.Errorf("get throttle state: %w", err)
	}

	wait := state.CooldownRemaining(t.now())
	if wait <= 0 {
		return nil
	}

	throttleWaitsTotal.Inc()
	t.logger.Info().
		Dur("wait", wait).
		Int64("events", state.Events).
		Msg("Waiting for shared throttle cooldown")

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("throttle wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Reset clears the shared state for the namespace.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.redis.Del(ctx, t.key(redisSuffixUntil), t.key(redisSuffixEventCount)).Err(); err != nil {
		return fmt.Errorf("reset throttle state: %w", err)
	}
	return nil
}

var _ Limiter = (*Tracker)(nil)
