// Package ratelimit shares Graph throttling state between sessions and paces
// outbound requests.
//
// Graph throttles per tenant and application, so a 429 seen by one process is a
// signal for every other process talking to the same tenant. The Tracker stores
// the cooldown deadline in Redis; sessions configured with the same namespace
// wait it out before sending. The Pacer is a local token bucket that keeps a
// session under a chosen request rate.
package ratelimit

import (
	"context"
	"time"
)

// Redis key layout. The namespace usually identifies the tenant.
const (
	RedisKeyPrefix        = "graph:throttle"
	redisSuffixUntil      = "until"
	redisSuffixEventCount = "events"
)

// Limiter gates outbound calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// ThrottleState is the shared throttling state for one namespace.
type ThrottleState struct {
	// Until is the end of the current cooldown; zero when none was recorded.
	Until time.Time `json:"until"`

	// Events counts 429 responses recorded for the namespace.
	Events int64 `json:"events"`
}

// Active reports whether the cooldown is still running at now.
func (s *ThrottleState) Active(now time.Time) bool {
	return !s.Until.IsZero() && now.Before(s.Until)
}

// CooldownRemaining returns how long callers should still wait at now.
// Returns 0 if no cooldown is active.
func (s *ThrottleState) CooldownRemaining(now time.Time) time.Duration {
	if !s.Active(now) {
		return 0
	}
	return s.Until.Sub(now)
}
