package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// setupTestRedis starts an in-memory Redis for the test.
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewTracker_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewTracker should panic with nil redis client")
		}
	}()
	NewTracker(nil, "tenant", zerolog.Nop())
}

func TestTracker_GetState_Empty(t *testing.T) {
	client, _ := setupTestRedis(t)
	tracker := NewTracker(client, "tenant-a", zerolog.Nop())

	state, err := tracker.GetState(context.Background())
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.Until.IsZero() || state.Events != 0 {
		t.Errorf("empty state = %+v, want zero", state)
	}
}

func TestTracker_RecordThrottle(t *testing.T) {
	client, mr := setupTestRedis(t)
	tracker := NewTracker(client, "tenant-a", zerolog.Nop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }
	ctx := context.Background()

	if err := tracker.RecordThrottle(ctx, 10*time.Second); err != nil {
		t.Fatalf("RecordThrottle() error = %v", err)
	}

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if want := now.Add(10 * time.Second); !state.Until.Equal(want) {
		t.Errorf("Until = %v, want %v", state.Until, want)
	}
	if state.Events != 1 {
		t.Errorf("Events = %d, want 1", state.Events)
	}
	if ttl := mr.TTL("graph:throttle:tenant-a:until"); ttl != 10*time.Second {
		t.Errorf("deadline key TTL = %v, want 10s", ttl)
	}

	// a shorter cooldown must not shorten the recorded one
	if err := tracker.RecordThrottle(ctx, 2*time.Second); err != nil {
		t.Fatalf("RecordThrottle() error = %v", err)
	}
	state, _ = tracker.GetState(ctx)
	if want := now.Add(10 * time.Second); !state.Until.Equal(want) {
		t.Errorf("Until after shorter cooldown = %v, want %v", state.Until, want)
	}
	if state.Events != 2 {
		t.Errorf("Events = %d, want 2", state.Events)
	}

	// a longer one extends it
	if err := tracker.RecordThrottle(ctx, 60*time.Second); err != nil {
		t.Fatalf("RecordThrottle() error = %v", err)
	}
	state, _ = tracker.GetState(ctx)
	if want := now.Add(60 * time.Second); !state.Until.Equal(want) {
		t.Errorf("Until after longer cooldown = %v, want %v", state.Until, want)
	}
}

func TestTracker_RecordThrottle_IgnoresNonPositive(t *testing.T) {
	client, _ := setupTestRedis(t)
	tracker := NewTracker(client, "tenant-a", zerolog.Nop())
	ctx := context.Background()

	if err := tracker.RecordThrottle(ctx, 0); err != nil {
		t.Fatalf("RecordThrottle(0) error = %v", err)
	}
	state, _ := tracker.GetState(ctx)
	if state.Events != 0 {
		t.Errorf("Events = %d, want 0", state.Events)
	}
}

func TestTracker_NamespacesAreIsolated(t *testing.T) {
	client, _ := setupTestRedis(t)
	a := NewTracker(client, "tenant-a", zerolog.Nop())
	b := NewTracker(client, "tenant-b", zerolog.Nop())
	ctx := context.Background()

	if err := a.RecordThrottle(ctx, time.Minute); err != nil {
		t.Fatalf("RecordThrottle() error = %v", err)
	}
	state, err := b.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !state.Until.IsZero() {
		t.Errorf("tenant-b sees tenant-a cooldown: %+v", state)
	}
}

func TestTracker_Wait(t *testing.T) {
	client, _ := setupTestRedis(t)
	tracker := NewTracker(client, "tenant-a", zerolog.Nop())
	ctx := context.Background()

	start := time.Now()
	if err := tracker.Wait(ctx); err != nil {
		t.Fatalf("Wait() without cooldown error = %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("Wait() without cooldown took %v", time.Since(start))
	}

	if err := tracker.RecordThrottle(ctx, 150*time.Millisecond); err != nil {
		t.Fatalf("RecordThrottle() error = %v", err)
	}
	start = time.Now()
	if err := tracker.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("Wait() returned after %v, want ~150ms", elapsed)
	}
}

func TestTracker_Wait_ContextCancelled(t *testing.T) {
	client, _ := setupTestRedis(t)
	tracker := NewTracker(client, "tenant-a", zerolog.Nop())

	if err := tracker.RecordThrottle(context.Background(), time.Hour); err != nil {
		t.Fatalf("RecordThrottle() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := tracker.Wait(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestTracker_Reset(t *testing.T) {
	client, _ := setupTestRedis(t)
	tracker := NewTracker(client, "tenant-a", zerolog.Nop())
	ctx := context.Background()

	if err := tracker.RecordThrottle(ctx, time.Minute); err != nil {
		t.Fatalf("RecordThrottle() error = %v", err)
	}
	if err := tracker.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	state, _ := tracker.GetState(ctx)
	if !state.Until.IsZero() || state.Events != 0 {
		t.Errorf("state after Reset = %+v, want zero", state)
	}
}

func TestTracker_RedisUnavailable(t *testing.T) {
	client, mr := setupTestRedis(t)
	tracker := NewTracker(client, "tenant-a", zerolog.Nop())
	mr.Close()

	if _, err := tracker.GetState(context.Background()); err == nil {
		t.Error("GetState() should fail when Redis is down")
	}
	if err := tracker.Wait(context.Background()); err == nil {
		t.Error("Wait() should fail when Redis is down")
	}
}
