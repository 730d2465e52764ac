package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPacer_BurstThenPace(t *testing.T) {
	pacer := NewPacer(20, 2)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := pacer.Wait(ctx); err != nil {
			t.Fatalf("Wait() error = %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 20*time.Millisecond {
		t.Errorf("burst took %v, want immediate", elapsed)
	}

	start = time.Now()
	if err := pacer.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("third call waited %v, want ~50ms", elapsed)
	}
}

func TestPacer_ContextCancelled(t *testing.T) {
	pacer := NewPacer(0.5, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := pacer.Wait(ctx); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}
	if err := pacer.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Wait() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestNewPacer_Defaults(t *testing.T) {
	pacer := NewPacer(-1, 0)
	if pacer.limiter.Limit() != 1 {
		t.Errorf("Limit() = %v, want 1", pacer.limiter.Limit())
	}
	if pacer.limiter.Burst() != 1 {
		t.Errorf("Burst() = %d, want 1", pacer.limiter.Burst())
	}
}
