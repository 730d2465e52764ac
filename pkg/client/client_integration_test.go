//go:build integration

package client

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/Sternrassler/o365-graph-client/internal/testutil"
	"github.com/Sternrassler/o365-graph-client/pkg/auth"
	"github.com/Sternrassler/o365-graph-client/pkg/ratelimit"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedisContainer creates a Redis container for integration testing.
func setupRedisContainer(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisContainer.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestIntegration_SharedThrottleCooldown(t *testing.T) {
	redisClient, cleanup := setupRedisContainer(t)
	defer cleanup()

	mock := testutil.NewMockGraph()
	defer mock.Close()
	mock.QueueResponses("/me",
		testutil.NewThrottleResponse(2),
		testutil.NewJSONResponse(`{"id":"me"}`),
	)
	mock.SetResponse("/users", testutil.NewJSONResponse(`{"value":[]}`))

	logger := zerolog.Nop()
	newSession := func() *Session {
		cfg := DefaultConfig(auth.StaticToken("integration"))
		cfg.APIRoot = mock.APIRoot()
		cfg.Logger = &logger
		cfg.Cooldown = ratelimit.NewTracker(redisClient, "tenant-int", logger)
		session, err := New(cfg)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		return session
	}
	first, second := newSession(), newSession()
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := first.Get(ctx, first.URL("me"))
		done <- err
	}()

	// wait until the 429 has been recorded
	deadline := time.Now().Add(5 * time.Second)
	for mock.RequestCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	resp, err := second.Get(ctx, second.URL("users"))
	if err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("second session waited %v, want it to honor the shared cooldown", elapsed)
	}

	if err := <-done; err != nil {
		t.Fatalf("first Get() error = %v", err)
	}
}

func TestIntegration_BatchRoundTrip(t *testing.T) {
	mock := testutil.NewMockGraph()
	defer mock.Close()

	logger := zerolog.Nop()
	cfg := DefaultConfig(auth.StaticToken("integration"))
	cfg.APIRoot = mock.APIRoot()
	cfg.Logger = &logger
	cfg.Limiter = ratelimit.NewPacer(50, 5)

	session, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	if err := session.StartBatchMode(20); err != nil {
		t.Fatalf("StartBatchMode() error = %v", err)
	}
	for i := 0; i < 45; i++ {
		if _, err := session.Request(ctx, RequestSpec{Method: http.MethodDelete, URL: session.URL("sites", "s", "lists", "l", "items", "1")}); err != nil {
			t.Fatalf("Request() error = %v", err)
		}
	}
	if err := session.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	envs := mock.Envelopes()
	if len(envs) != 3 {
		t.Fatalf("envelopes = %d, want 3", len(envs))
	}
	if len(envs[2].Requests) != 5 {
		t.Errorf("last envelope = %d requests, want 5", len(envs[2].Requests))
	}
}
