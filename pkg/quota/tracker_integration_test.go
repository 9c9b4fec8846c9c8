//go:build integration

package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
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

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestTracker_Integration_ConcurrentReserve(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	const limit = 25

	// two trackers for the same key model two processes sharing one budget
	a := NewTracker(redisClient, "shared", Config{DailyLimit: limit, Window: time.Minute}, zerolog.Nop())
	b := NewTracker(redisClient, "shared", Config{DailyLimit: limit, Window: time.Minute}, zerolog.Nop())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 40; i++ {
		tr := a
		if i%2 == 1 {
			tr = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := tr.Reserve(ctx)
			if err != nil {
				t.Errorf("Reserve() error = %v", err)
				return
			}
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Errorf("allowed = %d, want exactly %d", allowed, limit)
	}
}

func TestTracker_Integration_WindowExpiry(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	tr := NewTracker(redisClient, "short", Config{DailyLimit: 1, Window: 500 * time.Millisecond}, zerolog.Nop())

	if ok, _ := tr.Reserve(ctx); !ok {
		t.Fatal("first request blocked")
	}
	if ok, _ := tr.Reserve(ctx); ok {
		t.Fatal("second request should be blocked")
	}
	if err := tr.MarkExhausted(ctx); err != nil {
		t.Fatalf("MarkExhausted() error = %v", err)
	}

	time.Sleep(time.Second)

	ok, err := tr.Reserve(ctx)
	if err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if !ok {
		t.Error("budget should be available again after the window")
	}
}
