package cache

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/ghuser/entitlements/pkg/config"
)

func newTestConfig(url string) *config.Config {
	return &config.Config{RedisURL: url, ServiceName: "entitlements-test"}
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), newTestConfig("not-a-valid-url"))
	if err == nil {
		t.Fatal("expected error for invalid URL, got nil")
	}
}

func TestNewRedisClient_UnreachableHost(t *testing.T) {
	_, err := NewRedisClient(context.Background(), newTestConfig("redis://localhost:19999"))
	if err == nil {
		t.Fatal("expected error when Redis is unreachable, got nil")
	}
}

func TestClose_ZeroClient(t *testing.T) {
	var rc RedisClient
	if err := rc.Close(); err != nil {
		t.Fatalf("Close on zero client: %v", err)
	}
}

func TestWrap(t *testing.T) {
	c := redis.NewClient(&redis.Options{Addr: "localhost:19999"})
	rc := Wrap(c)
	defer rc.Close() //nolint:errcheck

	if rc.Client() != c {
		t.Fatal("Wrap did not keep the given client")
	}
}

// Integration tests: skipped unless REDIS_URL is set.
func TestRedisIntegration(t *testing.T) {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		t.Skip("REDIS_URL not set; skipping integration tests")
	}
	ctx := context.Background()

	rc, err := NewRedisClient(ctx, newTestConfig(redisURL))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close() //nolint:errcheck

	t.Run("Ping", func(t *testing.T) {
		if err := rc.Ping(ctx); err != nil {
			t.Fatalf("Ping failed: %v", err)
		}
	})

	t.Run("ClientName", func(t *testing.T) {
		name, err := rc.Client().ClientGetName(ctx).Result()
		if err != nil {
			t.Fatalf("CLIENT GETNAME: %v", err)
		}
		if name != "entitlements-test" {
			t.Fatalf("client name = %q", name)
		}
	})

	t.Run("PoolStats", func(t *testing.T) {
		if rc.PoolStats() == nil {
			t.Fatal("expected pool stats")
		}
	})
}
