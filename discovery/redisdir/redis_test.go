package redisdir

import (
	"context"
	"testing"

	"github.com/ggoodman/unity-mcp-bridge/discovery"
	"github.com/ggoodman/unity-mcp-bridge/discovery/directorytest"
	"github.com/redis/go-redis/v9"
)

func TestRedisDirectory(t *testing.T) {
	// Skip if Redis is not available
	testClient := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
	})
	if err := testClient.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	testClient.Close()

	directorytest.RunDirectoryTests(t, func(t *testing.T) discovery.Directory {
		client := redis.NewClient(&redis.Options{
			Addr: "localhost:6379",
		})
		t.Cleanup(func() { _ = client.Close() })
		return New(Config{
			Client:    client,
			KeyPrefix: "test:unity-mcp:editors:",
		})
	})
}
