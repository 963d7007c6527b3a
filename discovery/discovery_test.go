package discovery_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/unity-mcp-bridge/discovery"
	"github.com/ggoodman/unity-mcp-bridge/discovery/memorydir"
)

func TestHeartbeatTinyTTL(t *testing.T) {
	t.Parallel()

	d := memorydir.New()
	ctx := context.Background()

	stop, err := discovery.Heartbeat(ctx, d, discovery.Instance{Name: "tiny", Addr: "127.0.0.1:1"}, time.Nanosecond, nil)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	time.Sleep(30 * time.Millisecond)
	stop()

	if _, err := d.Lookup(ctx, "tiny"); !errors.Is(err, discovery.ErrNotFound) {
		t.Fatalf("want ErrNotFound after stop, got %v", err)
	}
}

func TestResolverYieldsURL(t *testing.T) {
	t.Parallel()

	d := memorydir.New()
	ctx := context.Background()
	if err := d.Announce(ctx, discovery.Instance{Name: "editor", Addr: "10.0.0.5:8090"}, time.Minute); err != nil {
		t.Fatalf("announce: %v", err)
	}

	resolve := discovery.Resolver(d, "editor")
	u, err := resolve(ctx)
	if err != nil || u != "ws://10.0.0.5:8090" {
		t.Fatalf("resolve = %q, %v", u, err)
	}
	if _, err := discovery.Resolver(d, "missing")(ctx); !errors.Is(err, discovery.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}
