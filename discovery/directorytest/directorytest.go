// Package directorytest is a conformance suite for discovery.Directory
// implementations.
package directorytest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ggoodman/unity-mcp-bridge/discovery"
)

// DirectoryFactory creates a fresh, empty directory for one subtest.
type DirectoryFactory func(t *testing.T) discovery.Directory

// RunDirectoryTests runs the complete directory test suite against the
// provided factory.
func RunDirectoryTests(t *testing.T, factory DirectoryFactory) {
	t.Run("AnnounceAndLookup", func(t *testing.T) {
		testAnnounceAndLookup(t, factory)
	})
	t.Run("AnnounceReplaces", func(t *testing.T) {
		testAnnounceReplaces(t, factory)
	})
	t.Run("Withdraw", func(t *testing.T) {
		testWithdraw(t, factory)
	})
	t.Run("ListSorted", func(t *testing.T) {
		testListSorted(t, factory)
	})
	t.Run("Expiry", func(t *testing.T) {
		testExpiry(t, factory)
	})
	t.Run("Heartbeat", func(t *testing.T) {
		testHeartbeat(t, factory)
	})
}

func uniqueName(t *testing.T, base string) string {
	t.Helper()
	return fmt.Sprintf("%s-%d", base, time.Now().UnixNano())
}

func testAnnounceAndLookup(t *testing.T, factory DirectoryFactory) {
	d := factory(t)
	ctx := context.Background()

	name := uniqueName(t, "editor")
	want := discovery.Instance{Name: name, Addr: "127.0.0.1:8090", PID: 42, StartedAt: time.Now().UTC().Truncate(time.Second)}
	if err := d.Announce(ctx, want, time.Minute); err != nil {
		t.Fatalf("announce: %v", err)
	}

	got, err := d.Lookup(ctx, name)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Name != want.Name || got.Addr != want.Addr || got.PID != want.PID || !got.StartedAt.Equal(want.StartedAt) {
		t.Fatalf("want %+v, got %+v", want, got)
	}

	if _, err := d.Lookup(ctx, name+"-missing"); !errors.Is(err, discovery.ErrNotFound) {
		t.Fatalf("missing entry: want ErrNotFound, got %v", err)
	}
}

func testAnnounceReplaces(t *testing.T, factory DirectoryFactory) {
	d := factory(t)
	ctx := context.Background()

	name := uniqueName(t, "editor")
	_ = d.Announce(ctx, discovery.Instance{Name: name, Addr: "127.0.0.1:1"}, time.Minute)
	if err := d.Announce(ctx, discovery.Instance{Name: name, Addr: "127.0.0.1:2"}, time.Minute); err != nil {
		t.Fatalf("announce: %v", err)
	}
	got, err := d.Lookup(ctx, name)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.Addr != "127.0.0.1:2" {
		t.Fatalf("announcement not replaced: %+v", got)
	}
}

func testWithdraw(t *testing.T, factory DirectoryFactory) {
	d := factory(t)
	ctx := context.Background()

	name := uniqueName(t, "editor")
	_ = d.Announce(ctx, discovery.Instance{Name: name, Addr: "127.0.0.1:1"}, time.Minute)
	if err := d.Withdraw(ctx, name); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := d.Lookup(ctx, name); !errors.Is(err, discovery.ErrNotFound) {
		t.Fatalf("want ErrNotFound after withdraw, got %v", err)
	}
	if err := d.Withdraw(ctx, name); err != nil {
		t.Fatalf("second withdraw: %v", err)
	}
}

func testListSorted(t *testing.T, factory DirectoryFactory) {
	d := factory(t)
	ctx := context.Background()

	base := uniqueName(t, "list")
	for _, suffix := range []string{"c", "a", "b"} {
		if err := d.Announce(ctx, discovery.Instance{Name: base + "-" + suffix, Addr: "127.0.0.1:1"}, time.Minute); err != nil {
			t.Fatalf("announce: %v", err)
		}
	}

	all, err := d.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var ours []string
	for _, inst := range all {
		if len(inst.Name) > len(base) && inst.Name[:len(base)] == base {
			ours = append(ours, inst.Name)
		}
	}
	want := []string{base + "-a", base + "-b", base + "-c"}
	if fmt.Sprint(ours) != fmt.Sprint(want) {
		t.Fatalf("want %v, got %v", want, ours)
	}
}

func testExpiry(t *testing.T, factory DirectoryFactory) {
	d := factory(t)
	ctx := context.Background()

	name := uniqueName(t, "expiring")
	if err := d.Announce(ctx, discovery.Instance{Name: name, Addr: "127.0.0.1:1"}, 100*time.Millisecond); err != nil {
		t.Fatalf("announce: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := d.Lookup(ctx, name); errors.Is(err, discovery.ErrNotFound) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("entry did not expire")
}

func testHeartbeat(t *testing.T, factory DirectoryFactory) {
	d := factory(t)
	ctx := context.Background()

	name := uniqueName(t, "beating")
	stop, err := discovery.Heartbeat(ctx, d, discovery.Instance{Name: name, Addr: "127.0.0.1:1"}, 200*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	// Outlive several TTLs; refreshes must keep the entry visible.
	time.Sleep(600 * time.Millisecond)
	if _, err := d.Lookup(ctx, name); err != nil {
		t.Fatalf("entry lost while heartbeat running: %v", err)
	}

	stop()
	if _, err := d.Lookup(ctx, name); !errors.Is(err, discovery.ErrNotFound) {
		t.Fatalf("want ErrNotFound after stop, got %v", err)
	}
}
