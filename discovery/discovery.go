// Package discovery lets running editors advertise their bridge endpoint so
// that MCP front-ends can find them by name instead of a hard-coded port.
//
// Entries carry a TTL; an editor that stops refreshing its entry disappears
// from the directory on its own.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultTTL is how long an announcement stays visible without a refresh.
const DefaultTTL = 15 * time.Second

// ErrNotFound is returned by Lookup when no live entry has the given name.
var ErrNotFound = errors.New("discovery: instance not found")

// Instance describes one running editor bridge.
type Instance struct {
	Name      string    `json:"name"`
	Addr      string    `json:"addr"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// URL is the websocket endpoint of the instance.
func (i Instance) URL() string { return "ws://" + i.Addr }

// Directory stores instance announcements.
type Directory interface {
	// Announce creates or replaces the entry for inst.Name, visible for ttl.
	Announce(ctx context.Context, inst Instance, ttl time.Duration) error
	// Withdraw removes the entry for name. Removing a missing entry is not an
	// error.
	Withdraw(ctx context.Context, name string) error
	// Lookup returns the live entry for name or ErrNotFound.
	Lookup(ctx context.Context, name string) (Instance, error)
	// List returns every live entry ordered by name.
	List(ctx context.Context) ([]Instance, error)
}

// minRefresh bounds how often Heartbeat re-announces.
const minRefresh = 10 * time.Millisecond

// Heartbeat announces inst immediately and refreshes it every ttl/2, but no
// more often than minRefresh, until ctx is done, then withdraws it. The first
// announcement error is returned synchronously; later refresh failures are
// logged and retried on the next tick.
func Heartbeat(ctx context.Context, dir Directory, inst Instance, ttl time.Duration, log *slog.Logger) (stop func(), err error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	if err := dir.Announce(ctx, inst, ttl); err != nil {
		return nil, fmt.Errorf("discovery: announce %s: %w", inst.Name, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(max(ttl/2, minRefresh))
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				wctx, wcancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
				if err := dir.Withdraw(wctx, inst.Name); err != nil {
					log.Warn("discovery.withdraw.fail", slog.String("name", inst.Name), slog.String("err", err.Error()))
				}
				wcancel()
				return
			case <-t.C:
				if err := dir.Announce(ctx, inst, ttl); err != nil && ctx.Err() == nil {
					log.Warn("discovery.refresh.fail", slog.String("name", inst.Name), slog.String("err", err.Error()))
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

// Resolver returns a function that looks up name in dir and yields its URL.
func Resolver(dir Directory, name string) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		inst, err := dir.Lookup(ctx, name)
		if err != nil {
			return "", err
		}
		return inst.URL(), nil
	}
}
