// Package memorydir is an in-process discovery.Directory, suitable for tests
// and for a front-end embedded in the same process as the editor.
package memorydir

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ggoodman/unity-mcp-bridge/discovery"
)

var _ discovery.Directory = (*Directory)(nil)

type record struct {
	inst    discovery.Instance
	expires time.Time
}

// Directory keeps announcements in a map guarded by a mutex. Expired entries
// are dropped lazily on read.
type Directory struct {
	mu      sync.Mutex
	entries map[string]record
	now     func() time.Time
}

// New creates an empty Directory.
func New() *Directory {
	return &Directory{entries: make(map[string]record), now: time.Now}
}

func (d *Directory) Announce(ctx context.Context, inst discovery.Instance, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = discovery.DefaultTTL
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[inst.Name] = record{inst: inst, expires: d.now().Add(ttl)}
	return nil
}

func (d *Directory) Withdraw(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, name)
	return nil
}

func (d *Directory) Lookup(ctx context.Context, name string) (discovery.Instance, error) {
	if err := ctx.Err(); err != nil {
		return discovery.Instance{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	rec, ok := d.entries[name]
	if !ok {
		return discovery.Instance{}, discovery.ErrNotFound
	}
	if !d.now().Before(rec.expires) {
		delete(d.entries, name)
		return discovery.Instance{}, discovery.ErrNotFound
	}
	return rec.inst, nil
}

func (d *Directory) List(ctx context.Context) ([]discovery.Instance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	out := make([]discovery.Instance, 0, len(d.entries))
	for name, rec := range d.entries {
		if !now.Before(rec.expires) {
			delete(d.entries, name)
			continue
		}
		out = append(out, rec.inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
