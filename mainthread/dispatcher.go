// Package mainthread runs work on a single host-owned execution context.
//
// Editor operations must run on the host's main loop. Producers on any
// goroutine enqueue closures with Submit or Invoke; the host drains the queue
// by calling Pump from its own loop. Pump is the only consumer, so queued work
// never runs concurrently with itself.
package mainthread

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"
)

// DefaultTimeout bounds Invoke when no explicit timeout is given.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is returned by Invoke when the host did not finish the work in
// time. The work may still run later; its result is discarded.
var ErrTimeout = errors.New("mainthread: timed out waiting for host")

// BusyError is returned when the host reports that it cannot accept work.
type BusyError struct {
	Reason string
}

func (e *BusyError) Error() string {
	if e.Reason == "" {
		return "mainthread: host is busy"
	}
	return e.Reason
}

// PanicError carries a panic recovered while running queued work.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Func is a unit of host work.
type Func func(ctx context.Context) (any, error)

type hostKey struct{}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBusyCheck installs a readiness check consulted before enqueueing. When
// it reports busy, Submit fails with *BusyError and nothing is queued.
func WithBusyCheck(fn func() (busy bool, reason string)) Option {
	return func(d *Dispatcher) { d.busy = fn }
}

// WithLogger sets the logger used for recovered panics.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithDefaultTimeout sets the Invoke timeout used when none is given.
func WithDefaultTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// Dispatcher is a FIFO queue of host work plus the futures that observe it.
type Dispatcher struct {
	log     *slog.Logger
	busy    func() (bool, string)
	timeout time.Duration

	mu    sync.Mutex
	queue []*entry
}

// New constructs a Dispatcher.
func New(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		log:     slog.Default(),
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Bind marks ctx as belonging to the host context. Work submitted with a
// bound context runs inline instead of being queued.
func (d *Dispatcher) Bind(ctx context.Context) context.Context {
	return context.WithValue(ctx, hostKey{}, d)
}

// OnHost reports whether ctx was bound to this dispatcher.
func (d *Dispatcher) OnHost(ctx context.Context) bool {
	v, _ := ctx.Value(hostKey{}).(*Dispatcher)
	return v == d
}

// Len returns the number of entries waiting for the next Pump.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Submit queues fn for the host. If ctx is already on the host context, fn
// runs immediately and the returned Future is complete.
func (d *Dispatcher) Submit(ctx context.Context, fn Func) (*Future, error) {
	if fn == nil {
		return nil, errors.New("mainthread: nil func")
	}
	if d.busy != nil {
		if busy, reason := d.busy(); busy {
			return nil, &BusyError{Reason: reason}
		}
	}

	e := &entry{ctx: ctx, fn: fn, fut: newFuture()}
	if d.OnHost(ctx) {
		d.run(ctx, e)
		return e.fut, nil
	}

	d.mu.Lock()
	d.queue = append(d.queue, e)
	d.mu.Unlock()
	return e.fut, nil
}

// Invoke submits fn and waits up to timeout for its result. A timeout of zero
// or less uses the dispatcher default.
func (d *Dispatcher) Invoke(ctx context.Context, timeout time.Duration, fn Func) (any, error) {
	fut, err := d.Submit(ctx, fn)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = d.timeout
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-fut.Done():
		return fut.Result()
	case <-t.C:
		return nil, ErrTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pump runs every entry queued before the call, in order, and returns how
// many ran. Entries queued while pumping wait for the next call. Pump must
// only be called from the host's own loop.
func (d *Dispatcher) Pump(ctx context.Context) int {
	d.mu.Lock()
	batch := d.queue
	d.queue = nil
	d.mu.Unlock()

	if len(batch) == 0 {
		return 0
	}

	for _, e := range batch {
		d.runQueued(ctx, e)
	}
	return len(batch)
}

// runQueued runs e with the submitter's context values, bound to the host and
// cancelled with the pump context. The submitter's own cancellation does not
// reach work that has already been dequeued.
func (d *Dispatcher) runQueued(pctx context.Context, e *entry) {
	ctx, cancel := context.WithCancel(d.Bind(context.WithoutCancel(e.ctx)))
	defer cancel()
	stop := context.AfterFunc(pctx, cancel)
	defer stop()
	if pctx.Err() != nil {
		cancel()
	}

	d.run(ctx, e)
}

// Run binds ctx to the host and pumps every interval until ctx is done. The
// calling goroutine is locked to its OS thread for the duration.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	hctx := d.Bind(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			d.Pump(hctx)
			return
		case <-t.C:
			d.Pump(hctx)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, e *entry) {
	if !e.fut.state.CompareAndSwap(int32(StateQueued), int32(StateExecuting)) {
		return
	}

	var (
		v   any
		err error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				err = &PanicError{Value: p, Stack: debug.Stack()}
				d.log.ErrorContext(ctx, "mainthread.panic", slog.Any("panic", p))
			}
		}()
		v, err = e.fn(ctx)
	}()

	e.fut.resolve(v, err)
}

type entry struct {
	ctx context.Context
	fn  Func
	fut *Future
}
