package mainthread

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is the lifecycle of a queued execution.
type State int32

const (
	StateQueued State = iota
	StateExecuting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Future observes the outcome of one submitted Func. It resolves exactly once.
type Future struct {
	once  sync.Once
	done  chan struct{}
	state atomic.Int32
	val   any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(v any, err error) {
	f.once.Do(func() {
		f.val, f.err = v, err
		if err != nil {
			f.state.Store(int32(StateFailed))
		} else {
			f.state.Store(int32(StateCompleted))
		}
		close(f.done)
	})
}

// Done is closed once the Func has finished.
func (f *Future) Done() <-chan struct{} { return f.done }

// State reports where the Func is in its lifecycle.
func (f *Future) State() State {
	return State(f.state.Load())
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (f *Future) Result() (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
		return nil, nil
	}
}

// Wait blocks until the Func finishes or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
