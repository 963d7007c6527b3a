// Package testlog routes slog output to testing.TB.Log.
package testlog

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
)

// Bridge is an implementation of slog.Handler that works
// with the stdlib testing pkg.
type Bridge struct {
	slog.Handler
	t     testing.TB
	buf   *bytes.Buffer
	mu    *sync.Mutex
	ended *bool
}

// Handle implements slog.Handler.
func (b *Bridge) Handle(ctx context.Context, rec slog.Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.Handler.Handle(ctx, rec)
	if err != nil {
		return err
	}

	output, err := io.ReadAll(b.buf)
	if err != nil {
		return err
	}

	// Goroutines may outlive the test; t.Log panics once it has completed.
	if *b.ended {
		return nil
	}

	output = bytes.TrimSuffix(output, []byte("\n"))
	b.t.Helper()
	b.t.Log(string(output))

	return nil
}

// WithAttrs implements slog.Handler.
func (b *Bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Bridge{
		t:       b.t,
		buf:     b.buf,
		mu:      b.mu,
		ended:   b.ended,
		Handler: b.Handler.WithAttrs(attrs),
	}
}

// WithGroup implements slog.Handler.
func (b *Bridge) WithGroup(name string) slog.Handler {
	return &Bridge{
		t:       b.t,
		buf:     b.buf,
		mu:      b.mu,
		ended:   b.ended,
		Handler: b.Handler.WithGroup(name),
	}
}

// Handler returns a debug-level text handler that writes through t.Log until
// the test's cleanup phase finishes.
func Handler(t testing.TB) *Bridge {
	b := &Bridge{
		t:     t,
		buf:   &bytes.Buffer{},
		mu:    &sync.Mutex{},
		ended: new(bool),
	}
	b.Handler = slog.NewTextHandler(b.buf, &slog.HandlerOptions{Level: slog.LevelDebug})

	t.Cleanup(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		*b.ended = true
	})
	return b
}

// Logger is slog.New(Handler(t)).
func Logger(t testing.TB) *slog.Logger {
	return slog.New(Handler(t))
}
