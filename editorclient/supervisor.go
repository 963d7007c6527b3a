package editorclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// Backoff yields the delay before each reconnect attempt.
type Backoff interface {
	Next() time.Duration
	Reset()
}

// LinearBackoff waits Base, 2*Base, 3*Base, ... between attempts.
type LinearBackoff struct {
	Base time.Duration
	n    int
}

func (b *LinearBackoff) Next() time.Duration {
	b.n++
	return b.Base * time.Duration(b.n)
}

func (b *LinearBackoff) Reset() { b.n = 0 }

// Connect dials the editor unless a connection is already live. Concurrent
// callers share a single dial.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.connect(ctx)
	return err
}

// Connected reports whether a connection is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Attempts returns the number of automatic reconnect attempts made since the
// last successful connection.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Close drops the connection, stops reconnecting and rejects pending calls
// with ErrClosed. Further calls fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.conn = nil
	swept := c.pending
	c.pending = make(map[string]*pendingCall)
	c.mu.Unlock()

	c.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	for _, pc := range swept {
		pc.timer.Stop()
		pc.ch <- callResult{err: ErrClosed}
	}
	c.wg.Wait()
	return err
}

func (c *Client) connect(ctx context.Context) (Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	ch := c.sf.DoChan("connect", func() (any, error) { return c.dialOnce() })
	select {
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(Conn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// dialOnce runs under singleflight so at most one dial is in flight.
func (c *Client) dialOnce() (Conn, error) {
	c.mu.Lock()
	if c.conn != nil {
		conn := c.conn
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(c.ctx, c.connectTimeout)
	defer cancel()

	url, err := c.endpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("editorclient: resolve endpoint: %w", err)
	}

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, err := c.dial(ctx, url, header)
	if err != nil {
		switch {
		case c.ctx.Err() != nil:
			return nil, ErrClosed
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %s after %s", ErrConnectTimeout, url, c.connectTimeout)
		}
		return nil, err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ErrClosed
	}
	c.conn = conn
	c.attempts = 0
	c.backoff.Reset()
	c.wg.Add(1)
	c.mu.Unlock()

	go c.readLoop(conn)

	c.log.Info("editorclient.connect", slog.String("url", url))
	return conn, nil
}

func (c *Client) endpoint(ctx context.Context) (string, error) {
	switch {
	case c.resolve != nil:
		return c.resolve(ctx)
	case c.url != "":
		return c.url, nil
	default:
		return "ws://127.0.0.1:" + strconv.Itoa(c.port), nil
	}
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.reconnecting || c.maxReconnects == 0 {
		return
	}
	c.reconnecting = true
	c.wg.Add(1)
	go c.reconnectLoop()
}

// reconnectLoop retries until a connection is live, the attempt bound is
// reached or the client is closed. The reconnecting flag is cleared under the
// same lock as each exit check.
func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		if c.closed || c.conn != nil {
			c.reconnecting = false
			c.mu.Unlock()
			return
		}
		if c.attempts >= c.maxReconnects {
			n := c.attempts
			c.reconnecting = false
			c.mu.Unlock()
			c.log.Warn("editorclient.reconnect.exhausted", slog.Int("attempts", n))
			return
		}
		c.attempts++
		attempt := c.attempts
		delay := c.backoff.Next()
		c.mu.Unlock()

		c.log.Info("editorclient.reconnect.wait", slog.Int("attempt", attempt), slog.Duration("delay", delay))
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-c.ctx.Done():
			t.Stop()
			c.mu.Lock()
			c.reconnecting = false
			c.mu.Unlock()
			return
		}

		if _, err := c.connect(c.ctx); err != nil {
			c.log.Warn("editorclient.reconnect.fail", slog.Int("attempt", attempt), slog.String("err", err.Error()))
		}
	}
}
