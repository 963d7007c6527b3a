package editorclient

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Client.
type Option func(*Client)

// WithURL sets the editor endpoint, e.g. "ws://127.0.0.1:8090".
func WithURL(url string) Option {
	return func(c *Client) { c.url = url }
}

// WithPort points the client at ws://127.0.0.1:port. It is ignored when
// WithURL or WithEndpointResolver is also given.
func WithPort(port int) Option {
	return func(c *Client) { c.port = port }
}

// WithEndpointResolver resolves the editor URL before each dial. It takes
// precedence over WithURL and WithPort.
func WithEndpointResolver(fn func(ctx context.Context) (string, error)) Option {
	return func(c *Client) { c.resolve = fn }
}

// WithRequestTimeout bounds how long a call waits for its response.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithConnectTimeout bounds a single dial attempt.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.connectTimeout = d
		}
	}
}

// WithMaxReconnects bounds consecutive automatic reconnect attempts after an
// unexpected disconnect. Zero disables automatic reconnects.
func WithMaxReconnects(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxReconnects = n
		}
	}
}

// WithReconnectBackoff sets the factory for the delay policy between
// reconnect attempts.
func WithReconnectBackoff(factory func() Backoff) Option {
	return func(c *Client) {
		if factory != nil {
			c.backoffFactory = factory
		}
	}
}

// WithDialer replaces the websocket dialer.
func WithDialer(fn DialFunc) Option {
	return func(c *Client) {
		if fn != nil {
			c.dial = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithBearerToken sends token in the Authorization header of the handshake.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.token = token }
}
