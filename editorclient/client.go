// Package editorclient is the MCP-side half of the bridge. A Client holds one
// connection to the editor, correlates responses with outstanding calls by id
// and reconnects after unexpected drops.
//
// Every call resolves exactly once: with the editor's response, with
// ErrTimeout, with ErrConnectionLost when the connection drops, or with the
// caller's context error. Removing the call from the pending map is what
// decides which of those wins.
package editorclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/unity-mcp-bridge/internal/jsonrpc"
	"github.com/ggoodman/unity-mcp-bridge/settings"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Defaults used by New.
const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultMaxReconnects  = 5
)

// Client is safe for concurrent use.
type Client struct {
	url            string
	port           int
	resolve        func(ctx context.Context) (string, error)
	token          string
	requestTimeout time.Duration
	connectTimeout time.Duration
	maxReconnects  int
	backoffFactory func() Backoff
	dial           DialFunc
	log            *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sf     singleflight.Group

	mu           sync.Mutex
	conn         Conn
	pending      map[string]*pendingCall
	closed       bool
	reconnecting bool
	attempts     int
	backoff      Backoff

	wg sync.WaitGroup
}

type pendingCall struct {
	method string
	ch     chan callResult
	timer  *time.Timer
}

type callResult struct {
	raw json.RawMessage
	err error
}

// New constructs a Client. No connection is made until Connect or the first
// Call.
func New(opts ...Option) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		port:           settings.DefaultPort,
		requestTimeout: settings.DefaultRequestTimeout,
		connectTimeout: DefaultConnectTimeout,
		maxReconnects:  DefaultMaxReconnects,
		backoffFactory: func() Backoff { return &LinearBackoff{Base: time.Second} },
		dial:           DialWebSocket,
		log:            slog.Default(),
		ctx:            ctx,
		cancel:         cancel,
		pending:        make(map[string]*pendingCall),
	}
	for _, o := range opts {
		o(c)
	}
	c.backoff = c.backoffFactory()
	return c
}

// Pending returns the number of calls awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Call sends method with params and waits for the editor's response. It
// connects first if needed. A remote error is returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}

	id, pc, err := c.register(conn, method)
	if err != nil {
		return nil, err
	}

	req, err := jsonrpc.NewRequest(jsonrpc.NewRequestID(id), method, params)
	if err != nil {
		c.settle(id, callResult{err: fmt.Errorf("editorclient: %s: %w", method, err)})
		return c.wait(ctx, id, pc)
	}
	b, err := json.Marshal(req)
	if err != nil {
		c.settle(id, callResult{err: fmt.Errorf("editorclient: %s: %w", method, err)})
		return c.wait(ctx, id, pc)
	}

	if err := conn.WriteMessage(b); err != nil {
		c.log.WarnContext(ctx, "editorclient.write.fail", slog.String("method", method), slog.String("err", err.Error()))
		c.settle(id, callResult{err: fmt.Errorf("%w: %w", ErrConnectionLost, err)})
		c.disconnected(conn, err)
	}
	return c.wait(ctx, id, pc)
}

// CallInto is Call followed by decoding the result into out.
func (c *Client) CallInto(ctx context.Context, method string, params any, out any) error {
	raw, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("editorclient: decode %s result: %w", method, err)
	}
	return nil
}

// register allocates an id that is not currently pending and arms the call's
// timer. It fails when conn is no longer the live connection.
func (c *Client) register(conn Conn, method string) (string, *pendingCall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", nil, ErrClosed
	}
	if c.conn != conn {
		return "", nil, ErrConnectionLost
	}

	id := uuid.NewString()
	for c.pending[id] != nil {
		id = uuid.NewString()
	}

	pc := &pendingCall{method: method, ch: make(chan callResult, 1)}
	timeout := c.requestTimeout
	pc.timer = time.AfterFunc(timeout, func() {
		if c.settle(id, callResult{err: fmt.Errorf("%w: %s after %s", ErrTimeout, method, timeout)}) {
			c.log.Warn("editorclient.call.timeout", slog.String("method", method), slog.String("id", id))
		}
	})
	c.pending[id] = pc
	return id, pc, nil
}

// settle resolves the call with id if it is still pending and reports whether
// it did.
func (c *Client) settle(id string, r callResult) bool {
	c.mu.Lock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	pc.timer.Stop()
	pc.ch <- r
	return true
}

func (c *Client) wait(ctx context.Context, id string, pc *pendingCall) (json.RawMessage, error) {
	select {
	case r := <-pc.ch:
		return r.raw, r.err
	case <-ctx.Done():
		c.settle(id, callResult{err: ctx.Err()})
		r := <-pc.ch
		return r.raw, r.err
	}
}

func (c *Client) readLoop(conn Conn) {
	defer c.wg.Done()
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.disconnected(conn, err)
			return
		}
		c.handleMessage(data)
	}
}

func (c *Client) handleMessage(data []byte) {
	msg, _, rpcErr := jsonrpc.Decode(data)
	if rpcErr != nil {
		c.log.Warn("editorclient.decode.fail", slog.String("err", rpcErr.Message))
		return
	}
	if msg.Type() != "response" {
		c.log.Debug("editorclient.message.ignored", slog.String("type", msg.Type()), slog.String("method", msg.Method))
		return
	}

	resp := msg.AsResponse()
	id := resp.ID.String()

	var r callResult
	if resp.Error != nil {
		re := &RPCError{Code: resp.Error.Code, Message: resp.Error.Message}
		if resp.Error.Data != nil {
			re.Data, _ = json.Marshal(resp.Error.Data)
		}
		r.err = re
	} else {
		r.raw = resp.Result
	}

	if id == "" || !c.settle(id, r) {
		c.log.Debug("editorclient.response.unmatched", slog.String("id", id))
	}
}

// disconnected tears down conn if it is still the live connection, rejects
// every pending call and schedules reconnection.
func (c *Client) disconnected(conn Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	swept := c.pending
	c.pending = make(map[string]*pendingCall)
	closed := c.closed
	c.mu.Unlock()

	_ = conn.Close()
	for _, pc := range swept {
		pc.timer.Stop()
		pc.ch <- callResult{err: ErrConnectionLost}
	}
	if closed {
		return
	}

	c.log.Warn("editorclient.disconnect", slog.String("err", cause.Error()), slog.Int("swept", len(swept)))
	c.scheduleReconnect()
}
