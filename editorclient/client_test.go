package editorclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ggoodman/unity-mcp-bridge/editorserver"
	"github.com/ggoodman/unity-mcp-bridge/internal/jsonrpc"
	"github.com/ggoodman/unity-mcp-bridge/internal/testlog"
	"github.com/ggoodman/unity-mcp-bridge/mainthread"
	"github.com/ggoodman/unity-mcp-bridge/methods"
)

// fakeConn is an in-memory Conn. Messages pushed with deliver are returned by
// ReadMessage; everything the client writes shows up on writes.
type fakeConn struct {
	in        chan []byte
	writes    chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		writes: make(chan []byte, 256),
		closed: make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case m := <-f.in:
		return m, nil
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	f.writes <- data
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) deliver(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	f.in <- b
}

type sentRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (f *fakeConn) nextRequest(t *testing.T) sentRequest {
	t.Helper()
	select {
	case b := <-f.writes:
		var req sentRequest
		if err := json.Unmarshal(b, &req); err != nil {
			t.Fatalf("decode request %s: %v", b, err)
		}
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("no request written")
		return sentRequest{}
	}
}

func result(id string, v any) *jsonrpc.Response {
	b, _ := json.Marshal(v)
	return jsonrpc.NewRawResultResponse(jsonrpc.NewRequestID(id), b)
}

func fakeDialer(conns ...*fakeConn) (DialFunc, *atomic.Int32) {
	var n atomic.Int32
	return func(ctx context.Context, url string, header http.Header) (Conn, error) {
		i := int(n.Add(1)) - 1
		if i < len(conns) {
			return conns[i], nil
		}
		return nil, errors.New("connection refused")
	}, &n
}

type constBackoff time.Duration

func (b constBackoff) Next() time.Duration { return time.Duration(b) }
func (b constBackoff) Reset()              {}

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(testlog.Logger(t))}, opts...)
	c := New(opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

type callOutcome struct {
	raw json.RawMessage
	err error
}

func goCall(c *Client, method string, params any) <-chan callOutcome {
	ch := make(chan callOutcome, 1)
	go func() {
		raw, err := c.Call(context.Background(), method, params)
		ch <- callOutcome{raw, err}
	}()
	return ch
}

func await(t *testing.T, ch <-chan callOutcome) callOutcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(3 * time.Second):
		t.Fatal("call did not resolve")
		return callOutcome{}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func startEditor(t *testing.T) *editorserver.Server {
	t.Helper()

	reg := methods.MustNew(
		methods.Typed("echo", "Echo text back.", func(ctx context.Context, p struct {
			Text string `json:"text"`
		}) (any, error) {
			return p, nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	d := mainthread.New(mainthread.WithLogger(testlog.Logger(t)))
	go d.Run(ctx, time.Millisecond)

	srv := editorserver.New(reg, d, editorserver.WithPort(0), editorserver.WithLogger(testlog.Logger(t)))
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start editor: %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })
	return srv
}

func editorURL(srv *editorserver.Server) string {
	return "ws://" + srv.Addr().String()
}

func TestCallRoundTrip(t *testing.T) {
	t.Parallel()

	srv := startEditor(t)
	c := newTestClient(t, WithURL(editorURL(srv)))

	if c.Connected() {
		t.Fatal("client connected before first call")
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := c.CallInto(context.Background(), "echo", map[string]string{"text": "hello"}, &out); err != nil {
		t.Fatalf("call: %v", err)
	}
	if out.Text != "hello" {
		t.Fatalf("got %q", out.Text)
	}
	if !c.Connected() {
		t.Fatal("client not connected after lazy connect")
	}
	if n := c.Pending(); n != 0 {
		t.Fatalf("pending = %d", n)
	}
}

func TestRemoteErrorIsRPCError(t *testing.T) {
	t.Parallel()

	srv := startEditor(t)
	c := newTestClient(t, WithURL(editorURL(srv)))

	_, err := c.Call(context.Background(), "no_such_method", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *RPCError, got %v", err)
	}
	if rpcErr.Code != jsonrpc.ErrorCodeMethodNotFound {
		t.Fatalf("code = %d", rpcErr.Code)
	}
	if rpcErr.Message != "Method not found: no_such_method" {
		t.Fatalf("message = %q", rpcErr.Message)
	}
}

func TestConcurrentCallsAgainstEditor(t *testing.T) {
	t.Parallel()

	srv := startEditor(t)
	c := newTestClient(t, WithURL(editorURL(srv)))

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("msg-%d", i)
			var out struct {
				Text string `json:"text"`
			}
			if err := c.CallInto(context.Background(), "echo", map[string]string{"text": want}, &out); err != nil {
				errs <- err
				return
			}
			if out.Text != want {
				errs <- fmt.Errorf("call %d got %q", i, out.Text)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if p := c.Pending(); p != 0 {
		t.Fatalf("pending = %d", p)
	}
}

func TestIDsAreUniqueUnderConcurrency(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	dial, _ := fakeDialer(conn)
	c := newTestClient(t, WithDialer(dial))

	const n = 100
	outcomes := make([]<-chan callOutcome, n)
	for i := 0; i < n; i++ {
		outcomes[i] = goCall(c, "echo", i)
	}

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		req := conn.nextRequest(t)
		if seen[req.ID] {
			t.Fatalf("duplicate id %q", req.ID)
		}
		seen[req.ID] = true
		conn.deliver(jsonrpc.NewRawResultResponse(jsonrpc.NewRequestID(req.ID), req.Params))
	}

	for i, ch := range outcomes {
		o := await(t, ch)
		if o.err != nil {
			t.Fatalf("call %d: %v", i, o.err)
		}
		if string(o.raw) != fmt.Sprint(i) {
			t.Fatalf("call %d got %s", i, o.raw)
		}
	}
}

func TestTimeoutIsolation(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	dial, _ := fakeDialer(conn)
	c := newTestClient(t, WithDialer(dial), WithRequestTimeout(100*time.Millisecond))

	slow := goCall(c, "slow", nil)
	slowReq := conn.nextRequest(t)
	fast := goCall(c, "fast", nil)
	fastReq := conn.nextRequest(t)

	conn.deliver(result(fastReq.ID, "ok"))
	if o := await(t, fast); o.err != nil || string(o.raw) != `"ok"` {
		t.Fatalf("fast call: %s, %v", o.raw, o.err)
	}

	o := await(t, slow)
	if !errors.Is(o.err, ErrTimeout) {
		t.Fatalf("slow call: expected ErrTimeout, got %v", o.err)
	}

	// The late response matches nothing and is dropped.
	conn.deliver(result(slowReq.ID, "late"))
	conn.deliver(result("unknown-id", "stray"))

	again := goCall(c, "after", nil)
	req := conn.nextRequest(t)
	conn.deliver(result(req.ID, 1))
	if o := await(t, again); o.err != nil {
		t.Fatalf("call after timeout: %v", o.err)
	}
	if p := c.Pending(); p != 0 {
		t.Fatalf("pending = %d", p)
	}
}

func TestInvalidInboundIsDropped(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	dial, _ := fakeDialer(conn)
	c := newTestClient(t, WithDialer(dial))

	call := goCall(c, "echo", nil)
	req := conn.nextRequest(t)

	conn.in <- []byte("{not json")
	conn.in <- []byte(`{"jsonrpc":"2.0","method":"log","params":{}}`)
	conn.deliver(result(req.ID, true))

	if o := await(t, call); o.err != nil || string(o.raw) != "true" {
		t.Fatalf("call: %s, %v", o.raw, o.err)
	}
}

func TestDisconnectRejectsAllPending(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	dial, _ := fakeDialer(conn)
	c := newTestClient(t, WithDialer(dial), WithMaxReconnects(0))

	calls := make([]<-chan callOutcome, 3)
	for i := range calls {
		calls[i] = goCall(c, "wait", nil)
		conn.nextRequest(t)
	}
	if p := c.Pending(); p != 3 {
		t.Fatalf("pending = %d, want 3", p)
	}

	_ = conn.Close()

	for i, ch := range calls {
		if o := await(t, ch); !errors.Is(o.err, ErrConnectionLost) {
			t.Fatalf("call %d: expected ErrConnectionLost, got %v", i, o.err)
		}
	}
	if p := c.Pending(); p != 0 {
		t.Fatalf("pending = %d after disconnect", p)
	}
	waitFor(t, "disconnected state", func() bool { return !c.Connected() })
}

func TestReconnectAttemptsAreBounded(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	dial, dials := fakeDialer(conn)
	c := newTestClient(t,
		WithDialer(dial),
		WithMaxReconnects(5),
		WithReconnectBackoff(func() Backoff { return constBackoff(5 * time.Millisecond) }),
	)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = conn.Close()

	waitFor(t, "five reconnect attempts", func() bool { return c.Attempts() == 5 && dials.Load() == 6 })

	time.Sleep(100 * time.Millisecond)
	if got := c.Attempts(); got != 5 {
		t.Fatalf("attempts = %d, want 5", got)
	}
	if got := dials.Load(); got != 6 {
		t.Fatalf("dials = %d, want 6 (one initial and five retries)", got)
	}
}

func TestReconnectResetsAfterSuccess(t *testing.T) {
	t.Parallel()

	first, second := newFakeConn(), newFakeConn()
	var n atomic.Int32
	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) {
		switch n.Add(1) {
		case 1:
			return first, nil
		case 2, 3:
			return nil, errors.New("connection refused")
		default:
			return second, nil
		}
	}
	c := newTestClient(t,
		WithDialer(dial),
		WithReconnectBackoff(func() Backoff { return constBackoff(time.Millisecond) }),
	)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = first.Close()

	waitFor(t, "reconnect", func() bool { return c.Connected() && n.Load() == 4 })
	if got := c.Attempts(); got != 0 {
		t.Fatalf("attempts = %d after success", got)
	}

	call := goCall(c, "echo", nil)
	req := second.nextRequest(t)
	second.deliver(result(req.ID, "again"))
	if o := await(t, call); o.err != nil {
		t.Fatalf("call after reconnect: %v", o.err)
	}
}

func TestConnectIsShared(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	gate := make(chan struct{})
	var dials atomic.Int32
	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) {
		dials.Add(1)
		<-gate
		return conn, nil
	}
	c := newTestClient(t, WithDialer(dial))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.Connect(context.Background()); err != nil {
				t.Errorf("connect: %v", err)
			}
		}()
	}
	waitFor(t, "dial to start", func() bool { return dials.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	if got := dials.Load(); got != 1 {
		t.Fatalf("dials = %d, want 1", got)
	}
}

func TestConnectTimeout(t *testing.T) {
	t.Parallel()

	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	c := newTestClient(t, WithDialer(dial), WithConnectTimeout(50*time.Millisecond))

	if err := c.Connect(context.Background()); !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("connect: expected ErrConnectTimeout, got %v", err)
	}

	_, err := c.Call(context.Background(), "echo", nil)
	if !errors.Is(err, ErrNotConnected) || !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("call: expected ErrNotConnected wrapping ErrConnectTimeout, got %v", err)
	}
}

func TestHandshakeError(t *testing.T) {
	t.Parallel()

	hs := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(hs.Close)

	c := newTestClient(t, WithURL("ws"+hs.URL[len("http"):]))
	err := c.Connect(context.Background())

	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("expected *HandshakeError, got %v", err)
	}
	if hsErr.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", hsErr.StatusCode)
	}
}

func TestBearerTokenAndResolver(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	var gotURL, gotAuth string
	dial := func(ctx context.Context, url string, header http.Header) (Conn, error) {
		gotURL, gotAuth = url, header.Get("Authorization")
		return conn, nil
	}
	c := newTestClient(t,
		WithDialer(dial),
		WithURL("ws://ignored:1"),
		WithEndpointResolver(func(ctx context.Context) (string, error) { return "ws://editor-host:9000", nil }),
		WithBearerToken("tok"),
	)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if gotURL != "ws://editor-host:9000" {
		t.Fatalf("url = %q", gotURL)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("authorization = %q", gotAuth)
	}
}

func TestDefaultEndpointUsesPort(t *testing.T) {
	t.Parallel()

	c := New(WithPort(9123))
	got, err := c.endpoint(context.Background())
	if err != nil || got != "ws://127.0.0.1:9123" {
		t.Fatalf("endpoint = %q, %v", got, err)
	}
}

func TestCloseRejectsPending(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	dial, _ := fakeDialer(conn)
	c := New(WithDialer(dial), WithLogger(testlog.Logger(t)))

	call := goCall(c, "wait", nil)
	conn.nextRequest(t)

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if o := await(t, call); !errors.Is(o.err, ErrClosed) {
		t.Fatalf("pending call: expected ErrClosed, got %v", o.err)
	}
	if _, err := c.Call(context.Background(), "echo", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("call after close: expected ErrClosed, got %v", err)
	}
}

func TestCallContextCancel(t *testing.T) {
	t.Parallel()

	conn := newFakeConn()
	dial, _ := fakeDialer(conn)
	c := newTestClient(t, WithDialer(dial))

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, "wait", nil)
		done <- err
	}()
	conn.nextRequest(t)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return after cancel")
	}
	if p := c.Pending(); p != 0 {
		t.Fatalf("pending = %d", p)
	}
}

func TestLinearBackoff(t *testing.T) {
	t.Parallel()

	b := &LinearBackoff{Base: time.Second}
	for i, want := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second} {
		if got := b.Next(); got != want {
			t.Fatalf("step %d: %s, want %s", i, got, want)
		}
	}
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Fatalf("after reset: %s", got)
	}
}
