// Package editorserver accepts client connections on the editor side and
// turns framed JSON-RPC requests into host work.
//
// Each connection gets a session with one reader goroutine and one writer
// goroutine. Every request is dispatched on its own goroutine through the
// mainthread.Dispatcher, so a slow editor operation never stalls reading.
package editorserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/unity-mcp-bridge/discovery"
	"github.com/ggoodman/unity-mcp-bridge/internal/jwtauth"
	"github.com/ggoodman/unity-mcp-bridge/internal/wsframe"
	"github.com/ggoodman/unity-mcp-bridge/mainthread"
	"github.com/ggoodman/unity-mcp-bridge/methods"
	"github.com/ggoodman/unity-mcp-bridge/settings"
	"github.com/google/uuid"
)

const (
	handshakeTimeout    = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Server is the editor-side listener. The zero value is not usable; use New.
type Server struct {
	reg  *methods.Registry
	disp *mainthread.Dispatcher

	log          *slog.Logger
	level        *slog.LevelVar
	auth         jwtauth.Authenticator
	authRequired func(net.Addr) bool
	dir          discovery.Directory
	dirTTL       time.Duration
	instanceName string
	maxPayload   uint64
	writeTimeout time.Duration
	timeout      atomic.Int64 // time.Duration

	mu            sync.Mutex
	port          int
	allowRemote   bool
	ln            net.Listener
	running       bool
	stopping      bool
	conns         map[net.Conn]struct{}
	sessions      map[*session]struct{}
	stopHeartbeat func()
	startedAt     time.Time

	wg sync.WaitGroup
}

// New constructs a Server that serves reg through d.
func New(reg *methods.Registry, d *mainthread.Dispatcher, opts ...Option) *Server {
	s := &Server{
		reg:          reg,
		disp:         d,
		log:          slog.Default(),
		authRequired: isRemote,
		instanceName: settings.DefaultInstanceName,
		maxPayload:   wsframe.DefaultMaxPayload,
		writeTimeout: defaultWriteTimeout,
		port:         settings.DefaultPort,
		conns:        make(map[net.Conn]struct{}),
		sessions:     make(map[*session]struct{}),
	}
	s.timeout.Store(int64(settings.DefaultRequestTimeout))
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start binds the listener and begins accepting connections. Calling Start on
// a running server is a no-op.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	host := "127.0.0.1"
	if s.allowRemote {
		host = "0.0.0.0"
	}
	addr := net.JoinHostPort(host, strconv.Itoa(s.port))

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("editorserver: listen %s: %w", addr, err)
	}

	s.ln = ln
	s.running = true
	s.stopping = false
	s.startedAt = time.Now()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ln)
	}()

	if s.dir != nil {
		inst := discovery.Instance{
			Name:      s.instanceName,
			Addr:      s.advertisedAddr(ln.Addr()),
			PID:       os.Getpid(),
			StartedAt: s.startedAt.UTC(),
		}
		stop, err := discovery.Heartbeat(context.WithoutCancel(ctx), s.dir, inst, s.dirTTL, s.log)
		if err != nil {
			s.log.WarnContext(ctx, "editorserver.announce.fail", slog.String("err", err.Error()))
		} else {
			s.stopHeartbeat = stop
		}
	}

	s.log.InfoContext(ctx, "editorserver.start", slog.String("addr", ln.Addr().String()), slog.Bool("allow_remote", s.allowRemote))
	return nil
}

// Stop closes the listener and every session and waits for their goroutines.
// Calling Stop on a stopped server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	ln := s.ln
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	conns := make([]net.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	stopHB := s.stopHeartbeat
	s.stopHeartbeat = nil
	s.mu.Unlock()

	var closeErr error
	if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		closeErr = fmt.Errorf("editorserver: close listener: %w", err)
	}
	for _, sess := range sessions {
		sess.close()
	}
	// Connections still in the handshake have no session yet.
	for _, c := range conns {
		_ = c.Close()
	}
	s.wg.Wait()

	if stopHB != nil {
		stopHB()
	}

	s.mu.Lock()
	s.running = false
	s.ln = nil
	s.mu.Unlock()

	s.log.Info("editorserver.stop")
	return closeErr
}

// Addr returns the bound address, or nil when the server is not running.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Running reports whether the listener is bound.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// RequestTimeout returns the current per-request host timeout.
func (s *Server) RequestTimeout() time.Duration {
	return time.Duration(s.timeout.Load())
}

// Reconfigure applies st to the server. The request timeout and log level
// take effect immediately. When the port or bind mode changed, the new values
// are stored and restart is true; the caller must Stop and Start the server
// for them to apply.
func (s *Server) Reconfigure(st settings.Settings) (restart bool) {
	if st.RequestTimeout > 0 {
		s.timeout.Store(int64(st.RequestTimeout))
	}
	if s.level != nil {
		s.level.Set(st.LogLevel())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st.Port != s.port || st.AllowRemoteConnections != s.allowRemote {
		s.port = st.Port
		s.allowRemote = st.AllowRemoteConnections
		return s.running
	}
	return false
}

func (s *Server) acceptLoop(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isStopping() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("editorserver.accept.fail", slog.String("err", err.Error()))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		if !s.trackConn(conn) {
			_ = conn.Close()
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrackConn(conn)
			s.serveConn(conn)
		}()
	}
}

func (s *Server) trackConn(c net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.conns[c] = struct{}{}
	return true
}

func (s *Server) untrackConn(c net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c)
}

func (s *Server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func (s *Server) serveConn(conn net.Conn) {
	br := bufio.NewReader(conn)

	_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
	req, key, err := wsframe.ReadHandshake(br)
	if err != nil {
		switch {
		case errors.Is(err, wsframe.ErrNotUpgrade) && req != nil:
			s.serveStatus(conn, req)
		case req != nil:
			_ = wsframe.WriteReject(conn, http.StatusBadRequest, err.Error())
		default:
			s.log.Debug("editorserver.handshake.fail", slog.String("remote_addr", conn.RemoteAddr().String()), slog.String("err", err.Error()))
		}
		_ = conn.Close()
		return
	}

	var subject string
	if s.auth != nil && s.authRequired(conn.RemoteAddr()) {
		subject, err = s.authenticate(req)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, jwtauth.ErrInsufficientScope) {
				status = http.StatusForbidden
			}
			s.log.Warn("editorserver.auth.fail", slog.String("remote_addr", conn.RemoteAddr().String()), slog.String("err", err.Error()))
			_ = wsframe.WriteReject(conn, status, http.StatusText(status))
			_ = conn.Close()
			return
		}
	}

	if err := wsframe.WriteHandshake(conn, key); err != nil {
		_ = conn.Close()
		return
	}
	_ = conn.SetDeadline(time.Time{})

	sess := newSession(s, uuid.NewString(), conn, br, subject)
	if !s.register(sess) {
		sess.close()
		return
	}
	defer s.unregister(sess)

	sess.run()
}

func (s *Server) authenticate(req *http.Request) (string, error) {
	tok, ok := jwtauth.BearerToken(req.Header)
	if !ok {
		return "", fmt.Errorf("%w: missing bearer token", jwtauth.ErrUnauthorized)
	}
	ui, err := s.auth.CheckAuthentication(req.Context(), tok)
	if err != nil {
		return "", err
	}
	return ui.UserID(), nil
}

func (s *Server) register(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) unregister(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

func (s *Server) advertisedAddr(a net.Addr) string {
	tcp, ok := a.(*net.TCPAddr)
	if !ok || !tcp.IP.IsUnspecified() {
		return a.String()
	}
	host, err := os.Hostname()
	if err != nil {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(tcp.Port))
}

func isRemote(a net.Addr) bool {
	tcp, ok := a.(*net.TCPAddr)
	if !ok {
		return true
	}
	return !tcp.IP.IsLoopback()
}
