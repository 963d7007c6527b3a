package editorserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ggoodman/unity-mcp-bridge/internal/jsonrpc"
	"github.com/ggoodman/unity-mcp-bridge/internal/logctx"
	"github.com/ggoodman/unity-mcp-bridge/internal/wsframe"
	"github.com/ggoodman/unity-mcp-bridge/mainthread"
)

const outboundBuffer = 64

// session is one upgraded connection. The reader goroutine is the only reader
// of br and the writer goroutine is the only writer of conn.
type session struct {
	id   string
	srv  *Server
	conn net.Conn
	br   *bufio.Reader
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	out       chan wsframe.Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newSession(srv *Server, id string, conn net.Conn, br *bufio.Reader, subject string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:  id,
		RemoteAddr: conn.RemoteAddr().String(),
		Subject:    subject,
	})
	return &session{
		id:     id,
		srv:    srv,
		conn:   conn,
		br:     br,
		log:    srv.log,
		ctx:    ctx,
		cancel: cancel,
		out:    make(chan wsframe.Frame, outboundBuffer),
		done:   make(chan struct{}),
	}
}

// run serves the session until the peer disconnects or close is called.
func (s *session) run() {
	s.log.InfoContext(s.ctx, "session.open")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()

	s.readLoop()
	s.close()
	wg.Wait()

	s.log.InfoContext(s.ctx, "session.close")
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		s.cancel()
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *session) readLoop() {
	var (
		partial   []byte
		partialOp wsframe.Opcode
		inMessage bool
	)
	for {
		f, err := wsframe.ReadFrame(s.br, s.srv.maxPayload)
		if err != nil {
			if !s.closed() && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.log.WarnContext(s.ctx, "session.read.fail", slog.String("err", err.Error()))
			}
			return
		}

		switch f.Opcode {
		case wsframe.OpText, wsframe.OpBinary:
			if f.Fin {
				s.handleMessage(f.Payload)
				continue
			}
			partial, partialOp, inMessage = append(partial[:0], f.Payload...), f.Opcode, true
		case wsframe.OpContinuation:
			if !inMessage {
				s.log.WarnContext(s.ctx, "session.read.fail", slog.String("err", "continuation without a started message"))
				return
			}
			if uint64(len(partial)+len(f.Payload)) > s.srv.maxPayload {
				s.log.WarnContext(s.ctx, "session.read.fail", slog.String("err", wsframe.ErrFrameTooLarge.Error()))
				return
			}
			partial = append(partial, f.Payload...)
			if f.Fin {
				if partialOp == wsframe.OpText && !utf8.Valid(partial) {
					s.log.WarnContext(s.ctx, "session.read.fail", slog.String("err", wsframe.ErrInvalidUTF8.Error()))
					return
				}
				msg := partial
				partial, inMessage = nil, false
				s.handleMessage(msg)
			}
		case wsframe.OpPing:
			s.enqueue(wsframe.Frame{Opcode: wsframe.OpPong, Payload: f.Payload})
		case wsframe.OpClose:
			// The writer echoes the close after any queued responses and then
			// closes the session.
			s.enqueue(wsframe.Frame{Opcode: wsframe.OpClose, Payload: f.Payload})
			<-s.done
			return
		default:
			// Pongs carry nothing for us.
		}
	}
}

func (s *session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case f := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.srv.writeTimeout))
			if err := wsframe.WriteFrame(s.conn, f); err != nil {
				if !s.closed() {
					s.log.WarnContext(s.ctx, "session.write.fail", slog.String("err", err.Error()))
				}
				s.close()
				return
			}
			if f.Opcode == wsframe.OpClose {
				s.close()
				return
			}
		}
	}
}

// enqueue hands f to the writer. Frames queued after close are dropped.
func (s *session) enqueue(f wsframe.Frame) {
	select {
	case s.out <- f:
	case <-s.done:
	}
}

func (s *session) send(ctx context.Context, resp *jsonrpc.Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		s.log.ErrorContext(ctx, "session.marshal.fail", slog.String("err", err.Error()))
		b, _ = json.Marshal(jsonrpc.NewErrorResponse(resp.ID, jsonrpc.ErrorCodeInternalError, "Internal error: "+err.Error(), nil))
	}
	s.enqueue(wsframe.Frame{Opcode: wsframe.OpText, Payload: b})
}

func (s *session) handleMessage(data []byte) {
	msg, id, rpcErr := jsonrpc.Decode(data)
	if rpcErr != nil {
		s.log.DebugContext(s.ctx, "session.decode.fail", slog.Int("code", int(rpcErr.Code)), slog.String("err", rpcErr.Message))
		s.send(s.ctx, &jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, Error: rpcErr, ID: id})
		return
	}

	ctx := logctx.WithRPCMessage(s.ctx, &logctx.RPCMessage{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})

	switch msg.Type() {
	case "request":
		req := msg.AsRequest()
		go s.dispatch(ctx, req)
	default:
		s.log.DebugContext(ctx, "session.message.ignored")
	}
}

func (s *session) dispatch(ctx context.Context, req *jsonrpc.Request) {
	if _, ok := s.srv.reg.Lookup(req.Method); !ok {
		s.send(ctx, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "Method not found: "+req.Method, nil))
		return
	}

	start := time.Now()
	timeout := s.srv.RequestTimeout()
	v, err := s.srv.disp.Invoke(ctx, timeout, func(hctx context.Context) (any, error) {
		res, rpcErr := s.srv.reg.Call(hctx, req.Method, req.Params)
		if rpcErr != nil {
			return nil, rpcErr
		}
		return res, nil
	})

	if err != nil {
		if errors.Is(err, context.Canceled) && s.closed() {
			return
		}
		rpcErr := toRPCError(err, timeout)
		s.log.DebugContext(ctx, "session.request.fail", slog.Int("code", int(rpcErr.Code)), slog.String("err", rpcErr.Message), slog.Duration("elapsed", time.Since(start)))
		s.send(ctx, jsonrpc.NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data))
		return
	}

	raw, _ := v.(json.RawMessage)
	s.log.DebugContext(ctx, "session.request.ok", slog.Duration("elapsed", time.Since(start)))
	s.send(ctx, jsonrpc.NewRawResultResponse(req.ID, raw))
}

// toRPCError maps dispatch failures onto wire error codes.
func toRPCError(err error, timeout time.Duration) *jsonrpc.Error {
	var (
		rpcErr  *jsonrpc.Error
		busyErr *mainthread.BusyError
	)
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.As(err, &busyErr):
		return &jsonrpc.Error{Code: jsonrpc.ErrorCodeHostBusy, Message: busyErr.Error()}
	case errors.Is(err, mainthread.ErrTimeout):
		return jsonrpc.NewError(jsonrpc.ErrorCodeRequestTimeout, "Request timed out after %s", timeout)
	default:
		return jsonrpc.NewError(jsonrpc.ErrorCodeInternalError, "Internal error: %s", err.Error())
	}
}
