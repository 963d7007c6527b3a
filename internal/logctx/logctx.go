package logctx

import (
	"context"
	"log/slog"
)

// Handler decorates records with the connection and message data stored in
// the context.
type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if sd, ok := ctx.Value(sessionDataKey{}).(*SessionData); ok {
		r.AddAttrs(slog.Group("sess",
			slog.String("id", sd.SessionID),
			slog.String("remote_addr", sd.RemoteAddr),
			slog.String("subject", sd.Subject),
		))
	}

	if msg, ok := ctx.Value(rpcMsg{}).(*RPCMessage); ok {
		r.AddAttrs(slog.Group("rpc",
			slog.String("method", msg.Method),
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
		))
	}

	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type rpcMsg struct{}

type RPCMessage struct {
	Method string
	ID     string
	Type   string
}

func WithRPCMessage(ctx context.Context, msg *RPCMessage) context.Context {
	return context.WithValue(ctx, rpcMsg{}, msg)
}

type sessionDataKey struct{}

// SessionData identifies one editor connection.
type SessionData struct {
	SessionID  string
	RemoteAddr string
	// Subject is the authenticated token subject for remote peers.
	Subject string
}

func WithSessionData(ctx context.Context, data *SessionData) context.Context {
	return context.WithValue(ctx, sessionDataKey{}, data)
}

// New returns a logger whose handler is h wrapped in Handler. A nil h wraps
// the default logger's handler.
func New(h slog.Handler) *slog.Logger {
	if h == nil {
		h = slog.Default().Handler()
	}
	return slog.New(Handler{Handler: h})
}
