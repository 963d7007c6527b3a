package editorserver

import (
	"log/slog"
	"time"

	"github.com/ggoodman/unity-mcp-bridge/discovery"
	"github.com/ggoodman/unity-mcp-bridge/internal/jwtauth"
	"github.com/ggoodman/unity-mcp-bridge/settings"
)

// Option configures a Server.
type Option func(*Server)

// WithPort sets the TCP port to listen on. Zero picks an ephemeral port.
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithAllowRemote binds all interfaces instead of loopback only.
func WithAllowRemote(allow bool) Option {
	return func(s *Server) { s.allowRemote = allow }
}

// WithRequestTimeout bounds how long a request may wait for the host.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.timeout.Store(int64(d))
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithLevelVar lets Reconfigure toggle verbose logging on a shared level.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(s *Server) { s.level = lv }
}

// WithAuthenticator requires peers connecting from a non-loopback address to
// present a bearer token accepted by a.
func WithAuthenticator(a jwtauth.Authenticator) Option {
	return func(s *Server) { s.auth = a }
}

// WithDirectory announces the server under name in dir while it is running.
func WithDirectory(dir discovery.Directory, name string) Option {
	return func(s *Server) {
		s.dir = dir
		s.instanceName = name
	}
}

// WithDirectoryTTL overrides discovery.DefaultTTL for announcements.
func WithDirectoryTTL(ttl time.Duration) Option {
	return func(s *Server) { s.dirTTL = ttl }
}

// WithMaxPayload bounds the size of a single inbound frame.
func WithMaxPayload(n uint64) Option {
	return func(s *Server) { s.maxPayload = n }
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithSettings applies the port, bind mode, timeout and instance name from st.
func WithSettings(st settings.Settings) Option {
	return func(s *Server) {
		s.port = st.Port
		s.allowRemote = st.AllowRemoteConnections
		if st.RequestTimeout > 0 {
			s.timeout.Store(int64(st.RequestTimeout))
		}
		if st.InstanceName != "" {
			s.instanceName = st.InstanceName
		}
	}
}
