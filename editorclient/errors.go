package editorclient

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ggoodman/unity-mcp-bridge/internal/jsonrpc"
)

var (
	// ErrTimeout is returned when no response arrived within the request timeout.
	ErrTimeout = errors.New("editorclient: request timed out")
	// ErrConnectionLost is returned to every call still pending when the
	// connection drops.
	ErrConnectionLost = errors.New("editorclient: connection lost")
	// ErrNotConnected is returned when a call could not establish a connection.
	ErrNotConnected = errors.New("editorclient: not connected")
	// ErrConnectTimeout is returned when dialing the editor takes longer than
	// the connect timeout.
	ErrConnectTimeout = errors.New("editorclient: connect timed out")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("editorclient: client closed")
)

// RPCError is an error response sent by the editor.
type RPCError struct {
	Code    jsonrpc.ErrorCode
	Message string
	Data    json.RawMessage
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("editorclient: remote error %d: %s", e.Code, e.Message)
}

// HandshakeError reports an HTTP response that did not upgrade the connection.
type HandshakeError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HandshakeError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("editorclient: handshake with %s failed: %s", e.URL, e.Status)
	}
	return fmt.Sprintf("editorclient: handshake with %s failed: status %d", e.URL, e.StatusCode)
}
