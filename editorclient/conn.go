package editorclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ggoodman/unity-mcp-bridge/internal/wsframe"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	closeWait = time.Second
)

// Conn is a message-oriented connection to the editor. ReadMessage is called
// from a single goroutine; WriteMessage and Close may be called concurrently.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// DialFunc opens a Conn to url. Implementations should return a
// *HandshakeError when the server answered without upgrading.
type DialFunc func(ctx context.Context, url string, header http.Header) (Conn, error)

// DialWebSocket is the default DialFunc, built on gorilla/websocket.
func DialWebSocket(ctx context.Context, url string, header http.Header) (Conn, error) {
	d := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	c, resp, err := d.DialContext(ctx, url, header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			_ = resp.Body.Close()
			return nil, &HandshakeError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
		}
		return nil, fmt.Errorf("editorclient: dial %s: %w", url, err)
	}
	c.SetReadLimit(int64(wsframe.DefaultMaxPayload))
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c   *websocket.Conn
	wmu sync.Mutex
}

var _ Conn = (*wsConn)(nil)

func (w *wsConn) ReadMessage() ([]byte, error) {
	for {
		typ, data, err := w.c.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (w *wsConn) WriteMessage(data []byte) error {
	w.wmu.Lock()
	defer w.wmu.Unlock()
	_ = w.c.SetWriteDeadline(time.Now().Add(writeWait))
	return w.c.WriteMessage(websocket.TextMessage, data)
}

func (w *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	return w.c.Close()
}
