// Package wsframe implements the minimal single-connection framing protocol
// spoken between the editor server and its clients: an HTTP upgrade handshake
// followed by length-prefixed, optionally masked frames. It is the subset of
// RFC 6455 the bridge needs; extensions are not supported and fragmented
// messages are left to the caller to reassemble.
package wsframe

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// acceptMagic is the fixed GUID appended to the client key before hashing.
const acceptMagic = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

var (
	// ErrNotUpgrade is returned when the opening request does not ask for a
	// websocket upgrade.
	ErrNotUpgrade = errors.New("wsframe: missing websocket upgrade header")
	// ErrMissingKey is returned when the opening request carries no client key.
	ErrMissingKey = errors.New("wsframe: missing Sec-WebSocket-Key header")
)

// AcceptKey computes the Sec-WebSocket-Accept token for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(acceptMagic))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ReadHandshake reads the client's opening request from br and returns it with
// the extracted client key. Any bytes the client sent after the request stay
// buffered in br and must be consumed through it.
func ReadHandshake(br *bufio.Reader) (*http.Request, string, error) {
	req, err := http.ReadRequest(br)
	if err != nil {
		return nil, "", fmt.Errorf("wsframe: read handshake: %w", err)
	}
	if req.Body != nil {
		_ = req.Body.Close()
	}
	if !headerHasToken(req.Header, "Upgrade", "websocket") {
		return req, "", ErrNotUpgrade
	}
	key := strings.TrimSpace(req.Header.Get("Sec-WebSocket-Key"))
	if key == "" {
		return req, "", ErrMissingKey
	}
	return req, key, nil
}

// WriteHandshake writes the protocol switch response for key.
func WriteHandshake(w io.Writer, key string) error {
	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n\r\n"
	_, err := io.WriteString(w, resp)
	return err
}

// WriteReject writes a plain HTTP error response; the caller closes the
// connection afterwards.
func WriteReject(w io.Writer, status int, reason string) error {
	return WriteResponse(w, status, "text/plain; charset=utf-8", []byte(reason+"\n"))
}

// WriteResponse writes a complete HTTP/1.1 response with a fixed-length body
// and Connection: close.
func WriteResponse(w io.Writer, status int, contentType string, body []byte) error {
	head := fmt.Sprintf("HTTP/1.1 %d %s\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		status, http.StatusText(status), contentType, len(body))
	if _, err := io.WriteString(w, head); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}
