package transport

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	closeGrace       = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WebSocket carries one packet per binary message. Text messages are
// ignored.
type WebSocket struct {
	conn *websocket.Conn
	pump *pump
	wmu  sync.Mutex
}

// NewWebSocket wraps an established connection.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	w := &WebSocket{conn: conn, pump: newPump()}
	go w.pump.run(func() ([]byte, error) {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.BinaryMessage {
			return nil, nil
		}
		if data == nil {
			data = []byte{}
		}
		return data, nil
	})
	return w
}

// Upgrade accepts a WebSocket client on an HTTP request.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WebSocket, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocket(conn), nil
}

// DialOptions configures DialWebSocket.
type DialOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
}

// BasicAuth returns the Authorization header value for user and password.
func BasicAuth(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// DialWebSocket connects to a stub served over WebSocket.
func DialWebSocket(ctx context.Context, wsURL string, opts DialOptions) (*WebSocket, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.SkipSSLVerify}
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		headers.Set("Authorization", BasicAuth(opts.Username, opts.Password))
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return NewWebSocket(conn), nil
}

// ReadPacket returns the next binary message.
func (w *WebSocket) ReadPacket(ctx context.Context) ([]byte, error) {
	return w.pump.read(ctx)
}

// WritePacket sends p as one binary message.
func (w *WebSocket) WritePacket(p []byte) error {
	if w.pump.isClosed() {
		return ErrClosed
	}
	w.wmu.Lock()
	defer w.wmu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, p)
}

// Close sends a close frame and tears the connection down.
func (w *WebSocket) Close() error {
	if !w.pump.close() {
		return nil
	}
	w.wmu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	w.wmu.Unlock()
	return w.conn.Close()
}
