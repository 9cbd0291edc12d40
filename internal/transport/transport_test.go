package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bigbag/papyrix-stub/internal/slip"
)

func readWithin(t *testing.T, c Conn) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	p, err := c.ReadPacket(ctx)
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	return p
}

func TestPipe_RoundTrip(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	packets := [][]byte{
		{0x00, 0x08, 0x24, 0x00},
		{slip.End, slip.Esc, slip.EscEnd, slip.EscEsc},
		bytes.Repeat([]byte{0xA5}, 0x4000),
	}
	go func() {
		for _, p := range packets {
			if err := a.WritePacket(p); err != nil {
				t.Errorf("WritePacket() error = %v", err)
				return
			}
		}
	}()

	for i, want := range packets {
		if got := readWithin(t, b); !bytes.Equal(got, want) {
			t.Errorf("packet %d = % X, want % X", i, got[:min(len(got), 8)], want[:min(len(want), 8)])
		}
	}
}

func TestStream_ReadPacketContext(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := b.ReadPacket(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("ReadPacket() error = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestStream_Close(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := b.ReadPacket(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("ReadPacket() after Close error = %v, want %v", err, ErrClosed)
	}
	if err := b.WritePacket([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("WritePacket() after Close error = %v, want %v", err, ErrClosed)
	}
}

func TestStream_PeerClosed(t *testing.T) {
	raw, peer := net.Pipe()
	s := NewStream(raw, 0)
	defer s.Close()

	go func() {
		peer.Write(slip.Encode([]byte{0x42}))
		peer.Close()
	}()

	if got := readWithin(t, s); !bytes.Equal(got, []byte{0x42}) {
		t.Errorf("ReadPacket() = % X, want 42", got)
	}
	_, err := s.ReadPacket(context.Background())
	if !errors.Is(err, io.EOF) {
		t.Errorf("ReadPacket() after peer close error = %v, want %v", err, io.EOF)
	}
}

func TestStream_DropsGarbledFrames(t *testing.T) {
	raw, peer := net.Pipe()
	s := NewStream(raw, 16)
	defer s.Close()
	defer peer.Close()

	go func() {
		var buf bytes.Buffer
		buf.Write([]byte("boot banner\r\n"))
		buf.Write([]byte{slip.End, 0x01, slip.Esc, 0x00, 0x02, slip.End})
		buf.Write(slip.Encode(bytes.Repeat([]byte{0x11}, 32)))
		buf.Write(slip.Encode([]byte{0x07, 0x08}))
		peer.Write(buf.Bytes())
	}()

	if got := readWithin(t, s); !bytes.Equal(got, []byte{0x07, 0x08}) {
		t.Errorf("ReadPacket() = % X, want 07 08", got)
	}
	if got := s.Dropped(); got != 2 {
		t.Errorf("Dropped() = %d, want 2", got)
	}
}

type baudPort struct {
	net.Conn
	bauds []int
}

func (p *baudPort) SetBaudRate(baud int) error {
	p.bauds = append(p.bauds, baud)
	return nil
}

func TestStream_SetBaudRate(t *testing.T) {
	raw, peer := net.Pipe()
	defer peer.Close()

	plain := NewStream(raw, 0)
	if err := plain.SetBaudRate(921600); !errors.Is(err, ErrBaudUnsupported) {
		t.Errorf("SetBaudRate() on a plain stream error = %v, want %v", err, ErrBaudUnsupported)
	}
	plain.Close()

	raw2, peer2 := net.Pipe()
	defer peer2.Close()
	port := &baudPort{Conn: raw2}
	s := NewStream(port, 0)
	defer s.Close()

	if err := s.SetBaudRate(921600); err != nil {
		t.Fatalf("SetBaudRate() error = %v", err)
	}
	if len(port.bauds) != 1 || port.bauds[0] != 921600 {
		t.Errorf("port saw bauds %v, want [921600]", port.bauds)
	}
}

func TestWebSocket_RoundTrip(t *testing.T) {
	auth := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth <- r.Header.Get("Authorization")
		ws, err := Upgrade(w, r)
		if err != nil {
			t.Errorf("Upgrade() error = %v", err)
			return
		}
		defer ws.Close()
		for {
			p, err := ws.ReadPacket(context.Background())
			if err != nil {
				return
			}
			if err := ws.WritePacket(append([]byte{0x01}, p...)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := DialWebSocket(ctx, url, DialOptions{Username: "admin", Password: "secret"})
	if err != nil {
		t.Fatalf("DialWebSocket() error = %v", err)
	}
	defer c.Close()

	if err := c.WritePacket([]byte{0x08, 0x24}); err != nil {
		t.Fatalf("WritePacket() error = %v", err)
	}
	if got := readWithin(t, c); !bytes.Equal(got, []byte{0x01, 0x08, 0x24}) {
		t.Errorf("ReadPacket() = % X, want 01 08 24", got)
	}
	if got, want := <-auth, BasicAuth("admin", "secret"); got != want {
		t.Errorf("Authorization = %q, want %q", got, want)
	}
}

func TestWebSocket_SkipsTextMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("hello"))
		conn.WriteMessage(websocket.BinaryMessage, []byte{0xAB})
		conn.ReadMessage()
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, err := DialWebSocket(context.Background(), url, DialOptions{})
	if err != nil {
		t.Fatalf("DialWebSocket() error = %v", err)
	}
	defer c.Close()

	if got := readWithin(t, c); !bytes.Equal(got, []byte{0xAB}) {
		t.Errorf("ReadPacket() = % X, want AB", got)
	}
}

func TestDialWebSocket_BadScheme(t *testing.T) {
	tests := []string{"http://localhost:1234", "tcp://x", "::bad"}
	for _, u := range tests {
		if _, err := DialWebSocket(context.Background(), u, DialOptions{}); err == nil {
			t.Errorf("DialWebSocket(%q) succeeded", u)
		}
	}
}

func TestBasicAuth(t *testing.T) {
	if got, want := BasicAuth("user", "pass"), "Basic dXNlcjpwYXNz"; got != want {
		t.Errorf("BasicAuth() = %q, want %q", got, want)
	}
}
