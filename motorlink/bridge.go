package motorlink

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrBridgeClosed is returned when reading from a bridge whose socket has failed.
var ErrBridgeClosed = errors.New("motorlink: bridge connection closed")

// BridgeTransport carries the motor controller byte stream over a websocket,
// for controllers exposed by a serial-to-network bridge. Text and binary
// messages are both treated as raw bytes.
type BridgeTransport struct {
	url  string
	conn *websocket.Conn

	// Read is only called from the receive loop; buf needs no lock.
	buf    []byte
	off    int
	failed bool

	closeOnce sync.Once
	closeErr  error
}

// OpenBridge dials a ws:// or wss:// serial bridge.
func OpenBridge(ctx context.Context, rawURL string, timeout time.Duration) (*BridgeTransport, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("bridge url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("bridge url: unsupported scheme %q (use ws:// or wss://)", u.Scheme)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("open bridge %s (HTTP %d): %w", rawURL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("open bridge %s: %w", rawURL, err)
	}
	return &BridgeTransport{url: rawURL, conn: conn}, nil
}

func (b *BridgeTransport) Read(p []byte) (int, error) {
	if b.failed {
		return 0, ErrBridgeClosed
	}
	if b.off < len(b.buf) {
		n := copy(p, b.buf[b.off:])
		b.off += n
		return n, nil
	}
	for {
		mt, data, err := b.conn.ReadMessage()
		if err != nil {
			b.failed = true
			return 0, err
		}
		if mt != websocket.BinaryMessage && mt != websocket.TextMessage {
			continue
		}
		b.buf = data
		n := copy(p, data)
		b.off = n
		return n, nil
	}
}

// Write sends p as one binary message. Callers serialize writes.
func (b *BridgeTransport) Write(p []byte) (int, error) {
	if err := b.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (b *BridgeTransport) Close() error {
	b.closeOnce.Do(func() {
		b.closeErr = b.conn.Close()
	})
	return b.closeErr
}

func (b *BridgeTransport) String() string {
	return "bridge " + b.url
}
