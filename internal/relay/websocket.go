package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by operations on a closed transport
var ErrClosed = errors.New("transport is closed")

const writeTimeout = 10 * time.Second

// WebSocketTransport implements Transport over a websocket connection
type WebSocketTransport struct {
	url    string
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	mu      sync.Mutex
	closed  bool
}

// Dial connects to the relay at url
func Dial(ctx context.Context, url string, logger *slog.Logger) (*WebSocketTransport, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}

	logger.Info("connected to relay", "url", url)
	return &WebSocketTransport{
		url:    url,
		conn:   conn,
		logger: logger,
	}, nil
}

// URL returns the relay address
func (t *WebSocketTransport) URL() string {
	return t.url
}

// ReadFrame blocks until the next text frame arrives. Cancelling ctx
// closes the connection so the blocked read returns.
func (t *WebSocketTransport) ReadFrame(ctx context.Context) ([]byte, error) {
	if t.isClosed() {
		return nil, ErrClosed
	}

	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}
		if kind != websocket.TextMessage {
			t.logger.Debug("ignoring non-text websocket message", "type", kind)
			continue
		}
		return data, nil
	}
}

// WriteFrame sends frame as a text message
func (t *WebSocketTransport) WriteFrame(ctx context.Context, frame []byte) error {
	if t.isClosed() {
		return ErrClosed
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// Close disconnects from the relay. It is safe to call more than once.
func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	t.writeMu.Lock()
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	t.writeMu.Unlock()

	err := t.conn.Close()
	t.logger.Info("closed relay connection", "url", t.url)
	return err
}

func (t *WebSocketTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
