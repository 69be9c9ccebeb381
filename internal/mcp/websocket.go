package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSConfig configures a WebSocket MCP transport.
type WSConfig struct {
	// Endpoint is the MCP server URL. http/https schemes are rewritten
	// to ws/wss.
	Endpoint string

	// Logger is the structured logger for transport diagnostics.
	Logger *slog.Logger
}

// WSTransport communicates with an MCP server over a persistent
// WebSocket connection. Requests and responses are JSON text frames.
// There is no id-based multiplexing: a mutex enforces one outstanding
// request, and replies are matched to the request id, skipping any
// server-initiated notification frames that arrive in between.
type WSTransport struct {
	endpoint string
	logger   *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSTransport creates a WebSocket transport for the given config.
// The connection is not dialed until the first Send or Notify call.
func NewWSTransport(cfg WSConfig) *WSTransport {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WSTransport{
		endpoint: cfg.Endpoint,
		logger:   logger,
	}
}

// connect dials the endpoint if no connection is live. Caller must
// hold t.mu.
func (t *WSTransport) connect(ctx context.Context) error {
	if t.conn != nil {
		return nil
	}

	u, err := url.Parse(t.endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint %q: %w", t.endpoint, err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}

	t.logger.Info("dialing MCP websocket", "url", u.String())

	dialer := websocket.Dialer{
		ReadBufferSize:  1024 * 1024, // 1MB for large tool results
		WriteBufferSize: 64 * 1024,
	}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial websocket %s: %w", u.String(), err)
	}

	conn.SetReadLimit(10 << 20) // 10 MiB max message size

	t.conn = conn
	return nil
}

// Send writes a JSON-RPC request frame and waits for the matching
// response frame. A context deadline becomes the connection read/write
// deadline; on timeout the connection is kept (the single-outstanding-
// request discipline means a late reply is simply skipped by the next
// Send's matching loop).
func (t *WSTransport) Send(ctx context.Context, req *Request) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.connect(ctx); err != nil {
		return nil, err
	}

	t.applyDeadline(ctx)

	if err := t.conn.WriteJSON(req); err != nil {
		t.teardown()
		return nil, fmt.Errorf("write websocket frame: %w", err)
	}

	// Read frames until one carries our request id. Notification frames
	// have no id and are skipped.
	for {
		var resp Response
		if err := t.conn.ReadJSON(&resp); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				return nil, context.DeadlineExceeded
			}
			t.teardown()
			return nil, fmt.Errorf("read websocket frame: %w", err)
		}

		if resp.ID == req.ID {
			return &resp, nil
		}

		t.logger.Debug("skipping unmatched websocket frame", "id", resp.ID)
	}
}

// Notify sends a JSON-RPC notification frame. No response is expected.
func (t *WSTransport) Notify(ctx context.Context, notif *Notification) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.connect(ctx); err != nil {
		return err
	}

	t.applyDeadline(ctx)

	if err := t.conn.WriteJSON(notif); err != nil {
		t.teardown()
		return fmt.Errorf("write websocket notification: %w", err)
	}

	return nil
}

// Close sends a close frame and tears down the connection. Idempotent.
func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}

	t.logger.Info("closing MCP websocket", "url", t.endpoint)

	deadline := time.Now().Add(time.Second)
	_ = t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	err := t.conn.Close()
	t.conn = nil
	return err
}

// applyDeadline maps the context deadline onto the connection. Caller
// must hold t.mu with a live connection.
func (t *WSTransport) applyDeadline(ctx context.Context) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = t.conn.SetReadDeadline(deadline)
	_ = t.conn.SetWriteDeadline(deadline)
}

// teardown discards a broken connection so the next call redials.
// Caller must hold t.mu.
func (t *WSTransport) teardown() {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
}
