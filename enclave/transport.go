package enclave

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ruteri/tee-function-client/interfaces"
)

// Transport dials gateway endpoints. The production implementation is the
// websocket transport; tests substitute their own.
type Transport interface {
	Connect(ctx context.Context, endpoint string, auth interfaces.Auth) (Conn, error)
}

// Conn is one established, message-oriented connection to an enclave.
type Conn interface {
	WriteMessage(ctx context.Context, data []byte) error
	ReadMessage(ctx context.Context) ([]byte, error)
	Close() error
}

// wsTransport dials gateways over websockets. The credential travels in the
// subprotocol list alongside the auth variant, so it is part of the TLS
// handshake and never appears in a URL.
type wsTransport struct {
	handshakeTimeout time.Duration
}

// NewWebsocketTransport creates the production transport.
func NewWebsocketTransport(handshakeTimeout time.Duration) Transport {
	return &wsTransport{handshakeTimeout: handshakeTimeout}
}

func (t *wsTransport) Connect(ctx context.Context, endpoint string, auth interfaces.Auth) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: t.handshakeTimeout,
		Subprotocols:     []string{auth.Protocol(), string(auth.Credential())},
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: %w (status %d)", interfaces.ErrTransport, endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", interfaces.ErrTransport, endpoint, err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) WriteMessage(ctx context.Context, data []byte) error {
	if deadline, ok := ctx.Deadline(); ok {
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return fmt.Errorf("%w: %w", interfaces.ErrTransport, err)
		}
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("%w: write: %w", interfaces.ErrTransport, err)
	}
	return nil
}

func (c *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	deadline := time.Time{}
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrTransport, err)
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: read: %w", interfaces.ErrTransport, err)
	}
	return data, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// websocketEndpoint normalizes a gateway URL to the ws scheme and appends
// the request path.
func websocketEndpoint(gatewayURL, path string) (string, error) {
	u, err := url.Parse(gatewayURL)
	if err != nil {
		return "", fmt.Errorf("invalid gateway URL: %w", err)
	}
	switch u.Scheme {
	case "wss", "ws":
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported gateway URL scheme: %s", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	return u.String(), nil
}
