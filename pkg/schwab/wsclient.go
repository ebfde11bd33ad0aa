package schwab

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

// WSClient is one streamer connection. Writes are serialized; reads must come
// from a single goroutine.
type WSClient struct {
	url    string
	conn   *websocket.Conn
	mu     sync.Mutex // guards writes
	logger *zap.Logger
}

// DialWS opens a WebSocket connection to url.
func DialWS(ctx context.Context, url string, logger *zap.Logger) (*WSClient, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		Proxy:            websocket.DefaultDialer.Proxy,
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	logger.Info("WebSocket connected", zap.String("url", url))

	return &WSClient{url: url, conn: conn, logger: logger}, nil
}

// Send writes one frame carrying reqs.
func (c *WSClient) Send(reqs ...Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(RequestEnvelope{Requests: reqs}); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage blocks for the next text frame until deadline.
func (c *WSClient) ReadMessage(deadline time.Time) ([]byte, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	_, msg, err := c.conn.ReadMessage()
	return msg, err
}

// Close sends a close frame when possible and tears down the connection.
// Safe to call from any goroutine; it unblocks a pending ReadMessage.
func (c *WSClient) Close() error {
	c.mu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	c.logger.Debug("WebSocket closed", zap.String("url", c.url))
	return c.conn.Close()
}
