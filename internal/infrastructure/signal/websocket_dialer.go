package signal

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// TokenSource returns a bearer token for the relay, or "" for none.
type TokenSource func() (string, error)

type WebSocketDialer struct {
	url          string
	tokens       TokenSource
	dialer       *websocket.Dialer
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *zap.SugaredLogger
}

func NewWebSocketDialer(url string, tokens TokenSource, pingInterval time.Duration, logger *zap.SugaredLogger) *WebSocketDialer {
	return &WebSocketDialer{
		url:          url,
		tokens:       tokens,
		dialer:       &websocket.Dialer{HandshakeTimeout: 10 * time.Second, ReadBufferSize: 4096, WriteBufferSize: 4096},
		pingInterval: pingInterval,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

func (d *WebSocketDialer) Mode() domain.TransportMode {
	return domain.TransportWebSocket
}

func (d *WebSocketDialer) Dial(ctx context.Context) (ports.TransportConn, error) {
	header, err := bearerHeader(d.tokens)
	if err != nil {
		return nil, err
	}

	conn, resp, err := d.dialer.DialContext(ctx, d.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s: %w (status %d)", d.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", d.url, err)
	}

	wc := &wsConn{
		conn:         conn,
		writeTimeout: d.writeTimeout,
		done:         make(chan struct{}),
	}
	if d.pingInterval > 0 {
		go wc.keepalive(d.pingInterval, d.logger)
	}
	return wc, nil
}

func bearerHeader(tokens TokenSource) (http.Header, error) {
	header := http.Header{}
	if tokens == nil {
		return header, nil
	}
	token, err := tokens()
	if err != nil {
		return nil, fmt.Errorf("relay token: %w", err)
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return header, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	done         chan struct{}
}

func (c *wsConn) Send(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Receive blocks on the socket; Close unblocks it.
func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) keepalive(interval time.Duration, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				logger.Debugw("websocket ping failed", "error", err)
				return
			}
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
