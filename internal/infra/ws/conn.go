// Package ws is the WebSocket transport for the realtime channel.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vietddude/chainguard/internal/realtime"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteWait        = 10 * time.Second
	defaultPongWait         = 60 * time.Second
	defaultMaxMessageSize   = 1 << 20
)

// Config holds WebSocket dial settings.
type Config struct {
	URL              string
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
	MaxMessageSize   int64
}

// Dialer opens WebSocket connections carrying JSON envelopes.
type Dialer struct {
	cfg    Config
	dialer *websocket.Dialer
}

// NewDialer creates a Dialer, filling zero settings with defaults.
func NewDialer(cfg Config) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}

	return &Dialer{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Dial performs the WebSocket handshake.
func (d *Dialer) Dial(ctx context.Context) (realtime.Conn, error) {
	raw, resp, err := d.dialer.DialContext(ctx, d.cfg.URL, d.cfg.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket handshake with %s failed (HTTP %d): %w", d.cfg.URL, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", d.cfg.URL, err)
	}
	return newConn(raw, d.cfg), nil
}

// Conn is an open WebSocket connection.
type Conn struct {
	ws  *websocket.Conn
	cfg Config

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(raw *websocket.Conn, cfg Config) *Conn {
	c := &Conn{
		ws:   raw,
		cfg:  cfg,
		done: make(chan struct{}),
	}

	raw.SetReadLimit(cfg.MaxMessageSize)
	_ = raw.SetReadDeadline(time.Now().Add(cfg.PongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(cfg.PongWait))
	})

	go c.keepAlive()
	return c
}

// Send writes one envelope as a JSON text frame.
func (c *Conn) Send(env realtime.Envelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
	if err := c.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Receive blocks for the next envelope. Frames that are not valid JSON
// envelopes are skipped.
func (c *Conn) Receive() (realtime.Envelope, error) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return realtime.Envelope{}, err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		var env realtime.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			slog.Debug("Dropping malformed websocket frame", "size", len(data), "error", err)
			continue
		}
		return env, nil
	}
}

// Close sends a close frame and closes the socket.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteWait),
		)

		err = c.ws.Close()
	})
	return err
}

func (c *Conn) keepAlive() {
	ticker := time.NewTicker(c.cfg.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
		}
	}
}
