// Package relay speaks the JSON relay protocol over a websocket: one setup
// frame, then realtime chunks and tool responses out, server events in.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-live/pkg/live/protocol"
)

const (
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 20 * time.Second
	DefaultReadLimit        = 8 << 20
)

var ErrClosed = errors.New("relay: connection closed")

type Config struct {
	URL              string
	APIKey           string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	ReadLimit        int64
}

type Dialer struct {
	cfg    Config
	logger *slog.Logger
	ws     *websocket.Dialer
}

func NewDialer(cfg Config, logger *slog.Logger) *Dialer {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{
		cfg:    cfg,
		logger: logger,
		ws:     &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout, Proxy: http.ProxyFromEnvironment},
	}
}

// Dial opens the socket, sends setup and waits for setup_complete.
func (d *Dialer) Dial(ctx context.Context, setup protocol.SetupConfig) (*Conn, error) {
	if strings.TrimSpace(d.cfg.URL) == "" {
		return nil, errors.New("relay url is required")
	}
	headers := make(http.Header)
	if d.cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d.cfg.HandshakeTimeout)
		defer cancel()
	}

	ws, resp, err := d.ws.DialContext(dialCtx, d.cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("relay dial: %w", err)
	}
	ws.SetReadLimit(d.cfg.ReadLimit)

	// Cancelling ctx during the handshake closes the socket and unblocks the read.
	stop := context.AfterFunc(ctx, func() { _ = ws.Close() })
	if err := d.handshake(ctx, ws, setup); err != nil {
		stop()
		_ = ws.Close()
		return nil, err
	}
	if !stop() {
		return nil, fmt.Errorf("relay handshake: %w", ctx.Err())
	}

	c := &Conn{
		ws:           ws,
		logger:       d.logger.With("session_id", setup.SessionID),
		writeTimeout: d.cfg.WriteTimeout,
		done:         make(chan struct{}),
	}
	ws.SetPongHandler(func(string) error { return nil })
	go c.keepalive(d.cfg.PingInterval)
	return c, nil
}

// handshake sends the setup frame and waits for setup_complete. The caller
// closes ws on error.
func (d *Dialer) handshake(ctx context.Context, ws *websocket.Conn, setup protocol.SetupConfig) error {
	_ = ws.SetWriteDeadline(time.Now().Add(d.cfg.WriteTimeout))
	if err := ws.WriteJSON(protocol.NewClientSetup(setup)); err != nil {
		return handshakeErr(ctx, fmt.Errorf("send setup: %w", err))
	}

	_ = ws.SetReadDeadline(time.Now().Add(d.cfg.HandshakeTimeout))
	messageType, payload, err := ws.ReadMessage()
	if err != nil {
		return handshakeErr(ctx, fmt.Errorf("read setup_complete: %w", err))
	}
	_ = ws.SetReadDeadline(time.Time{})
	if messageType != websocket.TextMessage {
		return fmt.Errorf("unexpected first relay frame type %d", messageType)
	}
	first, err := protocol.DecodeServerMessage(payload)
	if err != nil {
		return err
	}
	switch m := first.(type) {
	case protocol.ServerSetupComplete:
		return nil
	case protocol.ServerError:
		return m
	default:
		return fmt.Errorf("unexpected first relay message %T", first)
	}
}

func handshakeErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("relay handshake: %w", ctxErr)
	}
	return err
}

// Conn is an open relay session. Sends are serialized; Receive must be called
// from a single goroutine.
type Conn struct {
	ws           *websocket.Conn
	logger       *slog.Logger
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (c *Conn) SendAudio(ctx context.Context, chunk protocol.Chunk) error {
	return c.writeJSON(ctx, protocol.NewClientChunk(chunk))
}

func (c *Conn) SendImage(ctx context.Context, chunk protocol.Chunk) error {
	return c.writeJSON(ctx, protocol.NewClientChunk(chunk))
}

func (c *Conn) SendToolResponse(ctx context.Context, r protocol.ToolResponse) error {
	return c.writeJSON(ctx, protocol.NewClientToolResponse(r))
}

func (c *Conn) writeJSON(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteJSON(v)
}

// Receive returns the next server message. Frames that fail to decode are
// logged and skipped. A normal close returns io.EOF; a relay error frame is
// returned as a protocol.ServerError.
func (c *Conn) Receive(ctx context.Context) (protocol.ServerMessage, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return protocol.ServerMessage{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return protocol.ServerMessage{}, io.EOF
			}
			select {
			case <-c.done:
				return protocol.ServerMessage{}, ErrClosed
			default:
			}
			return protocol.ServerMessage{}, fmt.Errorf("relay read: %w", err)
		}
		if messageType != websocket.TextMessage {
			c.logger.Warn("ignoring non-text relay frame", "type", messageType)
			continue
		}

		decoded, err := protocol.DecodeServerMessage(data)
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				c.logger.Warn("dropping undecodable relay frame", "code", de.Code, "param", de.Param, "error", de.Message)
				continue
			}
			return protocol.ServerMessage{}, err
		}
		msg, err := protocol.ToServerMessage(decoded)
		if err != nil {
			var se protocol.ServerError
			if errors.As(err, &se) {
				return protocol.ServerMessage{}, se
			}
			c.logger.Warn("dropping relay frame", "error", err)
			continue
		}
		return msg, nil
	}
}

func (c *Conn) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("relay ping failed", "error", err)
				return
			}
		}
	}
}

// Close sends a close frame and releases the socket. Safe to call repeatedly.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(c.writeTimeout))
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
	return nil
}
