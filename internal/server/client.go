// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/Tyrowin/teamchat/internal/realtime"
)

// Client is one WebSocket subscription to a channel. It implements
// realtime.Conn: the registry enqueues frames with Send and the write pump
// drains them onto the socket.
type Client struct {
	id           uuid.UUID
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	registry     *realtime.Registry
	channelID    realtime.ChannelID
	subscriberID realtime.SubscriberID
	name         string
	addr         string
	cfg          ClientConfig
	clock        clockwork.Clock
	rateLimiter  *rateLimiter
	logger       *slog.Logger
}

var _ realtime.Conn = (*Client)(nil)

// ClientOptions carries the identity and dependencies of a new Client.
type ClientOptions struct {
	Registry     *realtime.Registry
	ChannelID    realtime.ChannelID
	SubscriberID realtime.SubscriberID
	Name         string
	Addr         string
	Config       ClientConfig
	Clock        clockwork.Clock
	Logger       *slog.Logger
}

// NewClient creates a new Client for an upgraded connection. The client's
// send channel is buffered to absorb bursts from the registry.
func NewClient(conn *websocket.Conn, opts ClientOptions) *Client {
	cfg := sanitizeClientConfig(opts.Config)
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.New()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:           id,
		conn:         conn,
		send:         make(chan []byte, cfg.SendBuffer),
		done:         make(chan struct{}),
		registry:     opts.Registry,
		channelID:    opts.ChannelID,
		subscriberID: opts.SubscriberID,
		name:         opts.Name,
		addr:         opts.Addr,
		cfg:          cfg,
		clock:        clock,
		rateLimiter:  newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval, clock),
		logger: logger.With(
			"conn_id", id.String(),
			"channel_id", opts.ChannelID,
			"subscriber_id", opts.SubscriberID,
			"remote_addr", opts.Addr),
	}
}

// ID returns the connection id used in logs.
func (c *Client) ID() uuid.UUID {
	return c.id
}

// Send enqueues payload for the write pump without blocking. A client whose
// buffer is full is too slow to keep up and is reported dead.
func (c *Client) Send(_ context.Context, payload []byte) realtime.SendResult {
	select {
	case <-c.done:
		return realtime.Fatal(errClientClosed)
	default:
	}

	select {
	case c.send <- payload:
		return realtime.Delivered()
	default:
		return realtime.Fatal(errSendBufferFull)
	}
}

// Close stops the write pump and closes the socket. It is safe to call more
// than once and from any goroutine.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn == nil {
			return
		}
		deadline := time.Now().Add(c.cfg.WriteWait)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		err = c.conn.Close()
	})
	if isExpectedCloseError(err) {
		return nil
	}
	return err
}

// Run registers the client, serves it until the connection ends or ctx is
// done, and always unregisters it before returning.
func (c *Client) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()

	c.registry.Connect(ctx, c.channelID, c.subscriberID, c)
	c.readPump(ctx)
	wg.Wait()
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
		c.logger.Debug("Error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)); err != nil {
			c.logger.Debug("Error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// handleReadError logs the reason the read loop is ending.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Info("Message exceeded maximum size", "max_bytes", c.cfg.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("Client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("Client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err):
		c.logger.Warn("Unexpected WebSocket close", "error", err)
	default:
		c.logger.Warn("WebSocket read error", "error", err)
	}
}

// checkRateLimit reports whether the next inbound frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter.allow() {
		return true
	}
	c.logger.Debug("Rate limit exceeded; discarding frame",
		"burst", c.cfg.RateLimit.Burst,
		"interval", c.cfg.RateLimit.RefillInterval)
	return false
}

// processMessage decodes one inbound frame and acts on it. Unusable frames are
// dropped without affecting the connection.
func (c *Client) processMessage(ctx context.Context, raw []byte) {
	switch frame := realtime.DecodeInbound(raw).(type) {
	case realtime.PingFrame:
		c.reply(ctx, realtime.PongFrame{})
	case realtime.TypingSignal:
		c.registry.RelayTyping(ctx, c.channelID, c.subscriberID, c.name)
	case realtime.IgnoredFrame:
		c.logger.Debug("Ignoring inbound frame", "reason", frame.Reason)
	}
}

func (c *Client) reply(ctx context.Context, f realtime.OutboundFrame) {
	payload, err := realtime.EncodeFrame(f)
	if err != nil {
		c.logger.Error("Failed to encode reply", "type", f.FrameType(), "error", err)
		return
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.WriteWait)
	defer cancel()
	if res := c.Send(sendCtx, payload); res.Status != realtime.SendOK {
		c.logger.Debug("Failed to queue reply", "type", f.FrameType(), "error", res.Err)
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.registry.Disconnect(c.channelID, c.subscriberID, c)
		if err := c.Close(); err != nil {
			c.logger.Debug("Error closing connection in readPump", "error", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(ctx, raw)
	}
}

func (c *Client) writePump() {
	ticker := c.clock.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.Close(); err != nil {
			c.logger.Debug("Error closing connection in writePump", "error", err)
		}
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker clockwork.Ticker) bool {
	select {
	case message := <-c.send:
		return c.writeTextMessage(message)
	case <-ticker.Chan():
		return c.handlePing()
	case <-c.done:
		return false
	}
}

// writeTextMessage writes one frame to the socket.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.logger.Debug("Error setting write deadline", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing message", "error", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		c.logger.Debug("Error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing ping message", "error", err)
		}
		return false
	}
	return true
}
