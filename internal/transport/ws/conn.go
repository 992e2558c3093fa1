package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/veinworld/worldserver/internal/channel"
	"github.com/veinworld/worldserver/internal/logging"
	"github.com/veinworld/worldserver/pkg/streaming"
)

// ErrClosed is returned when sending to a closed connection.
var ErrClosed = errors.New("connection closed")

// conn is one client connection. A single write goroutine drains out; every
// other goroutine goes through Send.
type conn struct {
	id      string
	ws      *websocket.Conn
	out     channel.Channel[[]byte]
	limiter *rate.Limiter
	log     *slog.Logger
	cfg     Config

	ctx    context.Context
	cancel context.CancelFunc
}

func newConn(id string, ws *websocket.Conn, cfg Config, logger *slog.Logger) *conn {
	ctx, cancel := context.WithCancel(logging.WithFields(context.Background(), slog.String("client", id)))
	limit := rate.Inf
	if cfg.MessagesPerSecond > 0 {
		limit = rate.Limit(cfg.MessagesPerSecond)
	}
	return &conn{
		id:      id,
		ws:      ws,
		out:     channel.New[[]byte](cfg.SendQueue),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     logger,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// ID returns the client id sent in the greeting.
func (c *conn) ID() string {
	return c.id
}

// Context is cancelled when the connection closes.
func (c *conn) Context() context.Context {
	return c.ctx
}

// Send encodes msg as JSON and queues it. It blocks while the queue is full,
// so a slow client slows its own stream down.
func (c *conn) Send(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %T: %w", msg, err)
	}
	return c.enqueue(ctx, data)
}

func (c *conn) enqueue(ctx context.Context, data []byte) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	if err := c.out.SendContext(ctx, data); err != nil {
		if c.ctx.Err() != nil {
			return ErrClosed
		}
		return err
	}
	return nil
}

// writeLoop writes queued messages until the connection closes or a write
// fails.
func (c *conn) writeLoop() {
	defer c.cancel()
	for {
		select {
		case <-c.ctx.Done():
			return
		case data := <-c.out.Receive():
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
				c.log.WarnContext(c.ctx, "WebSocket SetWriteDeadline error", "error", err)
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.DebugContext(c.ctx, "WebSocket write error", "error", err)
				return
			}
		}
	}
}

// readLoop hands every text message to handle until the client goes away.
// Plain text pings are answered here and bypass the rate limit.
func (c *conn) readLoop(handle func(*conn, []byte)) {
	defer c.cancel()
	c.ws.SetReadLimit(c.cfg.ReadLimit)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.DebugContext(c.ctx, "WebSocket read error", "error", err)
			}
			return
		}
		if string(bytes.TrimSpace(data)) == streaming.Ping {
			_ = c.enqueue(c.ctx, []byte(streaming.Pong))
			continue
		}
		handle(c, data)
	}
}

// close sends a close frame and tears down the socket. Safe to call more
// than once.
func (c *conn) close() {
	c.cancel()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	_ = c.ws.Close()
}
