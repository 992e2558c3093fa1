// Package ws serves the chunk streaming protocol over websockets.
package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/veinworld/worldserver/internal/dispatcher"
	"github.com/veinworld/worldserver/internal/protocol"
	"github.com/veinworld/worldserver/internal/worker"
	"github.com/veinworld/worldserver/pkg/streaming"
)

const (
	DefaultReadLimit         = 64 * 1024
	DefaultSendQueue         = 256
	DefaultMessagesPerSecond = 20
	DefaultBurst             = 40
	DefaultWriteWait         = 10 * time.Second

	greeting = "Connected to world server"
)

// ErrRateLimited is sent to clients that exceed their message budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config holds per-connection limits.
type Config struct {
	ReadLimit         int64
	SendQueue         int
	MessagesPerSecond float64 // zero or less disables the limit
	Burst             int
	WriteWait         time.Duration
	AllowedOrigins    []string // empty allows any origin
}

func (c *Config) applyDefaults() {
	if c.ReadLimit <= 0 {
		c.ReadLimit = DefaultReadLimit
	}
	if c.SendQueue <= 0 {
		c.SendQueue = DefaultSendQueue
	}
	if c.Burst <= 0 {
		c.Burst = DefaultBurst
	}
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
}

// Dependencies holds the collaborators of a Server.
type Dependencies struct {
	Dispatcher *dispatcher.Dispatcher
	Validator  *protocol.Validator
	Logger     *slog.Logger
}

// Server upgrades HTTP requests and runs one read and one write goroutine per
// connection. Validated messages go to the dispatcher; the client itself is
// the reply channel.
type Server struct {
	cfg      Config
	deps     Dependencies
	log      *slog.Logger
	upgrader websocket.Upgrader
	metrics  *metrics

	mu      sync.Mutex
	conns   map[string]*conn
	closing bool
	wg      sync.WaitGroup
}

// NewServer creates a websocket server.
func NewServer(cfg Config, deps Dependencies) (*Server, error) {
	if deps.Dispatcher == nil || deps.Validator == nil {
		return nil, errors.New("ws server needs a dispatcher and a validator")
	}
	cfg.applyDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m, err := newMetrics()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     logger.With("component", "ws"),
		metrics: m,
		conns:   make(map[string]*conn),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, r.Header.Get("Origin"))
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		s.log.Debug("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(uuid.NewString(), wsConn, s.cfg, s.log)
	if !s.track(c) {
		c.close()
		return
	}
	defer s.untrack(c)

	ctx := context.Background()
	s.metrics.connections.Add(ctx, 1)
	defer s.metrics.connections.Add(ctx, -1)
	s.log.InfoContext(c.ctx, "Client connected", "remote", r.RemoteAddr)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()
	// a failed write ends the connection; unblock the reader
	stop := context.AfterFunc(c.ctx, c.close)
	defer stop()

	if err := c.Send(c.ctx, streaming.NewConnected(c.id, greeting)); err != nil {
		s.log.DebugContext(c.ctx, "Greeting not delivered", "error", err)
	}
	c.readLoop(s.handle)

	c.close()
	<-writerDone
	if s.deps.Dispatcher.HasHandler(worker.CommandDisconnect) {
		if _, err := s.deps.Dispatcher.Dispatch(dispatcher.Event{Command: worker.CommandDisconnect, Client: c}); err != nil {
			s.log.WarnContext(c.ctx, "Disconnect not dispatched", "error", err)
		}
	}
	s.log.InfoContext(c.ctx, "Client disconnected")
}

// handle validates one client message and dispatches it. Failures are
// answered with an error message.
func (s *Server) handle(c *conn, data []byte) {
	if !c.limiter.Allow() {
		s.metrics.reject("rate")
		s.reply(c, streaming.NewError(ErrRateLimited, ""))
		return
	}

	msg, err := s.deps.Validator.Decode(data)
	if err != nil {
		s.metrics.reject("invalid")
		s.reply(c, streaming.NewError(err, msg.RequestID))
		return
	}
	s.metrics.received.Add(context.Background(), 1, metric.WithAttributes(attribute.String("type", msg.Type)))

	_, err = s.deps.Dispatcher.Dispatch(dispatcher.Event{
		Command:   msg.Type,
		RequestID: msg.RequestID,
		Payload:   msg.Raw,
		Client:    c,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.metrics.reject("dispatch")
		s.reply(c, streaming.NewError(err, msg.RequestID))
	}
}

func (s *Server) reply(c *conn, msg any) {
	if err := c.Send(c.ctx, msg); err != nil && !errors.Is(err, ErrClosed) {
		s.log.WarnContext(c.ctx, "Reply not delivered", "error", err)
	}
}

func (s *Server) track(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[c.id] = c
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.wg.Done()
}

// Clients returns the number of open connections.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown closes every connection and waits for their handlers to return or
// for ctx to end. New connections are refused afterwards.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("closing %d websocket connections: %w", len(conns), ctx.Err())
	}
}
