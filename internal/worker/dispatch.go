package worker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/veinworld/worldserver/internal/dispatcher"
	"github.com/veinworld/worldserver/internal/stream"
	"github.com/veinworld/worldserver/pkg/core"
	"github.com/veinworld/worldserver/pkg/streaming"
)

// CommandDisconnect is dispatched by the transport when a client goes away.
const CommandDisconnect = "disconnect"

// Handlers serves client protocol messages. Each client gets one stream
// session; single chunk requests run beside it.
type Handlers struct {
	sched *stream.Scheduler
	log   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*stream.Session

	requests  sync.WaitGroup
	chunkReqs atomic.Int64
	viewports atomic.Int64
}

// NewHandlers creates protocol handlers streaming from sched.
func NewHandlers(sched *stream.Scheduler, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		sched:    sched,
		log:      logger.With("component", "handlers"),
		sessions: make(map[string]*stream.Session),
	}
}

// RegisterHandlers registers all client message handlers with the dispatcher.
func (h *Handlers) RegisterHandlers(d *dispatcher.Dispatcher) {
	d.Register(streaming.TypeRequestChunk, h.handleRequestChunk, dispatcher.Logged())
	d.Register(streaming.TypeUpdateViewport, h.handleUpdateViewport, dispatcher.Logged())
	d.Register(CommandDisconnect, h.handleDisconnect, dispatcher.Logged())
}

// session returns the stream session of a client, creating it on first use.
func (h *Handlers) session(c dispatcher.Client) *stream.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[c.ID()]
	if !ok {
		s = stream.NewSession(h.sched, c)
		h.sessions[c.ID()] = s
	}
	return s
}

func (h *Handlers) handleRequestChunk(e dispatcher.Event) (any, error) {
	if e.Client == nil {
		return nil, fmt.Errorf("requestChunk without a client")
	}
	var req streaming.RequestChunk
	if err := json.Unmarshal(e.Payload, &req); err != nil {
		return nil, fmt.Errorf("failed to decode requestChunk: %w", err)
	}
	h.chunkReqs.Add(1)

	ctx := e.Client.Context()
	chunk := core.ChunkCoordinate{ChunkX: req.ChunkX, ChunkY: req.ChunkY}
	// generation can be slow; the read loop must not wait for it
	h.requests.Add(1)
	go func() {
		defer h.requests.Done()
		if err := h.sched.SendChunk(ctx, chunk, req.RequestID, e.Client); err != nil {
			h.log.Debug("Chunk reply not delivered", "client", e.Client.ID(), "chunk", chunk.String(), "error", err)
		}
	}()
	return nil, nil
}

func (h *Handlers) handleUpdateViewport(e dispatcher.Event) (any, error) {
	if e.Client == nil {
		return nil, fmt.Errorf("updateViewport without a client")
	}
	var msg streaming.UpdateViewport
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		return nil, fmt.Errorf("failed to decode updateViewport: %w", err)
	}
	h.viewports.Add(1)

	req := stream.Request{Visible: msg.VisibleChunks, RequestID: msg.RequestID}
	if camera, ok := msg.Camera(); ok {
		req.Camera = &camera
	}
	h.session(e.Client).UpdateViewport(e.Client.Context(), req)
	return nil, nil
}

func (h *Handlers) handleDisconnect(e dispatcher.Event) (any, error) {
	if e.Client == nil {
		return nil, nil
	}
	h.mu.Lock()
	s, ok := h.sessions[e.Client.ID()]
	delete(h.sessions, e.Client.ID())
	h.mu.Unlock()
	if ok {
		s.Close()
	}
	return nil, nil
}

// Sessions returns the number of clients with a stream session.
func (h *Handlers) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Streaming returns how many sessions are streaming right now.
func (h *Handlers) Streaming() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, s := range h.sessions {
		if s.Streaming() {
			n++
		}
	}
	return n
}

// Requests returns the number of requestChunk and updateViewport messages
// handled since start.
func (h *Handlers) Requests() (chunks, viewports int64) {
	return h.chunkReqs.Load(), h.viewports.Load()
}

// Wait blocks until pending chunk replies and running streams have returned.
func (h *Handlers) Wait() {
	h.requests.Wait()
	h.mu.Lock()
	sessions := make([]*stream.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()
	for _, s := range sessions {
		s.Wait()
	}
}

// Close cancels every session.
func (h *Handlers) Close() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]*stream.Session)
	h.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
	h.requests.Wait()
}
