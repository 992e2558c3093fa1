package stream

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/veinworld/worldserver/pkg/streaming"
)

// State is the stream state of a session.
type State int32

const (
	StateIdle State = iota
	StateStreamingViewport
	StateStreamingPrefetch
	StateComplete
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreamingViewport:
		return "streamingViewport"
	case StateStreamingPrefetch:
		return "streamingPrefetch"
	case StateComplete:
		return "complete"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Session runs the viewport streams of one client. A new update supersedes
// the running one: the old stream is cancelled and has stopped sending before
// the new one starts.
type Session struct {
	sched *Scheduler
	sink  Sink

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	state   atomic.Int32
	streams atomic.Int64
}

// NewSession binds a client sink to a scheduler.
func NewSession(sched *Scheduler, sink Sink) *Session {
	return &Session{sched: sched, sink: sink}
}

// State returns the state of the latest stream.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Streams returns how many viewport updates the session has started.
func (s *Session) Streams() int64 {
	return s.streams.Load()
}

// Streaming reports whether a stream is in progress.
func (s *Session) Streaming() bool {
	st := s.State()
	return st == StateStreamingViewport || st == StateStreamingPrefetch
}

// stopLocked cancels the running stream and waits for it to return.
func (s *Session) stopLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel, s.done = nil, nil
}

// UpdateViewport starts streaming req in the background. ctx bounds the
// stream, typically the connection context.
func (s *Session) UpdateViewport(ctx context.Context, req Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.stopLocked()

	streamCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	s.streams.Add(1)
	s.state.Store(int32(StateIdle))

	go func() {
		defer close(done)
		defer cancel()

		track := func(st State) { s.state.Store(int32(st)) }
		_, err := s.sched.stream(streamCtx, req, s.sink, track)
		switch {
		case err == nil:
		case streamCtx.Err() != nil:
			track(StateCancelled)
		case errors.Is(err, ErrTooManyChunks), errors.Is(err, ErrViewportTooWide):
			track(StateComplete)
			_ = s.sink.Send(streamCtx, streaming.NewViewportError(err, req.RequestID))
		default:
			// the sink failed; the client is gone
			track(StateCancelled)
		}
	}()
}

// Wait blocks until the current stream, if any, has returned.
func (s *Session) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Close cancels the running stream and rejects further updates.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopLocked()
}
