package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veinworld/worldserver/internal/dispatcher"
	"github.com/veinworld/worldserver/internal/protocol"
	"github.com/veinworld/worldserver/internal/worker"
	"github.com/veinworld/worldserver/pkg/streaming"
)

type harness struct {
	server       *Server
	http         *httptest.Server
	disconnected chan string

	mu       sync.Mutex
	requests []dispatcher.Event
}

// newHarness wires a server whose requestChunk handler echoes the request id.
func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	d, err := dispatcher.New(slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	v, err := protocol.NewValidator()
	require.NoError(t, err)

	h := &harness{disconnected: make(chan string, 4)}
	d.Register(streaming.TypeRequestChunk, func(e dispatcher.Event) (any, error) {
		h.mu.Lock()
		h.requests = append(h.requests, e)
		h.mu.Unlock()
		return nil, e.Client.Send(e.Client.Context(), streaming.ViewportComplete{
			Type:      streaming.TypeViewportComplete,
			RequestID: e.RequestID,
		})
	})
	d.Register(worker.CommandDisconnect, func(e dispatcher.Event) (any, error) {
		h.disconnected <- e.Client.ID()
		return nil, nil
	})

	h.server, err = NewServer(cfg, Dependencies{Dispatcher: d, Validator: v})
	require.NoError(t, err)
	h.http = httptest.NewServer(h.server)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.server.Shutdown(ctx)
		h.http.Close()
	})
	return h
}

// dial connects and consumes the greeting.
func (h *harness) dial(t *testing.T) (*websocket.Conn, streaming.Connected) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.http.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	var hello streaming.Connected
	readJSON(t, c, &hello)
	return c, hello
}

func readJSON(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, v), string(data))
}

func write(t *testing.T, c *websocket.Conn, msg string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(msg)))
}

func TestServer_Greeting(t *testing.T) {
	h := newHarness(t, Config{})
	_, hello := h.dial(t)

	assert.Equal(t, streaming.TypeConnected, hello.Type)
	assert.NotEmpty(t, hello.ClientID)
	assert.Equal(t, greeting, hello.Message)
	assert.Eventually(t, func() bool { return h.server.Clients() == 1 }, time.Second, 10*time.Millisecond)
}

func TestServer_PingPong(t *testing.T) {
	h := newHarness(t, Config{})
	c, _ := h.dial(t)

	write(t, c, "ping")
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, "pong", string(data))
}

func TestServer_DispatchesValidMessages(t *testing.T) {
	h := newHarness(t, Config{})
	c, hello := h.dial(t)

	write(t, c, `{"type":"requestChunk","chunkX":1,"chunkY":2,"requestId":"r1"}`)
	var reply streaming.ViewportComplete
	readJSON(t, c, &reply)
	assert.Equal(t, "r1", reply.RequestID)

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.requests, 1)
	e := h.requests[0]
	assert.Equal(t, hello.ClientID, e.Client.ID())
	assert.JSONEq(t, `{"type":"requestChunk","chunkX":1,"chunkY":2,"requestId":"r1"}`, string(e.Payload))
}

func TestServer_RejectsInvalidMessages(t *testing.T) {
	h := newHarness(t, Config{})
	c, _ := h.dial(t)

	write(t, c, `not json`)
	var malformed streaming.Error
	readJSON(t, c, &malformed)
	assert.Equal(t, streaming.TypeError, malformed.Type)
	assert.Contains(t, malformed.Error, "malformed")

	write(t, c, `{"type":"teleport","requestId":"r2"}`)
	var unknown streaming.Error
	readJSON(t, c, &unknown)
	assert.Equal(t, "r2", unknown.RequestID)
	assert.Contains(t, unknown.Error, "unknown message type")

	// a registered type without a handler is a dispatch error
	write(t, c, `{"type":"updateViewport","visibleChunks":[],"requestId":"r3"}`)
	var unhandled streaming.Error
	readJSON(t, c, &unhandled)
	assert.Equal(t, "r3", unhandled.RequestID)
	assert.Contains(t, unhandled.Error, "unknown command")
}

func TestServer_RateLimit(t *testing.T) {
	h := newHarness(t, Config{MessagesPerSecond: 0.001, Burst: 1})
	c, _ := h.dial(t)

	write(t, c, `{"type":"requestChunk","chunkX":0,"chunkY":0,"requestId":"a"}`)
	write(t, c, `{"type":"requestChunk","chunkX":0,"chunkY":0,"requestId":"b"}`)

	var first streaming.ViewportComplete
	readJSON(t, c, &first)
	assert.Equal(t, "a", first.RequestID)

	var limited streaming.Error
	readJSON(t, c, &limited)
	assert.Equal(t, streaming.TypeError, limited.Type)
	assert.Equal(t, ErrRateLimited.Error(), limited.Error)

	// pings are not counted
	write(t, c, "ping")
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "pong", string(data))
}

func TestServer_DisconnectIsDispatched(t *testing.T) {
	h := newHarness(t, Config{})
	c, hello := h.dial(t)

	require.NoError(t, c.Close())
	select {
	case id := <-h.disconnected:
		assert.Equal(t, hello.ClientID, id)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not dispatched")
	}
	assert.Eventually(t, func() bool { return h.server.Clients() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_ReadLimitClosesConnection(t *testing.T) {
	h := newHarness(t, Config{ReadLimit: 64})
	c, _ := h.dial(t)

	write(t, c, `{"type":"updateViewport","visibleChunks":[`+strings.Repeat(`{"chunkX":0,"chunkY":0},`, 10)+`{"chunkX":0,"chunkY":0}]}`)
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.ReadMessage()
	assert.Error(t, err)

	select {
	case <-h.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect not dispatched")
	}
}

func TestServer_ShutdownClosesClients(t *testing.T) {
	h := newHarness(t, Config{})
	c, _ := h.dial(t)
	require.Eventually(t, func() bool { return h.server.Clients() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.server.Shutdown(ctx))
	assert.Zero(t, h.server.Clients())

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := c.ReadMessage()
	assert.Error(t, err)
}

func TestNewServer_RequiresCollaborators(t *testing.T) {
	_, err := NewServer(Config{}, Dependencies{})
	assert.Error(t, err)
}
