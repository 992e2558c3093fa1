// Package streaming defines the JSON messages exchanged with world clients
// over the websocket.
package streaming

import (
	"time"

	"github.com/veinworld/worldserver/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	// client to server
	TypeRequestChunk   = "requestChunk"
	TypeUpdateViewport = "updateViewport"

	// server to client
	TypeConnected        = "connected"
	TypeChunkData        = "chunkData"
	TypeChunkError       = "chunkError"
	TypeViewportComplete = "viewportComplete"
	TypeViewportError    = "viewportError"
	TypeError            = "error"
)

// Priorities tag chunk messages by why they were sent.
const (
	PriorityHigh     = "high" // explicit requestChunk
	PriorityViewport = "viewport"
	PriorityLow      = "low" // prefetch ring
)

// Stream phases reported in Progress.
const (
	PhaseViewport = "viewport"
	PhasePrefetch = "prefetch"
)

// Ping and Pong are the plain text keepalive frames.
const (
	Ping = "ping"
	Pong = "pong"
)

func now() int64 {
	return time.Now().UnixMilli()
}

// Envelope holds the fields common to every client message.
type Envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// RequestChunk asks for a single chunk.
type RequestChunk struct {
	Type      string `json:"type"`
	ChunkX    int    `json:"chunkX"`
	ChunkY    int    `json:"chunkY"`
	RequestID string `json:"requestId,omitempty"`
}

// UpdateViewport replaces the set of chunks a client can see. Camera
// coordinates are world units.
type UpdateViewport struct {
	Type          string                 `json:"type"`
	VisibleChunks []core.ChunkCoordinate `json:"visibleChunks"`
	CameraX       *float64               `json:"cameraX,omitempty"`
	CameraY       *float64               `json:"cameraY,omitempty"`
	RequestID     string                 `json:"requestId,omitempty"`
}

// Camera returns the camera position when both axes were sent.
func (u UpdateViewport) Camera() (core.WorldCoordinate, bool) {
	if u.CameraX == nil || u.CameraY == nil {
		return core.WorldCoordinate{}, false
	}
	return core.WorldCoordinate{X: *u.CameraX, Y: *u.CameraY}, true
}

// Connected greets a new connection.
type Connected struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
}

// NewConnected builds the greeting.
func NewConnected(clientID, message string) Connected {
	return Connected{Type: TypeConnected, Message: message, ClientID: clientID, Timestamp: now()}
}

// Progress locates a chunk message within its stream phase.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Phase   string `json:"phase"`
}

// ChunkCells wraps the terrain grid of a chunk.
type ChunkCells struct {
	Cells core.TerrainGrid `json:"cells"`
}

// ChunkData carries one chunk to the client.
type ChunkData struct {
	Type      string              `json:"type"`
	ChunkX    int                 `json:"chunkX"`
	ChunkY    int                 `json:"chunkY"`
	Data      ChunkCells          `json:"data"`
	Resources []core.ResourceVein `json:"resources"`
	Priority  string              `json:"priority"`
	Progress  *Progress           `json:"progress,omitempty"`
	Source    core.Tier           `json:"source,omitempty"`
	RequestID string              `json:"requestId,omitempty"`
	Timestamp int64               `json:"timestamp"`
}

// NewChunkData builds a chunk message. progress may be nil.
func NewChunkData(c *core.ChunkData, source core.Tier, priority string, progress *Progress, requestID string) ChunkData {
	resources := c.Resources
	if resources == nil {
		resources = []core.ResourceVein{}
	}
	return ChunkData{
		Type:      TypeChunkData,
		ChunkX:    c.Coordinate.ChunkX,
		ChunkY:    c.Coordinate.ChunkY,
		Data:      ChunkCells{Cells: c.Terrain},
		Resources: resources,
		Priority:  priority,
		Progress:  progress,
		Source:    source,
		RequestID: requestID,
		Timestamp: now(),
	}
}

// ChunkError reports that one chunk could not be produced.
type ChunkError struct {
	Type      string `json:"type"`
	ChunkX    int    `json:"chunkX"`
	ChunkY    int    `json:"chunkY"`
	Error     string `json:"error"`
	Priority  string `json:"priority"`
	RequestID string `json:"requestId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewChunkError builds a chunk failure message.
func NewChunkError(chunk core.ChunkCoordinate, err error, priority, requestID string) ChunkError {
	return ChunkError{
		Type:      TypeChunkError,
		ChunkX:    chunk.ChunkX,
		ChunkY:    chunk.ChunkY,
		Error:     err.Error(),
		Priority:  priority,
		RequestID: requestID,
		Timestamp: now(),
	}
}

// ViewportComplete ends a viewport stream.
type ViewportComplete struct {
	Type                   string `json:"type"`
	ChunksStreamed         int    `json:"chunksStreamed"`
	PrefetchChunksStreamed int    `json:"prefetchChunksStreamed"`
	FailedChunks           int    `json:"failedChunks"`
	RequestID              string `json:"requestId,omitempty"`
	Timestamp              int64  `json:"timestamp"`
}

// NewViewportComplete builds the completion message.
func NewViewportComplete(viewport, prefetch, failed int, requestID string) ViewportComplete {
	return ViewportComplete{
		Type:                   TypeViewportComplete,
		ChunksStreamed:         viewport,
		PrefetchChunksStreamed: prefetch,
		FailedChunks:           failed,
		RequestID:              requestID,
		Timestamp:              now(),
	}
}

// ViewportError rejects a whole viewport update.
type ViewportError struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewViewportError builds a viewport failure message.
func NewViewportError(err error, requestID string) ViewportError {
	return ViewportError{Type: TypeViewportError, Error: err.Error(), RequestID: requestID, Timestamp: now()}
}

// Error reports a malformed or unknown client message.
type Error struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewError builds a protocol error message.
func NewError(err error, requestID string) Error {
	return Error{Type: TypeError, Error: err.Error(), RequestID: requestID, Timestamp: now()}
}
