// Package stream orders and delivers chunks for a client viewport: the
// visible chunks first, nearest to the camera first, then a one-chunk
// prefetch ring at low priority.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"

	"github.com/veinworld/worldserver/internal/coords"
	"github.com/veinworld/worldserver/pkg/core"
	"github.com/veinworld/worldserver/pkg/streaming"
)

// DefaultMaxVisible bounds the visible set of a single update.
const DefaultMaxVisible = 1024

var (
	// ErrTooManyChunks rejects an oversized viewport update.
	ErrTooManyChunks = errors.New("too many visible chunks")
	// ErrViewportTooWide rejects visible chunks spread so far apart that the
	// prefetch rectangle around them would be unbounded.
	ErrViewportTooWide = errors.New("visible chunks too far apart")
)

// ChunkSource fetches a chunk through the storage tiers.
type ChunkSource interface {
	GetChunk(ctx context.Context, chunkX, chunkY int) (*core.ChunkData, core.Tier, error)
}

// Sink delivers messages to one client. An error means the client is gone.
type Sink interface {
	Send(ctx context.Context, msg any) error
}

// Request is one viewport update.
type Request struct {
	Visible   []core.ChunkCoordinate
	Camera    *core.WorldCoordinate // world units; nil uses the viewport centroid
	RequestID string
}

// Result counts what a stream delivered.
type Result struct {
	ViewportStreamed int
	PrefetchStreamed int
	Failed           int
}

// Config holds scheduler settings.
type Config struct {
	ChunkSize  int
	CellSize   int
	MaxVisible int
}

// ChunkWorldSize converts camera positions to chunk space.
func (c Config) ChunkWorldSize() float64 {
	return float64(c.ChunkSize * c.CellSize)
}

// Scheduler streams viewport updates. It holds no per-client state and is
// safe for concurrent use.
type Scheduler struct {
	cfg    Config
	source ChunkSource
	log    *slog.Logger
	yield  func()
}

// NewScheduler creates a scheduler reading from source.
func NewScheduler(cfg Config, source ChunkSource, logger *slog.Logger) *Scheduler {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = coords.DefaultChunkSize
	}
	if cfg.CellSize <= 0 {
		cfg.CellSize = coords.DefaultCellSize
	}
	if cfg.MaxVisible <= 0 {
		cfg.MaxVisible = DefaultMaxVisible
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		source: source,
		log:    logger.With("component", "stream"),
		yield:  runtime.Gosched,
	}
}

// Config returns the effective settings.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Source returns the chunk source.
func (s *Scheduler) Source() ChunkSource {
	return s.source
}

// PrefetchRing returns the chunks of the bounding rectangle of visible grown
// by one chunk on every side, minus the visible chunks. Rows run bottom to
// top, columns left to right. The cost is the rectangle's area; Plan bounds
// it before calling.
func PrefetchRing(visible []core.ChunkCoordinate) []core.ChunkCoordinate {
	if len(visible) == 0 {
		return nil
	}
	in := make(map[core.ChunkCoordinate]struct{}, len(visible))
	minX, minY := visible[0].ChunkX, visible[0].ChunkY
	maxX, maxY := minX, minY
	for _, c := range visible {
		in[c] = struct{}{}
		minX, maxX = min(minX, c.ChunkX), max(maxX, c.ChunkX)
		minY, maxY = min(minY, c.ChunkY), max(maxY, c.ChunkY)
	}

	var ring []core.ChunkCoordinate
	for y := minY - 1; y <= maxY+1; y++ {
		for x := minX - 1; x <= maxX+1; x++ {
			c := core.ChunkCoordinate{ChunkX: x, ChunkY: y}
			if _, ok := in[c]; !ok {
				ring = append(ring, c)
			}
		}
	}
	return ring
}

// SortByDistance orders chunks by distance from a camera given in world
// units, nearest first. Ties keep row-major order.
func SortByDistance(chunks []core.ChunkCoordinate, camera core.WorldCoordinate, chunkWorldSize float64) {
	cx, cy := camera.X/chunkWorldSize, camera.Y/chunkWorldSize
	dist := func(c core.ChunkCoordinate) float64 {
		return math.Hypot(float64(c.ChunkX)-cx, float64(c.ChunkY)-cy)
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		di, dj := dist(chunks[i]), dist(chunks[j])
		if di != dj {
			return di < dj
		}
		if chunks[i].ChunkY != chunks[j].ChunkY {
			return chunks[i].ChunkY < chunks[j].ChunkY
		}
		return chunks[i].ChunkX < chunks[j].ChunkX
	})
}

// centroid is the world position of the middle of the visible chunks.
func centroid(visible []core.ChunkCoordinate, chunkWorldSize float64) core.WorldCoordinate {
	if len(visible) == 0 {
		return core.WorldCoordinate{}
	}
	var sx, sy float64
	for _, c := range visible {
		sx += float64(c.ChunkX)
		sy += float64(c.ChunkY)
	}
	n := float64(len(visible))
	return core.WorldCoordinate{X: sx / n * chunkWorldSize, Y: sy / n * chunkWorldSize}
}

func dedupe(chunks []core.ChunkCoordinate) []core.ChunkCoordinate {
	seen := make(map[core.ChunkCoordinate]struct{}, len(chunks))
	out := make([]core.ChunkCoordinate, 0, len(chunks))
	for _, c := range chunks {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// maxPlanArea bounds the grown bounding rectangle of a viewport. A compact
// viewport of MaxVisible chunks in any reasonable aspect fits.
func (s *Scheduler) maxPlanArea() int64 {
	return 4*int64(s.cfg.MaxVisible) + 16
}

// planArea is the area of the bounding rectangle of chunks grown by one
// chunk on every side.
func planArea(chunks []core.ChunkCoordinate) int64 {
	if len(chunks) == 0 {
		return 0
	}
	minX, minY := chunks[0].ChunkX, chunks[0].ChunkY
	maxX, maxY := minX, minY
	for _, c := range chunks {
		minX, maxX = min(minX, c.ChunkX), max(maxX, c.ChunkX)
		minY, maxY = min(minY, c.ChunkY), max(maxY, c.ChunkY)
	}
	w := float64(maxX) - float64(minX) + 3
	h := float64(maxY) - float64(minY) + 3
	area := w * h
	if area > math.MaxInt64/2 {
		return math.MaxInt64 / 2
	}
	return int64(area)
}

// Plan returns the viewport and prefetch lists in delivery order. Visible
// chunks outside the world are kept in the viewport, where they are answered
// with a chunkError, but take no part in the prefetch ring.
func (s *Scheduler) Plan(req Request) (viewport, prefetch []core.ChunkCoordinate, err error) {
	if len(req.Visible) > s.cfg.MaxVisible {
		return nil, nil, fmt.Errorf("%w: %d exceeds %d", ErrTooManyChunks, len(req.Visible), s.cfg.MaxVisible)
	}
	size := s.cfg.ChunkWorldSize()
	viewport = dedupe(req.Visible)

	inWorld := make([]core.ChunkCoordinate, 0, len(viewport))
	for _, c := range viewport {
		if coords.AssertValidChunk(c, s.cfg.ChunkSize) == nil {
			inWorld = append(inWorld, c)
		}
	}
	if area, limit := planArea(inWorld), s.maxPlanArea(); area > limit {
		return nil, nil, fmt.Errorf("%w: bounding area %d exceeds %d", ErrViewportTooWide, area, limit)
	}

	camera := centroid(viewport, size)
	if req.Camera != nil {
		camera = *req.Camera
	}

	for _, c := range PrefetchRing(inWorld) {
		// the ring is speculative; chunks past the world edge are dropped
		if coords.AssertValidChunk(c, s.cfg.ChunkSize) == nil {
			prefetch = append(prefetch, c)
		}
	}

	SortByDistance(viewport, camera, size)
	SortByDistance(prefetch, camera, size)
	return viewport, prefetch, nil
}

// Stream delivers a viewport update to sink. It returns early with the
// context error when ctx is cancelled or the sink fails; no completion message
// is sent in that case.
func (s *Scheduler) Stream(ctx context.Context, req Request, sink Sink) (Result, error) {
	return s.stream(ctx, req, sink, func(State) {})
}

func (s *Scheduler) stream(ctx context.Context, req Request, sink Sink, track func(State)) (Result, error) {
	var res Result
	viewport, prefetch, err := s.Plan(req)
	if err != nil {
		return res, err
	}
	phases := []struct {
		state    State
		name     string
		priority string
		chunks   []core.ChunkCoordinate
		streamed *int
	}{
		{StateStreamingViewport, streaming.PhaseViewport, streaming.PriorityViewport, viewport, &res.ViewportStreamed},
		{StateStreamingPrefetch, streaming.PhasePrefetch, streaming.PriorityLow, prefetch, &res.PrefetchStreamed},
	}

	for _, p := range phases {
		if len(p.chunks) == 0 {
			continue
		}
		track(p.state)
		for i, c := range p.chunks {
			if err := ctx.Err(); err != nil {
				return res, err
			}

			msg, ok := s.fetch(ctx, c, p.priority, &streaming.Progress{Current: i + 1, Total: len(p.chunks), Phase: p.name}, req.RequestID)
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if err := sink.Send(ctx, msg); err != nil {
				return res, err
			}
			if ok {
				*p.streamed++
			} else {
				res.Failed++
			}

			// let other connections run between chunks
			s.yield()
		}
	}

	track(StateComplete)
	if err := sink.Send(ctx, streaming.NewViewportComplete(res.ViewportStreamed, res.PrefetchStreamed, res.Failed, req.RequestID)); err != nil {
		return res, err
	}
	return res, nil
}

// fetch returns a chunkData message, or a chunkError message and false.
func (s *Scheduler) fetch(ctx context.Context, c core.ChunkCoordinate, priority string, progress *streaming.Progress, requestID string) (any, bool) {
	data, tier, err := s.source.GetChunk(ctx, c.ChunkX, c.ChunkY)
	if err != nil {
		s.log.Warn("Chunk failed", "chunk", c.String(), "priority", priority, "error", err)
		return streaming.NewChunkError(c, err, priority, requestID), false
	}
	return streaming.NewChunkData(data, tier, priority, progress, requestID), true
}

// SendChunk delivers a single chunk at high priority.
func (s *Scheduler) SendChunk(ctx context.Context, chunk core.ChunkCoordinate, requestID string, sink Sink) error {
	msg, _ := s.fetch(ctx, chunk, streaming.PriorityHigh, nil, requestID)
	return sink.Send(ctx, msg)
}
