// Package chunkstore serves chunks from the hot cache, the cold store or the
// generator, in that order, and lazily persists vein records for spatial
// queries.
package chunkstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/veinworld/worldserver/internal/cache"
	"github.com/veinworld/worldserver/internal/coords"
	"github.com/veinworld/worldserver/internal/storage"
	"github.com/veinworld/worldserver/internal/worker"
	"github.com/veinworld/worldserver/pkg/core"
)

var (
	// ErrGeneration wraps failures of the chunk generator.
	ErrGeneration = errors.New("chunk generation failed")
	// ErrPersistence wraps cache and cold tier write failures. They are
	// logged and counted, never returned from a read.
	ErrPersistence = errors.New("chunk persistence failed")
	// ErrBackfill is returned when a backfill pass was cut short.
	ErrBackfill = errors.New("vein backfill failed")
	// ErrNoSpatialStore is returned by spatial operations on a store
	// running without a record store.
	ErrNoSpatialStore = errors.New("no spatial record store configured")
	// ErrInvalidRadius rejects negative, non-finite or oversized radii.
	ErrInvalidRadius = errors.New("invalid search radius")
	// ErrNoDeposit is returned when extracting from a record that carries no
	// deposit data.
	ErrNoDeposit = errors.New("vein record has no deposit data")
)

const (
	DefaultCacheTTL      = time.Hour
	DefaultMaxConcurrent = 5
	DefaultBatchSize     = 3
	// MaxSearchRadius bounds ResourcesNear so one query cannot backfill an
	// unbounded number of chunks.
	MaxSearchRadius = 512.0
)

// Config holds the store settings.
type Config struct {
	WorldID   string
	ChunkSize int
	CacheTTL  time.Duration
	// MaxConcurrent caps simultaneous backfill generations.
	MaxConcurrent int64
	// BatchSize is the number of vein records per insert.
	BatchSize int
}

// Dependencies are the injected tiers. Cache, Cold and Spatial are optional;
// without Cache and Cold the store generates every read.
type Dependencies struct {
	Cache      storage.CacheTier
	Cold       storage.ColdTier
	Spatial    storage.SpatialStore
	Generator  Generator
	Background *worker.Background
	Logger     *slog.Logger
}

// Store is the tiered chunk store. It is safe for concurrent use.
type Store struct {
	cfg  Config
	deps Dependencies
	log  *slog.Logger

	flight    singleflight.Group
	sem       *semaphore.Weighted
	// flight keys of chunks known to hold no veins, bounded and expiring
	empty *cache.ChunkCache
	// flight keys of chunks whose backfill stopped after a partial insert
	incomplete sync.Map
	extractMu sync.Mutex

	metrics *metrics
}

// New creates a store. Zero config values take the defaults.
func New(cfg Config, deps Dependencies) (*Store, error) {
	if deps.Generator == nil {
		return nil, errors.New("chunkstore: generator is required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = coords.DefaultChunkSize
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Background == nil {
		deps.Background = worker.NewBackground(deps.Logger, nil, 30*time.Second)
	}

	m, err := newMetrics()
	if err != nil {
		return nil, err
	}

	s := &Store{
		cfg:     cfg,
		deps:    deps,
		log:     deps.Logger.With("component", "chunkstore", "worldId", cfg.WorldID),
		sem:     semaphore.NewWeighted(cfg.MaxConcurrent),
		empty:   cache.New(maxEmptyChunks),
		metrics: m,
	}
	if deps.Cache == nil && deps.Cold == nil {
		s.log.Warn("No cache or cold tier configured, chunks are generated on every read")
	}
	return s, nil
}

// Config returns the effective settings.
func (s *Store) Config() Config {
	return s.cfg
}

// Background returns the runner used for write-back.
func (s *Store) Background() *worker.Background {
	return s.deps.Background
}

// Stats returns the counters since start.
func (s *Store) Stats() Stats {
	return s.metrics.snapshot()
}

// CacheKey is the hot tier key of a chunk.
func CacheKey(worldID string, chunk core.ChunkCoordinate) string {
	return fmt.Sprintf("chunks:%s:%d:%d", worldID, chunk.ChunkX, chunk.ChunkY)
}

func (s *Store) blobKey(chunk core.ChunkCoordinate) storage.BlobKey {
	return storage.BlobKey{WorldID: s.cfg.WorldID, ChunkX: chunk.ChunkX, ChunkY: chunk.ChunkY}
}

// GetChunk returns a chunk and the tier that answered. Only coordinate and
// generation errors are returned; tier failures degrade to the next tier.
func (s *Store) GetChunk(ctx context.Context, chunkX, chunkY int) (*core.ChunkData, core.Tier, error) {
	chunk := core.ChunkCoordinate{ChunkX: chunkX, ChunkY: chunkY}
	if err := coords.AssertValidChunk(chunk, s.cfg.ChunkSize); err != nil {
		return nil, "", err
	}

	if data, ok := s.fromCache(ctx, chunk); ok {
		s.metrics.hit(ctx, core.TierCache)
		return data, core.TierCache, nil
	}

	if data, ok := s.fromCold(ctx, chunk); ok {
		s.metrics.hit(ctx, core.TierCold)
		s.fillCache(ctx, chunk, data.Clone())
		return data, core.TierCold, nil
	}

	data, err := s.generate(chunk)
	if err != nil {
		return nil, "", err
	}
	s.metrics.hit(ctx, core.TierGenerated)
	s.fillCache(ctx, chunk, data.Clone())
	s.writeCold(ctx, chunk, data.Clone())
	return data, core.TierGenerated, nil
}

func (s *Store) fromCache(ctx context.Context, chunk core.ChunkCoordinate) (*core.ChunkData, bool) {
	if s.deps.Cache == nil {
		return nil, false
	}
	raw, ok, err := s.deps.Cache.Get(ctx, CacheKey(s.cfg.WorldID, chunk))
	if err != nil {
		s.log.Warn("Cache read failed", "chunk", chunk.String(), "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var data core.ChunkData
	if err := json.Unmarshal(raw, &data); err != nil {
		s.log.Warn("Discarding unreadable cache entry", "chunk", chunk.String(), "error", err)
		return nil, false
	}
	return &data, true
}

func (s *Store) fromCold(ctx context.Context, chunk core.ChunkCoordinate) (*core.ChunkData, bool) {
	if s.deps.Cold == nil {
		return nil, false
	}
	blob, ok, err := s.deps.Cold.GetBlob(ctx, s.blobKey(chunk))
	if err != nil {
		s.log.Warn("Cold tier read failed", "chunk", chunk.String(), "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	data, err := storage.DecodeChunk(blob)
	if err != nil {
		s.log.Warn("Discarding unreadable cold blob", "chunk", chunk.String(), "error", err)
		return nil, false
	}
	return data, true
}

func (s *Store) generate(chunk core.ChunkCoordinate) (data *core.ChunkData, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("%w: chunk %s: %v", ErrGeneration, chunk, r)
		}
	}()
	data, err = s.deps.Generator.Chunk(chunk)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %s: %w", ErrGeneration, chunk, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: chunk %s: generator returned no data", ErrGeneration, chunk)
	}
	return data, nil
}

// fillCache writes the chunk to the hot tier in the background.
func (s *Store) fillCache(ctx context.Context, chunk core.ChunkCoordinate, data *core.ChunkData) {
	if s.deps.Cache == nil {
		return
	}
	s.deps.Background.Go(ctx, "cache fill "+chunk.String(), func(ctx context.Context) error {
		raw, err := json.Marshal(data)
		if err == nil {
			err = s.deps.Cache.Set(ctx, CacheKey(s.cfg.WorldID, chunk), raw, s.cfg.CacheTTL)
		}
		if err != nil {
			s.metrics.persistFailure(ctx, "cache")
			return fmt.Errorf("%w: cache %s: %w", ErrPersistence, chunk, err)
		}
		return nil
	})
}

// writeCold writes the chunk to the cold tier in the background.
func (s *Store) writeCold(ctx context.Context, chunk core.ChunkCoordinate, data *core.ChunkData) {
	if s.deps.Cold == nil {
		return
	}
	s.deps.Background.Go(ctx, "cold write "+chunk.String(), func(ctx context.Context) error {
		blob, err := storage.EncodeChunk(data)
		if err == nil {
			err = s.deps.Cold.PutBlob(ctx, s.blobKey(chunk), blob)
		}
		if err != nil {
			s.metrics.persistFailure(ctx, "cold")
			return fmt.Errorf("%w: cold %s: %w", ErrPersistence, chunk, err)
		}
		return nil
	})
}
