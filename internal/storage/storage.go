// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/veinworld/worldserver/internal/coords"
	"github.com/veinworld/worldserver/pkg/core"
)

// ErrNotFound is returned when a record addressed by id does not exist.
var ErrNotFound = errors.New("record not found")

// BlobKey addresses a chunk payload in the cold tier.
type BlobKey struct {
	WorldID string
	ChunkX  int
	ChunkY  int
}

// String is the cold store key {worldId}:{chunkX}:{chunkY}.
func (k BlobKey) String() string {
	return fmt.Sprintf("%s:%d:%d", k.WorldID, k.ChunkX, k.ChunkY)
}

// CacheTier is the hot, TTL-bounded chunk cache. A miss is (nil, false, nil).
type CacheTier interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ColdTier is the durable chunk store. A miss is (nil, false, nil).
type ColdTier interface {
	GetBlob(ctx context.Context, key BlobKey) ([]byte, bool, error)
	PutBlob(ctx context.Context, key BlobKey, value []byte) error
}

// SpatialStore holds one record per resource vein.
type SpatialStore interface {
	// CountInBounds counts records whose center lies in b.
	CountInBounds(ctx context.Context, worldID string, b coords.Bounds) (int64, error)
	// InsertVeins stores records, ignoring ids that already exist.
	InsertVeins(ctx context.Context, records []core.VeinRecord) error
	// QueryRadius returns records whose center is within radius of center,
	// nearest first.
	QueryRadius(ctx context.Context, worldID string, center core.WorldCoordinate, radius float64) ([]core.VeinRecord, error)
	// QueryBounds returns records whose center lies in b.
	QueryBounds(ctx context.Context, worldID string, b coords.Bounds) ([]core.VeinRecord, error)
	// GetVein returns one record; ErrNotFound when the id is unknown.
	GetVein(ctx context.Context, id string) (core.VeinRecord, error)
	// UpdateExtraction sets the extracted amount of a record.
	UpdateExtraction(ctx context.Context, id string, extracted float64, exhausted bool) error
}

// Backend is the interface all storage implementations must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	ColdTier
	SpatialStore
}
