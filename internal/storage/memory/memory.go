// internal/storage/memory/memory.go
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/veinworld/worldserver/internal/coords"
	"github.com/veinworld/worldserver/internal/storage"
	"github.com/veinworld/worldserver/pkg/core"
)

// Backend keeps chunk blobs and vein records in process memory. Nothing
// survives a restart; it backs tests and throwaway servers.
type Backend struct {
	blobs map[string][]byte          // keyed by BlobKey.String()
	veins map[string]core.VeinRecord // keyed by vein id

	mu sync.RWMutex
}

// New creates a new memory backend
func New() *Backend {
	return &Backend{
		blobs: make(map[string][]byte),
		veins: make(map[string]core.VeinRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// GetBlob returns a copy of the stored payload.
func (b *Backend) GetBlob(_ context.Context, key storage.BlobKey) ([]byte, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	blob, ok := b.blobs[key.String()]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), blob...), true, nil
}

// PutBlob stores a copy of the payload.
func (b *Backend) PutBlob(_ context.Context, key storage.BlobKey, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.blobs[key.String()] = append([]byte(nil), value...)
	return nil
}

// CountInBounds counts records of a world centered in bounds.
func (b *Backend) CountInBounds(_ context.Context, worldID string, bounds coords.Bounds) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var n int64
	for _, r := range b.veins {
		if r.WorldID == worldID && bounds.Contains(r.Center()) {
			n++
		}
	}
	return n, nil
}

// InsertVeins stores records whose id is not known yet.
func (b *Backend) InsertVeins(_ context.Context, records []core.VeinRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, r := range records {
		if _, exists := b.veins[r.ID]; exists {
			continue
		}
		b.veins[r.ID] = r
	}
	return nil
}

// QueryRadius returns records within radius of center, nearest first.
func (b *Backend) QueryRadius(_ context.Context, worldID string, center core.WorldCoordinate, radius float64) ([]core.VeinRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.VeinRecord, 0)
	for _, r := range b.veins {
		if r.WorldID == worldID && coords.Distance(r.Center(), center) <= radius {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di := coords.Distance(out[i].Center(), center)
		dj := coords.Distance(out[j].Center(), center)
		if di != dj {
			return di < dj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// QueryBounds returns records centered in bounds, ordered by id.
func (b *Backend) QueryBounds(_ context.Context, worldID string, bounds coords.Bounds) ([]core.VeinRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]core.VeinRecord, 0)
	for _, r := range b.veins {
		if r.WorldID == worldID && bounds.Contains(r.Center()) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetVein returns one record by id.
func (b *Backend) GetVein(_ context.Context, id string) (core.VeinRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	r, ok := b.veins[id]
	if !ok {
		return core.VeinRecord{}, storage.ErrNotFound
	}
	return r, nil
}

// UpdateExtraction sets the extracted amount of a record.
func (b *Backend) UpdateExtraction(_ context.Context, id string, extracted float64, exhausted bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r, ok := b.veins[id]
	if !ok {
		return storage.ErrNotFound
	}
	r.ExtractedAmount = extracted
	r.IsExhausted = exhausted
	if r.Vein != nil {
		v := *r.Vein
		v.Extraction.TotalExtracted = extracted
		v.RecomputeExtraction()
		r.Vein = &v
	}
	b.veins[id] = r
	return nil
}

// Len reports how many vein records are stored.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.veins)
}
