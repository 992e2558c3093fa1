package chunkstore

import (
	"context"
	"fmt"
	"math"

	"github.com/veinworld/worldserver/internal/coords"
	"github.com/veinworld/worldserver/pkg/core"
)

// ResourcesNear returns the vein records within radius of a point, nearest
// first, backfilling the chunks the circle touches. A partial backfill still
// returns whatever the store holds.
func (s *Store) ResourcesNear(ctx context.Context, x, y, radius float64) ([]core.VeinRecord, BackfillReport, error) {
	if s.deps.Spatial == nil {
		return nil, BackfillReport{}, ErrNoSpatialStore
	}
	if err := coords.AssertValid(x, y); err != nil {
		return nil, BackfillReport{}, err
	}
	if math.IsNaN(radius) || radius < 0 || radius > MaxSearchRadius {
		return nil, BackfillReport{}, fmt.Errorf("%w: %v must be within [0, %v]", ErrInvalidRadius, radius, MaxSearchRadius)
	}

	center := coords.Normalize(x, y)
	chunks := coords.ChunksInRadius(center, radius, s.cfg.ChunkSize)

	report, err := s.EnsureChunksHavePersistedVeins(ctx, chunks)
	if err != nil {
		return nil, report, err
	}

	records, err := s.deps.Spatial.QueryRadius(ctx, s.cfg.WorldID, center, radius)
	if err != nil {
		return nil, report, fmt.Errorf("query veins near %v: %w", center, err)
	}
	return records, report, nil
}

// ApplyExtraction removes up to amount from a vein and stores the new total.
// It returns the updated record and the amount actually taken.
func (s *Store) ApplyExtraction(ctx context.Context, id string, amount float64) (core.VeinRecord, float64, error) {
	if s.deps.Spatial == nil {
		return core.VeinRecord{}, 0, ErrNoSpatialStore
	}

	s.extractMu.Lock()
	defer s.extractMu.Unlock()

	rec, err := s.deps.Spatial.GetVein(ctx, id)
	if err != nil {
		return core.VeinRecord{}, 0, fmt.Errorf("load vein %s: %w", id, err)
	}
	if rec.Vein == nil {
		return core.VeinRecord{}, 0, fmt.Errorf("%w: %s", ErrNoDeposit, id)
	}

	vein := *rec.Vein
	taken, err := vein.ApplyExtraction(amount)
	if err != nil {
		return core.VeinRecord{}, 0, err
	}
	if err := s.deps.Spatial.UpdateExtraction(ctx, id, vein.Extraction.TotalExtracted, vein.IsExhausted()); err != nil {
		return core.VeinRecord{}, 0, fmt.Errorf("store extraction of %s: %w", id, err)
	}

	rec.Vein = &vein
	rec.ExtractedAmount = vein.Extraction.TotalExtracted
	rec.IsExhausted = vein.IsExhausted()
	return rec, taken, nil
}
