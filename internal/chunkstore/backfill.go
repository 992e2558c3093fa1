package chunkstore

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/veinworld/worldserver/internal/coords"
	"github.com/veinworld/worldserver/pkg/core"
)

// BackfillReport counts the outcome of one backfill pass.
type BackfillReport struct {
	Checked   int `json:"checked"`
	Generated int `json:"generated"`
	Failed    int `json:"failed"`
	// Veins is the number of records inserted by this pass.
	Veins int `json:"veins"`
}

func (s *Store) flightKey(chunk core.ChunkCoordinate) string {
	return fmt.Sprintf("%s:%d:%d", s.cfg.WorldID, chunk.ChunkX, chunk.ChunkY)
}

// EnsureChunksHavePersistedVeins makes sure every chunk has its veins in the
// spatial store. A chunk that already holds a record is left alone. Concurrent
// callers for the same chunk share one generation. Failures are logged and
// counted; an error is only returned when ctx ends the pass early.
func (s *Store) EnsureChunksHavePersistedVeins(ctx context.Context, chunks []core.ChunkCoordinate) (BackfillReport, error) {
	var report BackfillReport
	if s.deps.Spatial == nil || len(chunks) == 0 {
		return report, nil
	}

	seen := make(map[core.ChunkCoordinate]struct{}, len(chunks))
	var mu sync.Mutex
	g := new(errgroup.Group)
	for _, c := range chunks {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}

		g.Go(func() error {
			generated, n, err := s.backfillOne(ctx, c)

			mu.Lock()
			defer mu.Unlock()
			report.Checked++
			switch {
			case err != nil:
				report.Failed++
				s.log.Warn("Vein backfill failed", "chunk", c.String(), "error", err)
			case generated:
				report.Generated++
				report.Veins += n
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("%w: %w", ErrBackfill, err)
	}
	return report, nil
}

// maxEmptyChunks bounds how many vein-less chunks are remembered.
const maxEmptyChunks = 1 << 16

// backfillOne joins or starts the generation for one chunk. The shared work
// runs detached from every caller, so a caller that leaves neither cancels
// the writes nor fails the callers still waiting. generated is true only for
// the caller whose call started the work.
func (s *Store) backfillOne(ctx context.Context, chunk core.ChunkCoordinate) (generated bool, inserted int, err error) {
	if err := ctx.Err(); err != nil {
		return false, 0, err
	}
	work := context.WithoutCancel(ctx)
	ran := false
	ch := s.flight.DoChan(s.flightKey(chunk), func() (any, error) {
		ran = true
		n, err := s.backfillChunk(work, chunk)
		s.metrics.backfill(work, n > 0, err != nil)
		return n, err
	})

	select {
	case <-ctx.Done():
		return false, 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return false, 0, res.Err
		}
		n, _ := res.Val.(int)
		return ran && n > 0, n, nil
	}
}

// backfillChunk persists the veins of one chunk unless the spatial store
// already holds them. A chunk left half written by an earlier failure is
// generated again; inserts ignore records that already exist.
func (s *Store) backfillChunk(ctx context.Context, chunk core.ChunkCoordinate) (int, error) {
	key := s.flightKey(chunk)
	if _, empty, _ := s.empty.Get(ctx, key); empty {
		return 0, nil
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer s.sem.Release(1)

	_, partial := s.incomplete.Load(key)
	if !partial {
		n, err := s.deps.Spatial.CountInBounds(ctx, s.cfg.WorldID, coords.ChunkBounds(chunk, s.cfg.ChunkSize))
		if err != nil {
			return 0, fmt.Errorf("count veins: %w", err)
		}
		if n > 0 {
			return 0, nil
		}
	}

	veins, err := s.generateVeins(chunk)
	if err != nil {
		return 0, err
	}
	if len(veins) == 0 {
		_ = s.empty.Set(ctx, key, nil, s.cfg.CacheTTL)
		return 0, nil
	}

	records := make([]core.VeinRecord, len(veins))
	for i := range veins {
		records[i] = veins[i].Record(s.cfg.WorldID)
	}

	inserted := 0
	for start := 0; start < len(records); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(records))
		if err := s.deps.Spatial.InsertVeins(ctx, records[start:end]); err != nil {
			if inserted > 0 || partial {
				s.incomplete.Store(key, struct{}{})
			}
			return inserted, fmt.Errorf("insert veins %d-%d of %d: %w", start, end, len(records), err)
		}
		inserted = end
	}
	s.incomplete.Delete(key)
	s.log.Debug("Backfilled veins", "chunk", chunk.String(), "veins", inserted)
	return inserted, nil
}

func (s *Store) generateVeins(chunk core.ChunkCoordinate) (veins []core.ResourceVein, err error) {
	defer func() {
		if r := recover(); r != nil {
			veins, err = nil, fmt.Errorf("%w: veins of chunk %s: %v", ErrGeneration, chunk, r)
		}
	}()
	veins, err = s.deps.Generator.Veins(chunk)
	if err != nil {
		return nil, fmt.Errorf("%w: veins of chunk %s: %w", ErrGeneration, chunk, err)
	}
	return veins, nil
}
