package chunkstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veinworld/worldserver/internal/cache"
	"github.com/veinworld/worldserver/internal/coords"
	"github.com/veinworld/worldserver/internal/noise"
	"github.com/veinworld/worldserver/internal/resource"
	"github.com/veinworld/worldserver/internal/storage"
	"github.com/veinworld/worldserver/internal/storage/memory"
	"github.com/veinworld/worldserver/internal/terrain"
	"github.com/veinworld/worldserver/pkg/core"
)

func area(minX, minY, maxX, maxY int) []core.ChunkCoordinate {
	var out []core.ChunkCoordinate
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			out = append(out, core.ChunkCoordinate{ChunkX: x, ChunkY: y})
		}
	}
	return out
}

func TestBackfill_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	chunks := area(0, 0, 2, 1)
	f.gen.empty[core.ChunkCoordinate{ChunkX: 2, ChunkY: 1}] = true

	report, err := f.store.EnsureChunksHavePersistedVeins(ctx, chunks)
	require.NoError(t, err)
	assert.Equal(t, BackfillReport{Checked: 6, Generated: 5, Veins: 5}, report)
	assert.Equal(t, 5, f.cold.Len())

	report, err = f.store.EnsureChunksHavePersistedVeins(ctx, chunks)
	require.NoError(t, err)
	assert.Equal(t, BackfillReport{Checked: 6}, report)
	assert.Equal(t, 5, f.cold.Len())

	for _, c := range chunks {
		assert.Equal(t, 1, f.gen.veinCount(c), "chunk %s generated more than once", c)
	}
}

func TestBackfill_DuplicateChunksInOneCall(t *testing.T) {
	f := newFixture(t)
	c := core.ChunkCoordinate{ChunkX: 1, ChunkY: 1}

	report, err := f.store.EnsureChunksHavePersistedVeins(context.Background(), []core.ChunkCoordinate{c, c, c})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, f.gen.veinCount(c))
}

func TestBackfill_ConcurrentCallersShareWork(t *testing.T) {
	f := newFixture(t)
	chunks := area(-2, -2, 2, 2)

	var wg sync.WaitGroup
	var mu sync.Mutex
	generated := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			report, err := f.store.EnsureChunksHavePersistedVeins(context.Background(), chunks)
			assert.NoError(t, err)
			mu.Lock()
			generated += report.Generated
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, len(chunks), generated, "each chunk is generated by exactly one caller")
	assert.Equal(t, len(chunks), f.cold.Len())
	for _, c := range chunks {
		assert.Equal(t, 1, f.gen.veinCount(c))
	}
	assert.Equal(t, int64(len(chunks)), f.store.Stats().BackfillGenerated)
}

func TestBackfill_FailuresAreSkipped(t *testing.T) {
	f := newFixture(t)
	bad := core.ChunkCoordinate{ChunkX: 1, ChunkY: 0}
	f.gen.fail[bad] = true

	report, err := f.store.EnsureChunksHavePersistedVeins(context.Background(), area(0, 0, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 2, report.Generated)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, int64(1), f.store.Stats().BackfillFailed)
}

// flakySpatial fails inserts while failing is set, and the failAt-th insert
// call when failAt is positive.
type flakySpatial struct {
	*memory.Backend
	mu      sync.Mutex
	failing bool
	failAt  int
	batches []int
}

func (s *flakySpatial) InsertVeins(ctx context.Context, records []core.VeinRecord) error {
	s.mu.Lock()
	s.batches = append(s.batches, len(records))
	failing := s.failing || len(s.batches) == s.failAt
	s.mu.Unlock()
	if failing {
		return errors.New("pool exhausted")
	}
	return s.Backend.InsertVeins(ctx, records)
}

func TestBackfill_InsertFailureIsRetriedNextCall(t *testing.T) {
	spatial := &flakySpatial{Backend: memory.New(), failing: true}
	gen := newFakeGenerator()
	s, err := New(Config{WorldID: testWorld}, Dependencies{Spatial: spatial, Generator: gen})
	require.NoError(t, err)
	chunks := []core.ChunkCoordinate{{ChunkX: 0, ChunkY: 0}}

	report, err := s.EnsureChunksHavePersistedVeins(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	spatial.failing = false
	report, err = s.EnsureChunksHavePersistedVeins(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Generated)
	assert.Equal(t, 1, spatial.Len())
}

// manyVeins places n veins along the bottom edge of every chunk.
type manyVeins struct {
	*fakeGenerator
	n int
}

func (g manyVeins) Veins(chunk core.ChunkCoordinate) ([]core.ResourceVein, error) {
	g.mu.Lock()
	g.veinCalls[chunk]++
	g.mu.Unlock()

	origin := coords.ChunkOrigin(chunk, coords.DefaultChunkSize)
	out := make([]core.ResourceVein, g.n)
	for i := range out {
		out[i] = core.ResourceVein{
			ID:       fmt.Sprintf("v:%d:%d:%d", chunk.ChunkX, chunk.ChunkY, i),
			Type:     "iron",
			Location: coords.ToFull(origin.X+1+float64(i), origin.Y+1, coords.DefaultChunkSize),
			Deposit:  core.VeinDeposit{Size: 100, Richness: 0.5, Depth: 1},
		}
		out[i].RecomputeExtraction()
	}
	return out, nil
}

func TestBackfill_PartialInsertIsCompletedNextCall(t *testing.T) {
	spatial := &flakySpatial{Backend: memory.New(), failAt: 2}
	gen := manyVeins{fakeGenerator: newFakeGenerator(), n: 5}
	s, err := New(Config{WorldID: testWorld, BatchSize: 3}, Dependencies{Spatial: spatial, Generator: gen})
	require.NoError(t, err)
	chunks := []core.ChunkCoordinate{{ChunkX: 3, ChunkY: -2}}

	report, err := s.EnsureChunksHavePersistedVeins(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	require.Equal(t, 3, spatial.Len(), "first batch landed before the failure")

	report, err = s.EnsureChunksHavePersistedVeins(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Generated)
	assert.Equal(t, 5, spatial.Len())
	assert.Equal(t, 2, gen.veinCount(chunks[0]))

	// complete now, so a third call leaves it alone
	report, err = s.EnsureChunksHavePersistedVeins(context.Background(), chunks)
	require.NoError(t, err)
	assert.Zero(t, report.Generated)
	assert.Equal(t, 2, gen.veinCount(chunks[0]))
}

// gatedSpatial holds every count until release is closed.
type gatedSpatial struct {
	*memory.Backend
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedSpatial) CountInBounds(ctx context.Context, worldID string, bounds coords.Bounds) (int64, error) {
	s.once.Do(func() { close(s.entered) })
	<-s.release
	return s.Backend.CountInBounds(ctx, worldID, bounds)
}

func TestBackfill_CancelledCallerDoesNotFailOthers(t *testing.T) {
	spatial := &gatedSpatial{Backend: memory.New(), entered: make(chan struct{}), release: make(chan struct{})}
	gen := newFakeGenerator()
	s, err := New(Config{WorldID: testWorld}, Dependencies{Spatial: spatial, Generator: gen})
	require.NoError(t, err)
	chunks := []core.ChunkCoordinate{{ChunkX: -4, ChunkY: 9}}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.EnsureChunksHavePersistedVeins(first, chunks)
		firstErr <- err
	}()
	<-spatial.entered

	type result struct {
		report BackfillReport
		err    error
	}
	second := make(chan result, 1)
	go func() {
		report, err := s.EnsureChunksHavePersistedVeins(context.Background(), chunks)
		second <- result{report, err}
	}()

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(spatial.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Zero(t, res.report.Failed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting caller did not return")
	}

	assert.Eventually(t, func() bool { return spatial.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, gen.veinCount(chunks[0]))
}

func TestBackfill_EmptyChunkMemoryIsBounded(t *testing.T) {
	f := newFixture(t)
	f.store.empty = cache.New(2)
	chunks := area(0, 0, 3, 0)
	for _, c := range chunks {
		f.gen.empty[c] = true
	}

	_, err := f.store.EnsureChunksHavePersistedVeins(context.Background(), chunks)
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.empty.Len())

	// a remembered chunk is not generated again
	last := area(3, 0, 3, 0)
	before := f.gen.veinCount(last[0])
	if _, ok, _ := f.store.empty.Get(context.Background(), f.store.flightKey(last[0])); ok {
		_, err = f.store.EnsureChunksHavePersistedVeins(context.Background(), last)
		require.NoError(t, err)
		assert.Equal(t, before, f.gen.veinCount(last[0]))
	}
	assert.LessOrEqual(t, f.store.empty.Len(), 2)
}

func TestBackfill_EmptyChunkMemoryExpires(t *testing.T) {
	f := newFixture(t)
	f.store.cfg.CacheTTL = time.Millisecond
	c := core.ChunkCoordinate{ChunkX: 7, ChunkY: 7}
	f.gen.empty[c] = true

	_, err := f.store.EnsureChunksHavePersistedVeins(context.Background(), []core.ChunkCoordinate{c})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = f.store.EnsureChunksHavePersistedVeins(context.Background(), []core.ChunkCoordinate{c})
	require.NoError(t, err)
	assert.Equal(t, 2, f.gen.veinCount(c))
	assert.Equal(t, 1, f.store.empty.Len())
}

func TestBackfill_InsertsInBatches(t *testing.T) {
	spatial := &flakySpatial{Backend: memory.New()}
	s, err := New(Config{WorldID: testWorld, BatchSize: 3}, Dependencies{Spatial: spatial, Generator: newProcedural(t)})
	require.NoError(t, err)

	report, err := s.EnsureChunksHavePersistedVeins(context.Background(), area(0, 0, 3, 3))
	require.NoError(t, err)
	require.Positive(t, report.Veins)
	assert.Equal(t, report.Veins, spatial.Len())
	for _, n := range spatial.batches {
		assert.LessOrEqual(t, n, 3)
	}
}

func TestBackfill_CancelledContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.store.EnsureChunksHavePersistedVeins(ctx, area(0, 0, 1, 1))
	assert.ErrorIs(t, err, ErrBackfill)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackfill_NoSpatialStore(t *testing.T) {
	s, err := New(Config{}, Dependencies{Generator: newFakeGenerator()})
	require.NoError(t, err)
	report, err := s.EnsureChunksHavePersistedVeins(context.Background(), area(0, 0, 1, 1))
	require.NoError(t, err)
	assert.Zero(t, report)

	_, _, err = s.ResourcesNear(context.Background(), 0, 0, 5)
	assert.ErrorIs(t, err, ErrNoSpatialStore)
}

func newProcedural(t *testing.T) *Procedural {
	t.Helper()
	catalog, err := resource.DefaultCatalog()
	require.NoError(t, err)
	field := terrain.NewField(noise.New(1337))
	cfg := resource.DefaultConfig()
	cfg.WorldID = testWorld
	return NewProcedural(field, resource.NewGenerator(cfg, field, catalog))
}

func TestResourcesNear_Procedural(t *testing.T) {
	spatial := memory.New()
	s, err := New(Config{WorldID: testWorld}, Dependencies{Spatial: spatial, Generator: newProcedural(t)})
	require.NoError(t, err)
	ctx := context.Background()
	center := core.WorldCoordinate{X: 10, Y: -10}

	got, report, err := s.ResourcesNear(ctx, center.X, center.Y, 40)
	require.NoError(t, err)
	assert.Equal(t, len(coords.ChunksInRadius(center, 40, 16)), report.Checked)
	require.NotEmpty(t, got)

	prev := -1.0
	for _, r := range got {
		d := coords.Distance(r.Center(), center)
		assert.LessOrEqual(t, d, 40.0)
		assert.GreaterOrEqual(t, d, prev)
		prev = d
		assert.LessOrEqual(t, r.Radius, core.MaxVeinRadius)
	}

	// the second query generates nothing new
	again, report, err := s.ResourcesNear(ctx, center.X, center.Y, 40)
	require.NoError(t, err)
	assert.Zero(t, report.Generated)
	assert.Equal(t, len(got), len(again))
}

func TestResourcesNear_MatchesChunkPayload(t *testing.T) {
	spatial := memory.New()
	s, err := New(Config{WorldID: testWorld}, Dependencies{Spatial: spatial, Generator: newProcedural(t)})
	require.NoError(t, err)
	ctx := context.Background()

	chunk := core.ChunkCoordinate{ChunkX: 1, ChunkY: 1}
	data, _, err := s.GetChunk(ctx, 1, 1)
	require.NoError(t, err)
	_, err = s.EnsureChunksHavePersistedVeins(ctx, []core.ChunkCoordinate{chunk})
	require.NoError(t, err)

	records, err := spatial.QueryBounds(ctx, testWorld, coords.ChunkBounds(chunk, 16))
	require.NoError(t, err)
	require.Len(t, records, len(data.Resources))
	ids := map[string]bool{}
	for _, v := range data.Resources {
		ids[v.ID] = true
	}
	for _, r := range records {
		assert.True(t, ids[r.ID], "record %s not in chunk payload", r.ID)
	}
}

func TestResourcesNear_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.store.ResourcesNear(ctx, 2_000_000, 0, 5)
	assert.ErrorIs(t, err, coords.ErrCoordinateOutOfRange)

	for _, r := range []float64{-1, MaxSearchRadius + 1} {
		_, _, err = f.store.ResourcesNear(ctx, 0, 0, r)
		assert.ErrorIs(t, err, ErrInvalidRadius)
	}
}

func TestApplyExtraction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.EnsureChunksHavePersistedVeins(ctx, []core.ChunkCoordinate{{}})
	require.NoError(t, err)

	rec, taken, err := f.store.ApplyExtraction(ctx, "v:0:0", 30)
	require.NoError(t, err)
	assert.Equal(t, 30.0, taken)
	assert.Equal(t, 30.0, rec.ExtractedAmount)
	assert.Equal(t, 70.0, rec.Vein.Extraction.RemainingReserves)
	assert.False(t, rec.IsExhausted)

	rec, taken, err = f.store.ApplyExtraction(ctx, "v:0:0", 500)
	require.NoError(t, err)
	assert.Equal(t, 70.0, taken)
	assert.True(t, rec.IsExhausted)

	stored, err := f.cold.GetVein(ctx, "v:0:0")
	require.NoError(t, err)
	assert.Equal(t, 100.0, stored.ExtractedAmount)
	assert.True(t, stored.IsExhausted)

	_, _, err = f.store.ApplyExtraction(ctx, "v:0:0", -1)
	assert.ErrorIs(t, err, core.ErrInvalidExtraction)
	_, _, err = f.store.ApplyExtraction(ctx, "missing", 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestApplyExtraction_NoDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.cold.InsertVeins(ctx, []core.VeinRecord{{ID: "bare", WorldID: testWorld}}))

	_, _, err := f.store.ApplyExtraction(ctx, "bare", 1)
	assert.ErrorIs(t, err, ErrNoDeposit)
}
