package gormstorage

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veinworld/worldserver/internal/coords"
	"github.com/veinworld/worldserver/internal/database"
	"github.com/veinworld/worldserver/internal/model"
	"github.com/veinworld/worldserver/internal/storage"
	"github.com/veinworld/worldserver/pkg/core"
	"gorm.io/gorm"
)

// Compile-time interface check
var _ storage.Backend = (*Backend)(nil)

var testWorld = model.WorldInfo{WorldID: "w", Seed: 1337, ChunkSize: 16, CellSize: 32}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b := New(Dependencies{DB: openTestDB(t), World: testWorld})
	require.NoError(t, b.Init())
	return b
}

func record(id string, x, y float64) core.VeinRecord {
	return core.VeinRecord{ID: id, WorldID: "w", ResourceType: "iron", CenterX: x, CenterY: y, Quality: "common"}
}

func TestInit_NoDB(t *testing.T) {
	b := New(Dependencies{})
	assert.Error(t, b.Init())
}

func TestInit_WorldMismatch(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, New(Dependencies{DB: db, World: testWorld}).Init())

	// same parameters again is fine
	require.NoError(t, New(Dependencies{DB: db, World: testWorld}).Init())

	other := testWorld
	other.Seed = 7
	err := New(Dependencies{DB: db, World: other}).Init()
	assert.ErrorIs(t, err, database.ErrWorldMismatch)
}

func TestBlob_RoundTripAndUpsert(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	key := storage.BlobKey{WorldID: "w", ChunkX: -3, ChunkY: 4}

	_, ok, err := b.GetBlob(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.PutBlob(ctx, key, []byte("first")))
	require.NoError(t, b.PutBlob(ctx, key, []byte("second")))

	got, ok, err := b.GetBlob(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", string(got))

	var count int64
	require.NoError(t, b.DB().Model(&model.ChunkBlob{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var row model.ChunkBlob
	require.NoError(t, b.DB().Take(&row).Error)
	assert.Equal(t, storage.BlobEncoding, row.Encoding)
	assert.Equal(t, -3, row.ChunkX)
	assert.Equal(t, 4, row.ChunkY)
}

func TestInsertVeins_Idempotent(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	bounds := coords.ChunkBounds(core.ChunkCoordinate{}, 16)

	batch := []core.VeinRecord{record("a", 1, 1), record("b", 2, 2)}
	require.NoError(t, b.InsertVeins(ctx, batch))
	require.NoError(t, b.InsertVeins(ctx, batch))
	require.NoError(t, b.InsertVeins(ctx, nil))

	n, err := b.CountInBounds(ctx, "w", bounds)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = b.CountInBounds(ctx, "other", bounds)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Positive(t, b.GetLastDBWriteDuration())
}

func TestQueryRadius_NearestFirst(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.InsertVeins(ctx, []core.VeinRecord{
		record("far", 9, 0),
		record("near", 1, 0),
		record("corner", 8, 8), // inside the envelope, outside the circle
		record("mid", 0, -5),
	}))

	got, err := b.QueryRadius(ctx, "w", core.WorldCoordinate{}, 10)
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, r := range got {
		ids[i] = r.ID
	}
	assert.Equal(t, []string{"near", "mid", "far"}, ids)
}

func TestQueryBounds_RestoresVein(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	vein := core.ResourceVein{
		ID:       "v1",
		Type:     "gold",
		Location: coords.ToFull(3.5, 7.25, 16),
		Deposit:  core.VeinDeposit{Size: 400, Richness: 0.8, Depth: 2},
	}
	vein.RecomputeExtraction()
	require.NoError(t, b.InsertVeins(ctx, []core.VeinRecord{vein.Record("w"), record("a", 1, 1)}))

	got, err := b.QueryBounds(ctx, "w", coords.ChunkBounds(core.ChunkCoordinate{}, 16))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "v1", got[1].ID)

	require.NotNil(t, got[1].Vein)
	assert.Equal(t, "gold", got[1].Vein.Type)
	assert.InDelta(t, 0.1, got[1].Radius, 1e-9)
	assert.Equal(t, 7.25, got[1].CenterY)
}

func TestUpdateExtraction(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.InsertVeins(ctx, []core.VeinRecord{record("a", 1, 1)}))

	require.NoError(t, b.UpdateExtraction(ctx, "a", 12.5, true))
	got, err := b.QueryRadius(ctx, "w", core.WorldCoordinate{X: 1, Y: 1}, 0.5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 12.5, got[0].ExtractedAmount)
	assert.True(t, got[0].IsExhausted)

	assert.ErrorIs(t, b.UpdateExtraction(ctx, "missing", 1, false), storage.ErrNotFound)
}

func TestGetVein(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	require.NoError(t, b.InsertVeins(ctx, []core.VeinRecord{record("a", 4, 5)}))

	got, err := b.GetVein(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "iron", got.ResourceType)
	assert.Equal(t, core.WorldCoordinate{X: 4, Y: 5}, got.Center())

	_, err = b.GetVein(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
