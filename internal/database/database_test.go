package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veinworld/worldserver/internal/config"
	"github.com/veinworld/worldserver/internal/model"
)

func openTemp(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "nested", "world.db")
}

func TestOpenSQLite_CreatesDirectory(t *testing.T) {
	path := openTemp(t)
	db, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	_, err = os.Stat(path)
	assert.NoError(t, err)
	assert.True(t, db.Migrator().HasTable(&model.ChunkBlob{}))
	assert.True(t, db.Migrator().HasTable(&model.VeinRecord{}))
	assert.True(t, db.Migrator().HasTable(&model.ServerPerformance{}))
}

func TestEnsureWorldInfo(t *testing.T) {
	db, err := OpenSQLite(openTemp(t))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	info := model.WorldInfo{WorldID: "alpha", Seed: 42, ChunkSize: 16, CellSize: 32}
	require.NoError(t, EnsureWorldInfo(db, info))
	require.NoError(t, EnsureWorldInfo(db, info), "same parameters reopen the world")

	other := info
	other.Seed = 7
	assert.ErrorIs(t, EnsureWorldInfo(db, other), ErrWorldMismatch)

	other = info
	other.ChunkSize = 32
	assert.ErrorIs(t, EnsureWorldInfo(db, other), ErrWorldMismatch)

	require.NoError(t, EnsureWorldInfo(db, model.WorldInfo{WorldID: "beta", Seed: 7, ChunkSize: 16}))
}

func TestDumpSQLite(t *testing.T) {
	db, err := OpenSQLite("")
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	require.NoError(t, EnsureWorldInfo(db, model.WorldInfo{WorldID: "dump", Seed: 1, ChunkSize: 16}))

	assert.Error(t, DumpSQLite(db, ""))

	target := filepath.Join(t.TempDir(), "dumps", "world.db")
	require.NoError(t, DumpSQLite(db, target))
	// a second dump replaces the file
	require.NoError(t, DumpSQLite(db, target))

	disk, err := OpenSQLite(target)
	require.NoError(t, err)
	var info model.WorldInfo
	require.NoError(t, disk.First(&info, "world_id = ?", "dump").Error)
	assert.Equal(t, int64(1), info.Seed)
}

func TestDumpSQLite_QuotedPath(t *testing.T) {
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "live.db"))
	require.NoError(t, err)
	require.NoError(t, Migrate(db))

	target := filepath.Join(t.TempDir(), "o'neil", "world.db")
	require.NoError(t, DumpSQLite(db, target))
	_, err = os.Stat(target)
	assert.NoError(t, err)
}

func TestOpenPostgres_Unreachable(t *testing.T) {
	_, err := OpenPostgres(config.PostgresConfig{Host: "127.0.0.1", Port: "1", Username: "x", Database: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1:1")
}
