package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veinworld/worldserver/internal/config"
	"github.com/veinworld/worldserver/internal/model"
	"github.com/veinworld/worldserver/internal/storage/memory"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testWorld = model.WorldInfo{WorldID: "alpha", Seed: 42, ChunkSize: 16, CellSize: 32}

func TestCreateStorageBackend_Memory(t *testing.T) {
	backend, err := createStorageBackend(config.StorageConfig{Type: "memory"}, testWorld, discard())
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, backend)
	assert.Nil(t, storageDB(backend))
	assert.NoError(t, storageHealth(backend)(context.Background()))
}

func TestCreateStorageBackend_Sqlite(t *testing.T) {
	cfg := config.StorageConfig{
		Type:   "sqlite",
		Sqlite: config.SqliteConfig{Path: filepath.Join(t.TempDir(), "world.db")},
	}
	backend, err := createStorageBackend(cfg, testWorld, discard())
	require.NoError(t, err)
	require.NoError(t, backend.Init())
	defer backend.Close()

	require.NotNil(t, storageDB(backend))
	assert.NoError(t, storageHealth(backend)(context.Background()))
}

func TestCreateStorageBackend_Unknown(t *testing.T) {
	_, err := createStorageBackend(config.StorageConfig{Type: "redis"}, testWorld, discard())
	assert.Error(t, err)
}
