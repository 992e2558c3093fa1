package main

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/veinworld/worldserver/internal/api"
	"github.com/veinworld/worldserver/internal/cache"
	"github.com/veinworld/worldserver/internal/config"
	"github.com/veinworld/worldserver/internal/model"
	"github.com/veinworld/worldserver/internal/storage"
	"github.com/veinworld/worldserver/internal/storage/memory"
	pgstorage "github.com/veinworld/worldserver/internal/storage/postgres"
	sqlitestorage "github.com/veinworld/worldserver/internal/storage/sqlite"
)

var (
	_ storage.Backend   = (*memory.Backend)(nil)
	_ storage.Backend   = (*pgstorage.Backend)(nil)
	_ storage.Backend   = (*sqlitestorage.Backend)(nil)
	_ storage.CacheTier = (*cache.ChunkCache)(nil)
)

// sqlBackend is satisfied by the GORM-based backends.
type sqlBackend interface {
	DB() *gorm.DB
}

// createStorageBackend builds the cold tier and spatial store selected by
// storage.type. The backend is not initialized.
func createStorageBackend(cfg config.StorageConfig, world model.WorldInfo, logger *slog.Logger) (storage.Backend, error) {
	switch cfg.Type {
	case "postgres":
		logger.Info("Postgres storage backend selected")
		return pgstorage.New(pgstorage.Dependencies{
			Config: cfg.Postgres,
			Logger: logger,
			World:  world,
		}), nil

	case "sqlite":
		backend, err := sqlitestorage.New(sqlitestorage.Config{
			Path:         cfg.Sqlite.Path,
			DumpPath:     cfg.Sqlite.DumpPath,
			DumpInterval: cfg.Sqlite.DumpInterval,
		}, world, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		logger.Info("SQLite storage backend selected", "path", cfg.Sqlite.Path, "dumpPath", cfg.Sqlite.DumpPath)
		return backend, nil

	case "memory", "":
		logger.Warn("Memory storage backend selected, world data is lost on restart")
		return memory.New(), nil

	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// storageDB returns the connection of a SQL backend, nil otherwise.
func storageDB(backend storage.Backend) *gorm.DB {
	if b, ok := backend.(sqlBackend); ok {
		return b.DB()
	}
	return nil
}

// storageHealth pings the database behind backend.
func storageHealth(backend storage.Backend) api.HealthCheck {
	return func(ctx context.Context) error {
		db := storageDB(backend)
		if db == nil {
			return nil
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
