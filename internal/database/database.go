// Package database opens GORM connections and owns the schema shared by the
// SQL storage backends and the monitor.
package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/veinworld/worldserver/internal/config"
	"github.com/veinworld/worldserver/internal/model"
)

// ErrWorldMismatch is returned by EnsureWorldInfo when the database was
// created for a different seed or chunk size.
var ErrWorldMismatch = errors.New("database belongs to a world with different generation parameters")

// sqlitePragmas trade durability for speed. The disk copy is produced by
// DumpSQLite, not by the live connection.
var sqlitePragmas = []string{
	"PRAGMA journal_mode = MEMORY;",
	"PRAGMA synchronous = OFF;",
	"PRAGMA cache_size = -32000;",
	"PRAGMA temp_store = MEMORY;",
	"PRAGMA busy_timeout = 5000;",
}

// Migrate creates the schema. PostGIS is enabled on Postgres.
func Migrate(db *gorm.DB) error {
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec(`CREATE EXTENSION IF NOT EXISTS postgis;`).Error; err != nil {
			return fmt.Errorf("failed to create PostGIS extension: %w", err)
		}
	}
	if err := db.AutoMigrate(model.DatabaseModels...); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// EnsureWorldInfo records the world parameters on first use and rejects a
// database that was created with different ones.
func EnsureWorldInfo(db *gorm.DB, info model.WorldInfo) error {
	var existing model.WorldInfo
	err := db.Where(model.WorldInfo{WorldID: info.WorldID}).Attrs(info).FirstOrCreate(&existing).Error
	if err != nil {
		return fmt.Errorf("failed to get or insert world info: %w", err)
	}
	if existing.Seed != info.Seed || existing.ChunkSize != info.ChunkSize {
		return fmt.Errorf("%w: world %s has seed %d and chunk size %d",
			ErrWorldMismatch, existing.WorldID, existing.Seed, existing.ChunkSize)
	}
	return nil
}

// OpenPostgres connects and pings. The pool is capped at cfg.MaxOpenConns.
func OpenPostgres(cfg config.PostgresConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DSN(),
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        1000,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres %s:%s: %w", cfg.Host, cfg.Port, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access sql interface: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to reach postgres %s:%s: %w", cfg.Host, cfg.Port, err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

// OpenSQLite opens the database at path, creating its directory. An empty
// path gives a shared in-memory database.
func OpenSQLite(path string) (*gorm.DB, error) {
	dsn := "file::memory:?cache=shared"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("error creating sqlite directory: %w", err)
		}
		dsn = path
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		CreateBatchSize:        500,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	for _, pragma := range sqlitePragmas {
		if err := db.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting %q: %w", pragma, err)
		}
	}
	return db, nil
}

// DumpSQLite writes a consistent copy of db to target, replacing any file
// already there.
func DumpSQLite(db *gorm.DB, target string) error {
	if target == "" {
		return errors.New("sqlite dump path not set")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("error creating dump directory: %w", err)
	}
	// VACUUM INTO refuses to overwrite
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("error removing previous dump: %w", err)
	}
	quoted := strings.ReplaceAll(target, "'", "''")
	if err := db.Exec("VACUUM INTO 'file:" + quoted + "';").Error; err != nil {
		return fmt.Errorf("error dumping database to %s: %w", target, err)
	}
	return nil
}
