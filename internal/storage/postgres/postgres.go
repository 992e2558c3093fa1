// Package postgres implements the storage.Backend interface on PostgreSQL
// with PostGIS. Queries live in the embedded GORM backend; this package owns
// the connection.
package postgres

import (
	"fmt"
	"log/slog"

	"github.com/veinworld/worldserver/internal/config"
	"github.com/veinworld/worldserver/internal/database"
	"github.com/veinworld/worldserver/internal/model"
	gormstorage "github.com/veinworld/worldserver/internal/storage/gorm"

	"gorm.io/gorm"
)

// Dependencies holds all dependencies for the Postgres backend.
type Dependencies struct {
	// DB is optional; Init connects with Config when nil.
	DB     *gorm.DB
	Config config.PostgresConfig
	Logger *slog.Logger
	World  model.WorldInfo
}

// Backend wraps the GORM backend with connection management.
type Backend struct {
	*gormstorage.Backend
	deps   Dependencies
	ownsDB bool
}

// New creates a new Postgres backend. No connection is made until Init.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.MaxOpenConns <= 0 {
		deps.Config.MaxOpenConns = 10
	}
	return &Backend{
		Backend: gormstorage.New(gormstorage.Dependencies{
			DB:     deps.DB,
			Logger: deps.Logger,
			World:  deps.World,
		}),
		deps: deps,
	}
}

// Init connects if no DB was injected, then migrates the schema.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		db, err := database.OpenPostgres(b.deps.Config)
		if err != nil {
			return err
		}
		b.deps.Logger.Info("Connected to postgres", "host", b.deps.Config.Host, "database", b.deps.Config.Database)
		b.deps.DB = db
		b.ownsDB = true
		b.SetDB(db)
	}

	if err := b.Backend.Init(); err != nil {
		return fmt.Errorf("failed to setup DB: %w", err)
	}
	return nil
}

// Close closes a connection opened by Init. Injected connections are left
// to their owner.
func (b *Backend) Close() error {
	if !b.ownsDB || b.deps.DB == nil {
		return nil
	}
	sqlDB, err := b.deps.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
