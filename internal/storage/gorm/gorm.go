// Package gormstorage implements storage.Backend on top of any GORM dialect.
// The postgres and sqlite backends embed it and add connection handling.
package gormstorage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/veinworld/worldserver/internal/coords"
	"github.com/veinworld/worldserver/internal/database"
	"github.com/veinworld/worldserver/internal/model"
	"github.com/veinworld/worldserver/internal/model/convert"
	"github.com/veinworld/worldserver/internal/storage"
	"github.com/veinworld/worldserver/pkg/core"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB     *gorm.DB
	Logger *slog.Logger
	// World is recorded on Init and checked against an existing database.
	World model.WorldInfo
}

// Backend implements storage.Backend using GORM.
type Backend struct {
	deps Dependencies

	lastWrite atomic.Int64
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Backend{deps: deps}
}

// DB exposes the connection.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// SetDB injects a connection opened after New.
func (b *Backend) SetDB(db *gorm.DB) {
	b.deps.DB = db
}

// Init migrates the schema and pins the world parameters.
func (b *Backend) Init() error {
	if b.deps.DB == nil {
		return errors.New("gorm backend has no database connection")
	}
	log := b.deps.Logger

	log.Info("Migrating schema", "dialect", b.deps.DB.Dialector.Name())
	if err := database.Migrate(b.deps.DB); err != nil {
		return err
	}
	if b.deps.World.WorldID != "" {
		if err := database.EnsureWorldInfo(b.deps.DB, b.deps.World); err != nil {
			return err
		}
	}
	log.Info("Database setup complete")
	return nil
}

// Close is a no-op; the owner of the connection closes it.
func (b *Backend) Close() error {
	return nil
}

// GetLastDBWriteDuration returns the duration of the last write.
func (b *Backend) GetLastDBWriteDuration() time.Duration {
	return time.Duration(b.lastWrite.Load())
}

// GetBlob reads a chunk payload.
func (b *Backend) GetBlob(ctx context.Context, key storage.BlobKey) ([]byte, bool, error) {
	var blob model.ChunkBlob
	err := b.deps.DB.WithContext(ctx).Where("blob_key = ?", key.String()).Take(&blob).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read chunk blob %s: %w", key, err)
	}
	return blob.Payload, true, nil
}

// PutBlob upserts a chunk payload.
func (b *Backend) PutBlob(ctx context.Context, key storage.BlobKey, value []byte) error {
	start := time.Now()
	blob := model.ChunkBlob{
		BlobKey:  key.String(),
		WorldID:  key.WorldID,
		ChunkX:   key.ChunkX,
		ChunkY:   key.ChunkY,
		Encoding: storage.BlobEncoding,
		Payload:  value,
	}
	err := b.deps.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "blob_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"encoding", "payload", "updated_at"}),
	}).Create(&blob).Error
	if err != nil {
		return fmt.Errorf("failed to write chunk blob %s: %w", key, err)
	}
	b.lastWrite.Store(int64(time.Since(start)))
	return nil
}

// inBounds scopes a query to a world and a center envelope.
func inBounds(db *gorm.DB, worldID string, bounds coords.Bounds) *gorm.DB {
	return db.Where("world_id = ? AND center_x >= ? AND center_x < ? AND center_y >= ? AND center_y < ?",
		worldID, bounds.MinX, bounds.MaxX, bounds.MinY, bounds.MaxY)
}

// CountInBounds counts records centered in bounds.
func (b *Backend) CountInBounds(ctx context.Context, worldID string, bounds coords.Bounds) (int64, error) {
	var n int64
	err := inBounds(b.deps.DB.WithContext(ctx).Model(&model.VeinRecord{}), worldID, bounds).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count veins: %w", err)
	}
	return n, nil
}

// InsertVeins inserts records in one transaction, skipping known ids.
func (b *Backend) InsertVeins(ctx context.Context, records []core.VeinRecord) error {
	if len(records) == 0 {
		return nil
	}
	start := time.Now()
	rows := make([]model.VeinRecord, len(records))
	for i, r := range records {
		rows[i] = convert.CoreToVeinRecord(r)
	}

	err := b.deps.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
	if err != nil {
		return fmt.Errorf("failed to insert %d veins: %w", len(rows), err)
	}
	b.lastWrite.Store(int64(time.Since(start)))
	return nil
}

// QueryRadius narrows by envelope in SQL and filters by exact distance.
func (b *Backend) QueryRadius(ctx context.Context, worldID string, center core.WorldCoordinate, radius float64) ([]core.VeinRecord, error) {
	var rows []model.VeinRecord
	env := coords.Bounds{MinX: center.X - radius, MinY: center.Y - radius, MaxX: center.X + radius, MaxY: center.Y + radius}
	err := b.deps.DB.WithContext(ctx).
		Where("world_id = ? AND center_x BETWEEN ? AND ? AND center_y BETWEEN ? AND ?",
			worldID, env.MinX, env.MaxX, env.MinY, env.MaxY).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query veins near %v: %w", center, err)
	}

	out := make([]core.VeinRecord, 0, len(rows))
	for _, r := range convert.VeinRecordsToCore(rows) {
		if coords.Distance(r.Center(), center) <= radius {
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
func (b *Backend) QueryBounds(ctx context.Context, worldID string, bounds coords.Bounds) ([]core.VeinRecord, error) {
	var rows []model.VeinRecord
	err := inBounds(b.deps.DB.WithContext(ctx), worldID, bounds).Order("id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query veins in bounds: %w", err)
	}
	return convert.VeinRecordsToCore(rows), nil
}

// GetVein returns one record by id.
func (b *Backend) GetVein(ctx context.Context, id string) (core.VeinRecord, error) {
	var row model.VeinRecord
	err := b.deps.DB.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.VeinRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return core.VeinRecord{}, fmt.Errorf("failed to read vein %s: %w", id, err)
	}
	return convert.VeinRecordToCore(row), nil
}

// UpdateExtraction sets the extracted amount of a record.
func (b *Backend) UpdateExtraction(ctx context.Context, id string, extracted float64, exhausted bool) error {
	res := b.deps.DB.WithContext(ctx).Model(&model.VeinRecord{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"extracted_amount": extracted,
			"is_exhausted":     exhausted,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update vein %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
