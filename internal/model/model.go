package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&WorldInfo{},
	&ServerPerformance{},
	&ChunkBlob{},
	&VeinRecord{},
}

////////////////////////
// SYSTEM MODELS
////////////////////////

// WorldInfo pins the generation parameters a database was created with.
// A server started with a different seed refuses to share the database.
type WorldInfo struct {
	WorldID   string    `json:"worldId" gorm:"primaryKey;size:64"`
	Seed      int64     `json:"seed"`
	ChunkSize int       `json:"chunkSize"`
	CellSize  int       `json:"cellSize"`
	CreatedAt time.Time `json:"createdAt"`
}

func (*WorldInfo) TableName() string {
	return "world_infos"
}

// ServerPerformance is one sample of the runtime monitor.
type ServerPerformance struct {
	ID             uint          `json:"id" gorm:"primarykey;autoIncrement"`
	Time           time.Time     `json:"time" gorm:"index:idx_server_performance_time"`
	WorldID        string        `json:"worldId" gorm:"size:64"`
	TierHits       TierHits      `json:"tierHits" gorm:"embedded;embeddedPrefix:tier_"`
	Backfill       BackfillStats `json:"backfill" gorm:"embedded;embeddedPrefix:backfill_"`
	ActiveSessions int64         `json:"activeSessions"`
	Connections    int64         `json:"connections"`
	CacheEntries   int64         `json:"cacheEntries"`
	PendingWrites  int64         `json:"pendingWrites"`
}

func (*ServerPerformance) TableName() string {
	return "server_performances"
}

// TierHits counts which tier answered chunk reads.
type TierHits struct {
	Cache     int64 `json:"cache"`
	Cold      int64 `json:"cold"`
	Generated int64 `json:"generated"`
}

// BackfillStats counts lazy vein persistence outcomes.
type BackfillStats struct {
	Checked   int64 `json:"checked"`
	Generated int64 `json:"generated"`
	Failed    int64 `json:"failed"`
}

////////////////////////
// WORLD DATA
////////////////////////

// ChunkBlob is a durable chunk payload in the cold tier.
type ChunkBlob struct {
	BlobKey   string    `json:"key" gorm:"primaryKey;size:128"`
	WorldID   string    `json:"worldId" gorm:"size:64;index:idx_chunk_blob_world_chunk"`
	ChunkX    int       `json:"chunkX" gorm:"index:idx_chunk_blob_world_chunk"`
	ChunkY    int       `json:"chunkY" gorm:"index:idx_chunk_blob_world_chunk"`
	Encoding  string    `json:"encoding" gorm:"size:32"`
	Payload   []byte    `json:"payload"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (*ChunkBlob) TableName() string {
	return "chunk_blobs"
}

// VeinRecord is the spatial record of a resource vein.
type VeinRecord struct {
	ID              string         `json:"id" gorm:"primaryKey;size:36"`
	WorldID         string         `json:"worldId" gorm:"size:64;index:idx_vein_world_center,priority:1"`
	ResourceType    string         `json:"resourceType" gorm:"size:32;index:idx_vein_resource_type"`
	CenterX         float64        `json:"centerX" gorm:"index:idx_vein_world_center,priority:2"`
	CenterY         float64        `json:"centerY" gorm:"index:idx_vein_world_center,priority:3"`
	Center          geom.Point     `json:"center" gorm:"type:geometry"`
	Radius          float64        `json:"radius"`
	Density         float64        `json:"density"`
	Quality         string         `json:"quality" gorm:"size:16"`
	Depth           int            `json:"depth"`
	IsExhausted     bool           `json:"isExhausted" gorm:"default:false"`
	ExtractedAmount float64        `json:"extractedAmount" gorm:"default:0"`
	Properties      datatypes.JSON `json:"properties"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

func (*VeinRecord) TableName() string {
	return "vein_records"
}
