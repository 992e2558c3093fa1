package chunkstore

import (
	"time"

	"github.com/veinworld/worldserver/internal/resource"
	"github.com/veinworld/worldserver/internal/terrain"
	"github.com/veinworld/worldserver/pkg/core"
)

// ChunkVersion is stamped into the metadata of generated chunks.
const ChunkVersion = 1

// Generator produces the content of a chunk that no tier holds.
type Generator interface {
	Chunk(chunk core.ChunkCoordinate) (*core.ChunkData, error)
	Veins(chunk core.ChunkCoordinate) ([]core.ResourceVein, error)
}

// Procedural generates chunks from the world's noise fields. Both methods are
// pure functions of the chunk coordinate apart from timestamps.
type Procedural struct {
	field *terrain.Field
	veins *resource.Generator
	now   func() time.Time
}

// NewProcedural binds a terrain field and a vein generator of the same seed.
func NewProcedural(field *terrain.Field, veins *resource.Generator) *Procedural {
	return &Procedural{field: field, veins: veins, now: time.Now}
}

// Chunk returns terrain and veins for one chunk.
func (p *Procedural) Chunk(chunk core.ChunkCoordinate) (*core.ChunkData, error) {
	size := p.veins.Config().ChunkSize
	seed := p.field.Generator().Seed()
	now := p.now().UTC()

	return &core.ChunkData{
		Coordinate: chunk,
		Terrain:    p.field.GenerateChunkTerrain(chunk.ChunkX, chunk.ChunkY, size),
		Resources:  p.veins.GenerateChunk(chunk, nil),
		Size:       size,
		Metadata: core.ChunkMetadata{
			Version:          ChunkVersion,
			GenerationMethod: core.GenerationProcedural,
			GenerationTime:   now,
			Seed:             seed,
		},
		Timestamp: now,
	}, nil
}

// Veins returns only the veins of a chunk.
func (p *Procedural) Veins(chunk core.ChunkCoordinate) ([]core.ResourceVein, error) {
	return p.veins.GenerateChunk(chunk, nil), nil
}
