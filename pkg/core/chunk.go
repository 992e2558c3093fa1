package core

import "time"

// Generation methods reported in chunk metadata.
const (
	GenerationProcedural = "procedural"
)

// ChunkMetadata describes how a chunk was produced.
type ChunkMetadata struct {
	Version          int       `json:"version"`
	GenerationMethod string    `json:"generationMethod"`
	GenerationTime   time.Time `json:"generationTime"`
	Seed             int64     `json:"seed"`
}

// ChunkData is the full payload for one chunk: terrain plus resource veins.
type ChunkData struct {
	Coordinate ChunkCoordinate `json:"coordinate"`
	Terrain    TerrainGrid     `json:"terrain"`
	Resources  []ResourceVein  `json:"resources"`
	Size       int             `json:"size"`
	Metadata   ChunkMetadata   `json:"metadata"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Clone returns a deep copy so that tiers never share mutable state.
func (c *ChunkData) Clone() *ChunkData {
	if c == nil {
		return nil
	}
	out := *c
	out.Terrain = c.Terrain.Clone()
	out.Resources = make([]ResourceVein, len(c.Resources))
	for i, v := range c.Resources {
		v.Environment.Hazards = append([]string(nil), v.Environment.Hazards...)
		v.Metadata.Tags = append([]string(nil), v.Metadata.Tags...)
		out.Resources[i] = v
	}
	return &out
}

// Tier names the storage layer that answered a chunk read.
type Tier string

const (
	TierCache     Tier = "cache"
	TierCold      Tier = "cold"
	TierGenerated Tier = "generated"
)
