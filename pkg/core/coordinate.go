// pkg/core/coordinate.go
package core

import "fmt"

// WorldCoordinate is a point in world space. Values held in this type are
// expected to be normalized (see coords.Normalize) before they are stored or
// compared.
type WorldCoordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ChunkCoordinate addresses a chunk on the chunk grid.
type ChunkCoordinate struct {
	ChunkX int `json:"chunkX"`
	ChunkY int `json:"chunkY"`
}

// String renders the coordinate as "x:y", the form used in storage keys.
func (c ChunkCoordinate) String() string {
	return fmt.Sprintf("%d:%d", c.ChunkX, c.ChunkY)
}

// CellCoordinate addresses a cell inside a chunk, always in [0, chunkSize).
type CellCoordinate struct {
	CellX int `json:"cellX"`
	CellY int `json:"cellY"`
}

// FullCoordinate carries the world, chunk and cell forms of one point.
// Build it with coords.ToFull; never assemble the parts by hand.
type FullCoordinate struct {
	World WorldCoordinate `json:"world"`
	Chunk ChunkCoordinate `json:"chunk"`
	Cell  CellCoordinate  `json:"cell"`
}
