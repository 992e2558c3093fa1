// Package coords converts raw world coordinates into the canonical forms used
// for storage keys, chunk addressing and spatial comparisons.
//
// Every coordinate that reaches persistence or a distance check goes through
// Normalize first so that floating-point drift cannot produce two records for
// the same logical point.
package coords

import (
	"errors"
	"fmt"
	"math"

	"github.com/veinworld/worldserver/pkg/core"
)

const (
	// Precision is the number of decimal places kept by Normalize.
	Precision = 3
	// MaxCoordinate bounds both axes.
	MaxCoordinate = 1_000_000.0
	// DefaultChunkSize is the chunk edge length in cells.
	DefaultChunkSize = 16
	// DefaultCellSize is the rendered cell size; it only matters for camera
	// conversions.
	DefaultCellSize = 32
	// MinSeparation is the minimum distance between two vein centers.
	MinSeparation = 0.5
)

var scale = math.Pow10(Precision)

// ErrCoordinateOutOfRange is matched by every CoordinateOutOfRangeError.
var ErrCoordinateOutOfRange = errors.New("coordinate out of range")

// CoordinateOutOfRangeError reports the offending coordinate.
type CoordinateOutOfRangeError struct {
	X, Y float64
}

func (e *CoordinateOutOfRangeError) Error() string {
	return fmt.Sprintf("coordinate out of range: (%v, %v) must be finite and within ±%.0f", e.X, e.Y, MaxCoordinate)
}

func (e *CoordinateOutOfRangeError) Unwrap() error {
	return ErrCoordinateOutOfRange
}

// Bounds is an axis-aligned rectangle, Min inclusive and Max exclusive.
type Bounds struct {
	MinX, MinY float64
	MaxX, MaxY float64
}

// Contains reports whether c lies inside b.
func (b Bounds) Contains(c core.WorldCoordinate) bool {
	return c.X >= b.MinX && c.X < b.MaxX && c.Y >= b.MinY && c.Y < b.MaxY
}

func round(v float64) float64 {
	r := math.Round(v*scale) / scale
	if r == 0 {
		// collapse -0
		return 0
	}
	return r
}

// Normalize rounds both axes to Precision decimal places.
func Normalize(x, y float64) core.WorldCoordinate {
	return core.WorldCoordinate{X: round(x), Y: round(y)}
}

// NormalizeCoord is Normalize for an existing coordinate.
func NormalizeCoord(c core.WorldCoordinate) core.WorldCoordinate {
	return Normalize(c.X, c.Y)
}

func floorDiv(v float64, n int) int {
	return int(math.Floor(v / float64(n)))
}

func mod(v, n int) int {
	return ((v % n) + n) % n
}

// ToChunk returns the chunk containing c. Negative values floor toward
// negative infinity.
func ToChunk(c core.WorldCoordinate, chunkSize int) core.ChunkCoordinate {
	return core.ChunkCoordinate{
		ChunkX: floorDiv(c.X, chunkSize),
		ChunkY: floorDiv(c.Y, chunkSize),
	}
}

// ToCell returns the cell of c inside its chunk.
func ToCell(c core.WorldCoordinate, chunkSize int) core.CellCoordinate {
	return core.CellCoordinate{
		CellX: mod(int(math.Floor(c.X)), chunkSize),
		CellY: mod(int(math.Floor(c.Y)), chunkSize),
	}
}

// ToFull normalizes (x, y) once and derives every coordinate form from it.
func ToFull(x, y float64, chunkSize int) core.FullCoordinate {
	w := Normalize(x, y)
	return core.FullCoordinate{
		World: w,
		Chunk: ToChunk(w, chunkSize),
		Cell:  ToCell(w, chunkSize),
	}
}

// ChunkOrigin is the world position of the chunk's (0,0) cell corner. The
// product is taken in float64 so that huge chunk indices land far out of
// range instead of wrapping back onto the map.
func ChunkOrigin(chunk core.ChunkCoordinate, chunkSize int) core.WorldCoordinate {
	return core.WorldCoordinate{
		X: float64(chunk.ChunkX) * float64(chunkSize),
		Y: float64(chunk.ChunkY) * float64(chunkSize),
	}
}

// FromChunkCell rebuilds the world position of a cell corner.
func FromChunkCell(chunk core.ChunkCoordinate, cell core.CellCoordinate, chunkSize int) core.WorldCoordinate {
	origin := ChunkOrigin(chunk, chunkSize)
	return core.WorldCoordinate{
		X: origin.X + float64(cell.CellX),
		Y: origin.Y + float64(cell.CellY),
	}
}

// ChunkBounds returns the world-space rectangle covered by a chunk.
func ChunkBounds(chunk core.ChunkCoordinate, chunkSize int) Bounds {
	origin := ChunkOrigin(chunk, chunkSize)
	return Bounds{
		MinX: origin.X,
		MinY: origin.Y,
		MaxX: origin.X + float64(chunkSize),
		MaxY: origin.Y + float64(chunkSize),
	}
}

// Validate reports whether both axes are finite and within MaxCoordinate.
func Validate(x, y float64) bool {
	return valid(x) && valid(y)
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && math.Abs(v) <= MaxCoordinate
}

// AssertValid returns a *CoordinateOutOfRangeError when Validate fails.
func AssertValid(x, y float64) error {
	if !Validate(x, y) {
		return &CoordinateOutOfRangeError{X: x, Y: y}
	}
	return nil
}

// MaxChunkIndex is the largest chunk index whose far edge stays within
// MaxCoordinate.
func MaxChunkIndex(chunkSize int) int {
	if chunkSize <= 0 {
		return 0
	}
	return int(MaxCoordinate)/chunkSize - 1
}

// AssertValidChunk checks that the whole chunk lies within bounds.
func AssertValidChunk(chunk core.ChunkCoordinate, chunkSize int) error {
	limit := MaxChunkIndex(chunkSize)
	if chunk.ChunkX > limit || chunk.ChunkX < -limit-1 || chunk.ChunkY > limit || chunk.ChunkY < -limit-1 {
		o := ChunkOrigin(chunk, chunkSize)
		return &CoordinateOutOfRangeError{X: o.X, Y: o.Y}
	}
	b := ChunkBounds(chunk, chunkSize)
	if err := AssertValid(b.MinX, b.MinY); err != nil {
		return err
	}
	return AssertValid(b.MaxX, b.MaxY)
}

// Distance is the Euclidean distance between a and b.
func Distance(a, b core.WorldCoordinate) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// ChunksInRadius lists every chunk intersecting the bounding square of the
// circle (center, radius), row by row. The result is a superset of the chunks
// that actually intersect the circle.
func ChunksInRadius(center core.WorldCoordinate, radius float64, chunkSize int) []core.ChunkCoordinate {
	radius = math.Abs(radius)
	minX := floorDiv(center.X-radius, chunkSize)
	maxX := floorDiv(center.X+radius, chunkSize)
	minY := floorDiv(center.Y-radius, chunkSize)
	maxY := floorDiv(center.Y+radius, chunkSize)

	out := make([]core.ChunkCoordinate, 0, (maxX-minX+1)*(maxY-minY+1))
	for cy := minY; cy <= maxY; cy++ {
		for cx := minX; cx <= maxX; cx++ {
			out = append(out, core.ChunkCoordinate{ChunkX: cx, ChunkY: cy})
		}
	}
	return out
}
