// Package terrain classifies world positions using the elevation, moisture and
// temperature noise fields.
package terrain

import (
	"math"

	"github.com/veinworld/worldserver/internal/coords"
	"github.com/veinworld/worldserver/internal/noise"
	"github.com/veinworld/worldserver/pkg/core"
)

// Climate bands returned by Field.Climate.
const (
	ClimatePolar       = "polar"
	ClimateBoreal      = "boreal"
	ClimateTemperate   = "temperate"
	ClimateSubtropical = "subtropical"
	ClimateTropical    = "tropical"
)

// latitudePeriod is the world distance along Y between two "equators".
const latitudePeriod = 20000.0

// Sample holds the raw field values at one position.
type Sample struct {
	Elevation   float64
	Moisture    float64
	Temperature float64
}

// Field is the terrain classification function for one world.
type Field struct {
	gen *noise.Generator
}

// NewField binds a terrain field to a noise generator.
func NewField(gen *noise.Generator) *Field {
	return &Field{gen: gen}
}

// Generator exposes the underlying noise generator.
func (f *Field) Generator() *noise.Generator {
	return f.gen
}

// Sample evaluates the three terrain fields at (x, y).
func (f *Field) Sample(x, y float64) Sample {
	return Sample{
		Elevation:   f.gen.Elevation.At(x, y),
		Moisture:    f.gen.Moisture.At(x, y),
		Temperature: f.gen.Temperature.At(x, y),
	}
}

// Classify maps field values onto a terrain type.
func Classify(s Sample) core.TerrainType {
	switch {
	case s.Elevation < -0.2:
		return core.TerrainOcean
	case s.Elevation > 0.7:
		return core.TerrainMountains
	case s.Elevation < 0.2:
		if s.Moisture > 0.1 {
			return core.TerrainSwamp
		}
		return core.TerrainPlains
	case s.Elevation < 0.5:
		if s.Moisture > 0.1 {
			return core.TerrainForest
		}
		return core.TerrainHills
	}

	if s.Temperature < -0.3 {
		return core.TerrainTundra
	}
	if s.Moisture < -0.2 && s.Temperature > 0.1 {
		return core.TerrainDesert
	}
	return core.TerrainHills
}

// At returns the terrain at a world position.
func (f *Field) At(x, y float64) core.TerrainType {
	return Classify(f.Sample(x, y))
}

// GenerateChunkTerrain classifies every cell of a chunk.
func (f *Field) GenerateChunkTerrain(chunkX, chunkY, chunkSize int) core.TerrainGrid {
	grid := core.NewTerrainGrid(chunkSize)
	origin := coords.ChunkOrigin(core.ChunkCoordinate{ChunkX: chunkX, ChunkY: chunkY}, chunkSize)
	for cy := 0; cy < chunkSize; cy++ {
		for cx := 0; cx < chunkSize; cx++ {
			grid[cy][cx] = f.At(origin.X+float64(cx), origin.Y+float64(cy))
		}
	}
	return grid
}

// Latitude returns 0 at an equator and 1 at a pole.
func Latitude(y float64) float64 {
	return math.Abs(math.Sin(y * math.Pi / latitudePeriod))
}

// Climate combines latitude with the temperature field.
func (f *Field) Climate(x, y float64) string {
	heat := f.gen.Temperature.At(x, y)*0.5 + (0.5 - Latitude(y))
	switch {
	case heat < -0.4:
		return ClimatePolar
	case heat < -0.1:
		return ClimateBoreal
	case heat < 0.2:
		return ClimateTemperate
	case heat < 0.45:
		return ClimateSubtropical
	default:
		return ClimateTropical
	}
}

// IsWet reports whether a terrain type counts as water for proximity checks.
func IsWet(t core.TerrainType) bool {
	return t == core.TerrainOcean || t == core.TerrainSwamp
}
