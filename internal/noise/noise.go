// Package noise provides the seeded, immutable noise fields that drive terrain
// and resource generation. A Generator is built once per world and shared by
// reference; all sampling is a pure function of its inputs, so concurrent
// reads need no locking.
package noise

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Field is a single octave-summed simplex field.
type Field struct {
	src         opensimplex.Noise
	scale       float64
	offsetX     float64
	offsetY     float64
	octaves     int
	persistence float64
	lacunarity  float64
}

// FieldConfig describes one field. Scale is the feature size in world units.
type FieldConfig struct {
	SeedOffset  int64
	Scale       float64
	OffsetX     float64
	OffsetY     float64
	Octaves     int
	Persistence float64
}

// NewField builds a field from a world seed and a field config.
func NewField(seed int64, cfg FieldConfig) Field {
	octaves := cfg.Octaves
	if octaves <= 0 {
		octaves = 1
	}
	persistence := cfg.Persistence
	if persistence <= 0 {
		persistence = 0.5
	}
	scale := cfg.Scale
	if scale <= 0 {
		scale = 1
	}
	return Field{
		src:         opensimplex.New(seed + cfg.SeedOffset),
		scale:       scale,
		offsetX:     cfg.OffsetX,
		offsetY:     cfg.OffsetY,
		octaves:     octaves,
		persistence: persistence,
		lacunarity:  2,
	}
}

// At samples the field at a world position. The result is in [-1, 1].
func (f Field) At(x, y float64) float64 {
	freq := 1 / f.scale
	amp := 1.0
	var sum, norm float64
	for i := 0; i < f.octaves; i++ {
		sum += amp * f.src.Eval2((x+f.offsetX)*freq, (y+f.offsetY)*freq)
		norm += amp
		amp *= f.persistence
		freq *= f.lacunarity
	}
	return clamp(sum/norm, -1, 1)
}

// UnitAt samples the field mapped onto [0, 1].
func (f Field) UnitAt(x, y float64) float64 {
	return Unit(f.At(x, y))
}

// Unit maps a value in [-1, 1] onto [0, 1].
func Unit(v float64) float64 {
	return clamp((v+1)/2, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Generator bundles every field a world needs. Each field has its own seed
// offset and coordinate offset so that no two fields are correlated.
type Generator struct {
	seed int64

	Elevation   Field
	Moisture    Field
	Temperature Field

	Density   Field
	Richness  Field
	Size      Field
	Depth     Field
	Purity    Field
	Formation Field
	Hazard    Field
}

// New creates a generator for a world seed.
func New(seed int64) *Generator {
	return &Generator{
		seed: seed,

		Elevation:   NewField(seed, FieldConfig{SeedOffset: 0, Scale: 200, Octaves: 4}),
		Moisture:    NewField(seed, FieldConfig{SeedOffset: 1, Scale: 80, OffsetX: 1000, OffsetY: 1000, Octaves: 3}),
		Temperature: NewField(seed, FieldConfig{SeedOffset: 2, Scale: 500, OffsetX: -2000, OffsetY: 3000, Octaves: 2}),

		Density:   NewField(seed, FieldConfig{SeedOffset: 10, Scale: 24, OffsetX: 5000, Octaves: 2}),
		Richness:  NewField(seed, FieldConfig{SeedOffset: 12, Scale: 11, OffsetX: -9000}),
		Size:      NewField(seed, FieldConfig{SeedOffset: 13, Scale: 13, OffsetY: -11000}),
		Depth:     NewField(seed, FieldConfig{SeedOffset: 14, Scale: 17, OffsetX: 13000, OffsetY: 13000}),
		Purity:    NewField(seed, FieldConfig{SeedOffset: 15, Scale: 5, OffsetX: -15000, OffsetY: 15000}),
		Formation: NewField(seed, FieldConfig{SeedOffset: 16, Scale: 3, OffsetX: 17000, OffsetY: -17000}),
		Hazard:    NewField(seed, FieldConfig{SeedOffset: 17, Scale: 2, OffsetX: -19000, OffsetY: -19000}),
	}
}

// Seed returns the world seed.
func (g *Generator) Seed() int64 {
	return g.seed
}

// ChunkSeed derives a stable per-chunk seed.
func (g *Generator) ChunkSeed(chunkX, chunkY int) int64 {
	return int64(Hash2(g.seed, chunkX, chunkY) >> 1)
}

// Hash2 is a SplitMix64-style integer hash of a 2D lattice point.
func Hash2(seed int64, x, y int) uint64 {
	v := uint64(seed)*0x9E3779B97F4A7C15 ^ uint64(int64(x))*0xBF58476D1CE4E5B9 ^ uint64(int64(y))*0x94D049BB133111EB
	v += 0x9E3779B97F4A7C15
	v = (v ^ (v >> 30)) * 0xBF58476D1CE4E5B9
	v = (v ^ (v >> 27)) * 0x94D049BB133111EB
	return v ^ (v >> 31)
}

// HashUnit maps Hash2 onto [0, 1).
func HashUnit(seed int64, x, y int) float64 {
	return float64(Hash2(seed, x, y)>>11) / float64(1<<53)
}
