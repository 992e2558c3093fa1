package resource

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"github.com/veinworld/worldserver/internal/coords"
	"github.com/veinworld/worldserver/internal/noise"
	"github.com/veinworld/worldserver/internal/terrain"
	"github.com/veinworld/worldserver/pkg/core"
)

// Config tunes vein placement.
type Config struct {
	WorldID          string
	ChunkSize        int
	BaseProbability  float64
	DensityThreshold float64
	MinSeparation    float64
	// AttemptsPerCandidate bounds rejection sampling.
	AttemptsPerCandidate int
}

// DefaultConfig returns the generation defaults.
func DefaultConfig() Config {
	return Config{
		WorldID:              "default",
		ChunkSize:            coords.DefaultChunkSize,
		BaseProbability:      0.05,
		DensityThreshold:     0.45,
		MinSeparation:        coords.MinSeparation,
		AttemptsPerCandidate: 10,
	}
}

// waterReach is how far from a vein NearWater looks for wet terrain.
const waterReach = 4.0

// roll salts, one per independent roll
const (
	saltPressure = iota + 1
	saltInstability
	saltToxicGas
	saltTypePick
)

// Generator builds the veins of a chunk. It holds no mutable state and is safe
// for concurrent use.
type Generator struct {
	cfg     Config
	gen     *noise.Generator
	field   *terrain.Field
	catalog *Catalog
	weights weightedTypes
	ns      uuid.UUID
}

// NewGenerator binds a catalog to a world's noise generator.
func NewGenerator(cfg Config, field *terrain.Field, catalog *Catalog) *Generator {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.BaseProbability <= 0 {
		cfg.BaseProbability = def.BaseProbability
	}
	if cfg.MinSeparation <= 0 {
		cfg.MinSeparation = def.MinSeparation
	}
	if cfg.AttemptsPerCandidate <= 0 {
		cfg.AttemptsPerCandidate = def.AttemptsPerCandidate
	}
	if cfg.WorldID == "" {
		cfg.WorldID = def.WorldID
	}
	return &Generator{
		cfg:     cfg,
		gen:     field.Generator(),
		field:   field,
		catalog: catalog,
		weights: catalog.weights(),
		ns:      uuid.NewSHA1(uuid.NameSpaceURL, []byte("veinworld:"+cfg.WorldID)),
	}
}

// Config returns the effective configuration.
func (g *Generator) Config() Config {
	return g.cfg
}

// Catalog returns the catalog veins are drawn from.
func (g *Generator) Catalog() *Catalog {
	return g.catalog
}

// CandidateCount is the maximum number of candidate positions per chunk.
func (g *Generator) CandidateCount() int {
	return int(math.Ceil(float64(g.cfg.ChunkSize*g.cfg.ChunkSize) * g.cfg.BaseProbability))
}

// edgeMargin keeps candidates far enough from chunk edges that veins of
// neighbouring chunks are always at least MinSeparation apart, whatever order
// the chunks are generated in. The extra millimetre absorbs normalization.
func (g *Generator) edgeMargin() float64 {
	return g.cfg.MinSeparation/2 + math.Pow10(-coords.Precision)
}

// Candidates returns the rejection-sampled positions of a chunk. Every
// returned position is normalized and at least MinSeparation away from the
// other positions and from known.
func (g *Generator) Candidates(chunk core.ChunkCoordinate, known []core.WorldCoordinate) []core.WorldCoordinate {
	want := g.CandidateCount()
	rng := rand.New(rand.NewSource(g.gen.ChunkSeed(chunk.ChunkX, chunk.ChunkY)))

	bounds := coords.ChunkBounds(chunk, g.cfg.ChunkSize)
	margin := g.edgeMargin()
	span := float64(g.cfg.ChunkSize) - 2*margin

	accepted := make([]core.WorldCoordinate, 0, want)
	for attempts := want * g.cfg.AttemptsPerCandidate; attempts > 0 && len(accepted) < want; attempts-- {
		p := coords.Normalize(
			bounds.MinX+margin+rng.Float64()*span,
			bounds.MinY+margin+rng.Float64()*span,
		)
		if !bounds.Contains(p) {
			continue
		}
		if tooClose(p, accepted, g.cfg.MinSeparation) || tooClose(p, known, g.cfg.MinSeparation) {
			continue
		}
		accepted = append(accepted, p)
	}
	return accepted
}

func tooClose(p core.WorldCoordinate, others []core.WorldCoordinate, min float64) bool {
	for _, o := range others {
		if coords.Distance(p, o) < min {
			return true
		}
	}
	return false
}

// GenerateChunk returns the veins of one chunk. known holds veins that
// already exist nearby; candidates too close to them are rejected.
func (g *Generator) GenerateChunk(chunk core.ChunkCoordinate, known []core.ResourceVein) []core.ResourceVein {
	knownPos := make([]core.WorldCoordinate, 0, len(known))
	for _, v := range known {
		knownPos = append(knownPos, v.Location.World)
	}

	seed := g.gen.ChunkSeed(chunk.ChunkX, chunk.ChunkY)
	veins := make([]core.ResourceVein, 0)
	for _, p := range g.Candidates(chunk, knownPos) {
		if g.gen.Density.UnitAt(p.X, p.Y) < g.cfg.DensityThreshold {
			continue
		}
		veins = append(veins, g.synthesize(p, chunk, seed))
	}
	return veins
}

// GenerateArea generates several chunks in row-major order, feeding each
// chunk's veins to the ones that follow.
func (g *Generator) GenerateArea(chunks []core.ChunkCoordinate) map[core.ChunkCoordinate][]core.ResourceVein {
	ordered := append([]core.ChunkCoordinate(nil), chunks...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].ChunkY != ordered[j].ChunkY {
			return ordered[i].ChunkY < ordered[j].ChunkY
		}
		return ordered[i].ChunkX < ordered[j].ChunkX
	})

	out := make(map[core.ChunkCoordinate][]core.ResourceVein, len(ordered))
	var known []core.ResourceVein
	for _, c := range ordered {
		if _, done := out[c]; done {
			continue
		}
		veins := g.GenerateChunk(c, known)
		out[c] = veins
		known = append(known, veins...)
	}
	return out
}

// SelectType picks a mineral for a position. The roll is a position hash
// rather than a noise sample: simplex values cluster around 0.5 and would
// never reach either end of the weight line.
func (g *Generator) SelectType(p core.WorldCoordinate) Type {
	return g.catalog.Types[g.weights.pick(g.roll(p, saltTypePick))]
}

// VeinID is the stable identifier of the vein at a normalized position.
func (g *Generator) VeinID(p core.WorldCoordinate) string {
	return uuid.NewSHA1(g.ns, []byte(fmt.Sprintf("%.3f:%.3f", p.X, p.Y))).String()
}

func (g *Generator) synthesize(p core.WorldCoordinate, chunk core.ChunkCoordinate, seed int64) core.ResourceVein {
	t := g.SelectType(p)
	n := g.gen

	richness := clamp01(0.7*n.Richness.UnitAt(p.X, p.Y) + 0.3*(1-t.Rarity))
	size := t.MinSize + n.Size.UnitAt(p.X, p.Y)*(t.MaxSize-t.MinSize)
	depth := 1 + int(math.Floor(n.Depth.UnitAt(p.X, p.Y)*10))
	if depth > 10 {
		depth = 10
	}
	accessibility := 1 / float64(depth)
	purity := n.Purity.UnitAt(p.X, p.Y)

	formations := g.catalog.Formations
	fi := int(n.Formation.UnitAt(p.X, p.Y) * float64(len(formations)))
	if fi >= len(formations) {
		fi = len(formations) - 1
	}

	full := coords.ToFull(p.X, p.Y, g.cfg.ChunkSize)
	terrainType := g.field.At(p.X, p.Y)

	v := core.ResourceVein{
		ID:       g.VeinID(p),
		Type:     t.Name,
		Location: full,
		Deposit: core.VeinDeposit{
			Size:          size,
			Richness:      richness,
			Depth:         depth,
			Accessibility: accessibility,
			Formation:     formations[fi],
		},
		Quality: core.VeinQuality{
			Grade:      Grade(richness),
			Purity:     purity,
			Complexity: t.Complexity,
			Yield:      int(math.Floor(size * richness * accessibility / t.Complexity)),
		},
		Environment: core.VeinEnvironment{
			Terrain: terrainType,
			Climate: g.field.Climate(p.X, p.Y),
			Hazards: g.hazards(p, t, depth, terrainType),
			Proximity: core.VeinProximity{
				NearWater:         g.nearWater(p),
				ChunkEdgeDistance: edgeDistance(p, coords.ChunkBounds(chunk, g.cfg.ChunkSize)),
			},
		},
		Metadata: core.VeinMetadata{
			Seed: seed,
			Tags: append([]string{t.Category}, t.Tags...),
		},
	}
	v.RecomputeExtraction()
	return v
}

// Grade is the quality ladder over richness.
func Grade(richness float64) core.QualityGrade {
	switch {
	case richness >= 0.8:
		return core.GradeUltra
	case richness >= 0.6:
		return core.GradeHigh
	case richness >= 0.4:
		return core.GradeMedium
	}
	return core.GradeLow
}

func (g *Generator) hazards(p core.WorldCoordinate, t Type, depth int, tt core.TerrainType) []string {
	out := make([]string, 0, 2)
	if t.Fissile {
		out = append(out, core.HazardRadiation)
	}

	depthFactor := float64(depth) / 10
	instability := depthFactor * 0.3
	if tt == core.TerrainMountains || tt == core.TerrainSwamp {
		instability += 0.1
	}

	if g.roll(p, saltPressure) < depthFactor*0.5 {
		out = append(out, core.HazardPressure)
	}
	if g.roll(p, saltInstability) < instability {
		out = append(out, core.HazardInstability)
	}
	if g.roll(p, saltToxicGas) < depthFactor*0.2 {
		out = append(out, core.HazardToxicGas)
	}
	return out
}

// roll is a uniform value in [0,1) fixed by the world seed and position.
func (g *Generator) roll(p core.WorldCoordinate, salt int64) float64 {
	scale := math.Pow10(coords.Precision)
	return noise.HashUnit(g.gen.Seed()^(salt*0x5851F42D4C957F2D),
		int(math.Round(p.X*scale)), int(math.Round(p.Y*scale)))
}

func (g *Generator) nearWater(p core.WorldCoordinate) bool {
	offsets := [][2]float64{{0, 0}, {waterReach, 0}, {-waterReach, 0}, {0, waterReach}, {0, -waterReach}}
	for _, d := range offsets {
		if terrain.IsWet(g.field.At(p.X+d[0], p.Y+d[1])) {
			return true
		}
	}
	return false
}

func edgeDistance(p core.WorldCoordinate, b coords.Bounds) float64 {
	d := math.Min(p.X-b.MinX, b.MaxX-p.X)
	d = math.Min(d, math.Min(p.Y-b.MinY, b.MaxY-p.Y))
	return math.Round(d*1000) / 1000
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
