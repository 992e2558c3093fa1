// pkg/core/vein.go
package core

import (
	"errors"
	"math"
)

// QualityGrade is the coarse quality ladder derived from richness.
type QualityGrade string

const (
	GradeLow    QualityGrade = "LOW"
	GradeMedium QualityGrade = "MEDIUM"
	GradeHigh   QualityGrade = "HIGH"
	GradeUltra  QualityGrade = "ULTRA"
)

// Hazard names attached to vein environments.
const (
	HazardRadiation   = "radiation"
	HazardPressure    = "high_pressure"
	HazardInstability = "unstable_ground"
	HazardToxicGas    = "toxic_gas"
)

// ErrInvalidExtraction is returned when an extraction amount is not positive.
var ErrInvalidExtraction = errors.New("extraction amount must be positive")

// ResourceVein is a single resource deposit.
type ResourceVein struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Location    FullCoordinate  `json:"location"`
	Deposit     VeinDeposit     `json:"deposit"`
	Quality     VeinQuality     `json:"quality"`
	Extraction  VeinExtraction  `json:"extraction"`
	Discovery   VeinDiscovery   `json:"discovery"`
	Environment VeinEnvironment `json:"environment"`
	Metadata    VeinMetadata    `json:"metadata"`
}

// VeinDeposit describes the geology of the deposit.
type VeinDeposit struct {
	Size          float64 `json:"size"`
	Richness      float64 `json:"richness"`      // 0-1
	Depth         int     `json:"depth"`         // 1-10
	Accessibility float64 `json:"accessibility"` // 0-1
	Formation     string  `json:"formation"`
}

// VeinQuality is the economic grading of the deposit.
type VeinQuality struct {
	Grade      QualityGrade `json:"grade"`
	Purity     float64      `json:"purity"`
	Complexity float64      `json:"complexity"`
	Yield      int          `json:"yield"`
}

// VeinExtraction tracks how much of the deposit has been removed.
type VeinExtraction struct {
	TotalExtracted    float64 `json:"totalExtracted"`
	RemainingReserves float64 `json:"remainingReserves"`
	Depletion         float64 `json:"depletion"`
	Rate              float64 `json:"rate"`
}

// VeinDiscovery records whether anyone has found the vein.
type VeinDiscovery struct {
	Discovered     bool    `json:"discovered"`
	DiscoveredBy   string  `json:"discoveredBy,omitempty"`
	ScanConfidence float64 `json:"scanConfidence"`
}

// VeinEnvironment describes the surroundings of the vein.
type VeinEnvironment struct {
	Terrain   TerrainType   `json:"terrain"`
	Climate   string        `json:"climate"`
	Hazards   []string      `json:"hazards"`
	Proximity VeinProximity `json:"proximity"`
}

// VeinProximity holds distance information relative to the owning chunk.
type VeinProximity struct {
	NearWater         bool    `json:"nearWater"`
	ChunkEdgeDistance float64 `json:"chunkEdgeDistance"`
}

// VeinMetadata carries generation provenance.
type VeinMetadata struct {
	Seed int64    `json:"seed"`
	Tags []string `json:"tags"`
}

// HasHazard reports whether the vein carries the named hazard.
func (v *ResourceVein) HasHazard(name string) bool {
	for _, h := range v.Environment.Hazards {
		if h == name {
			return true
		}
	}
	return false
}

// IsExhausted reports whether no reserves remain.
func (v *ResourceVein) IsExhausted() bool {
	return v.Extraction.RemainingReserves <= 0
}

// RecomputeExtraction re-derives RemainingReserves and Depletion from
// TotalExtracted.
func (v *ResourceVein) RecomputeExtraction() {
	v.Extraction.RemainingReserves = math.Max(0, v.Deposit.Size-v.Extraction.TotalExtracted)

	capacity := v.Deposit.Size * v.Deposit.Richness
	if capacity <= 0 {
		v.Extraction.Depletion = 1
		return
	}
	v.Extraction.Depletion = clamp01(v.Extraction.TotalExtracted / capacity)
}

// ApplyExtraction removes up to amount from the vein and returns what was
// actually extracted.
func (v *ResourceVein) ApplyExtraction(amount float64) (float64, error) {
	if amount <= 0 || math.IsNaN(amount) {
		return 0, ErrInvalidExtraction
	}
	taken := math.Min(amount, v.Extraction.RemainingReserves)
	v.Extraction.TotalExtracted += taken
	v.RecomputeExtraction()
	return taken, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
