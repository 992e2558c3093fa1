package core

import "math"

// MaxVeinRadius caps the footprint of a vein record so that footprints of
// neighbouring veins never overlap.
const MaxVeinRadius = 0.25

// VeinRecord is the durable spatial record of a vein, independent of the
// chunk payload it was generated with.
type VeinRecord struct {
	ID              string  `json:"id"`
	WorldID         string  `json:"worldId"`
	ResourceType    string  `json:"resourceType"`
	CenterX         float64 `json:"centerX"`
	CenterY         float64 `json:"centerY"`
	Radius          float64 `json:"radius"`
	Density         float64 `json:"density"`
	Quality         string  `json:"quality"`
	Depth           int     `json:"depth"`
	IsExhausted     bool    `json:"isExhausted"`
	ExtractedAmount float64 `json:"extractedAmount"`

	// Vein is the full generated vein when the store keeps it.
	Vein *ResourceVein `json:"vein,omitempty"`
}

// Center returns the record position.
func (r VeinRecord) Center() WorldCoordinate {
	return WorldCoordinate{X: r.CenterX, Y: r.CenterY}
}

// Record builds the spatial record for a vein.
func (v *ResourceVein) Record(worldID string) VeinRecord {
	vein := *v
	vein.Environment.Hazards = append([]string(nil), v.Environment.Hazards...)
	vein.Metadata.Tags = append([]string(nil), v.Metadata.Tags...)
	return VeinRecord{
		ID:              v.ID,
		WorldID:         worldID,
		ResourceType:    v.Type,
		CenterX:         v.Location.World.X,
		CenterY:         v.Location.World.Y,
		Radius:          math.Min(MaxVeinRadius, math.Sqrt(v.Deposit.Size)/200),
		Density:         v.Deposit.Richness,
		Quality:         string(v.Quality.Grade),
		Depth:           v.Deposit.Depth,
		IsExhausted:     v.IsExhausted(),
		ExtractedAmount: v.Extraction.TotalExtracted,
		Vein:            &vein,
	}
}
