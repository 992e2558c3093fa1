// Package convert provides functions to convert between GORM models and core models
package convert

import (
	"encoding/json"

	"github.com/veinworld/worldserver/internal/geo"
	"github.com/veinworld/worldserver/internal/model"
	"github.com/veinworld/worldserver/pkg/core"
	"gorm.io/datatypes"
)

// veinToJSON serializes the full vein for the properties column.
func veinToJSON(v *core.ResourceVein) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("{}")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(data)
}

// CoreToVeinRecord converts a core.VeinRecord to a GORM model.VeinRecord.
func CoreToVeinRecord(r core.VeinRecord) model.VeinRecord {
	return model.VeinRecord{
		ID:              r.ID,
		WorldID:         r.WorldID,
		ResourceType:    r.ResourceType,
		CenterX:         r.CenterX,
		CenterY:         r.CenterY,
		Center:          geo.PointFromWorld(r.Center()),
		Radius:          r.Radius,
		Density:         r.Density,
		Quality:         r.Quality,
		Depth:           r.Depth,
		IsExhausted:     r.IsExhausted,
		ExtractedAmount: r.ExtractedAmount,
		Properties:      veinToJSON(r.Vein),
	}
}

// VeinRecordToCore converts a GORM VeinRecord to a core.VeinRecord.
// The embedded vein is restored when the properties column holds one.
func VeinRecordToCore(m model.VeinRecord) core.VeinRecord {
	r := core.VeinRecord{
		ID:              m.ID,
		WorldID:         m.WorldID,
		ResourceType:    m.ResourceType,
		CenterX:         m.CenterX,
		CenterY:         m.CenterY,
		Radius:          m.Radius,
		Density:         m.Density,
		Quality:         m.Quality,
		Depth:           m.Depth,
		IsExhausted:     m.IsExhausted,
		ExtractedAmount: m.ExtractedAmount,
	}
	if len(m.Properties) > 0 {
		var v core.ResourceVein
		if err := json.Unmarshal(m.Properties, &v); err == nil && v.ID != "" {
			v.Extraction.TotalExtracted = m.ExtractedAmount
			v.RecomputeExtraction()
			r.Vein = &v
		}
	}
	return r
}

// VeinRecordsToCore converts a slice of GORM records.
func VeinRecordsToCore(ms []model.VeinRecord) []core.VeinRecord {
	out := make([]core.VeinRecord, len(ms))
	for i, m := range ms {
		out[i] = VeinRecordToCore(m)
	}
	return out
}
