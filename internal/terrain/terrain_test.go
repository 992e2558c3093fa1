package terrain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veinworld/worldserver/internal/noise"
	"github.com/veinworld/worldserver/pkg/core"
)

func TestClassify_DecisionTree(t *testing.T) {
	tests := []struct {
		name string
		s    Sample
		want core.TerrainType
	}{
		{"deep water", Sample{Elevation: -0.5}, core.TerrainOcean},
		{"peak", Sample{Elevation: 0.8}, core.TerrainMountains},
		{"wet lowland", Sample{Elevation: 0.0, Moisture: 0.3}, core.TerrainSwamp},
		{"dry lowland", Sample{Elevation: 0.0, Moisture: 0.1}, core.TerrainPlains},
		{"wet midland", Sample{Elevation: 0.3, Moisture: 0.2}, core.TerrainForest},
		{"dry midland", Sample{Elevation: 0.3, Moisture: -0.5}, core.TerrainHills},
		{"cold highland", Sample{Elevation: 0.6, Temperature: -0.5}, core.TerrainTundra},
		{"hot dry highland", Sample{Elevation: 0.6, Moisture: -0.3, Temperature: 0.2}, core.TerrainDesert},
		{"highland fallback", Sample{Elevation: 0.6, Moisture: 0.5, Temperature: 0.5}, core.TerrainHills},
		{"boundary -0.2 is land", Sample{Elevation: -0.2, Moisture: 0}, core.TerrainPlains},
		{"boundary 0.7 is highland", Sample{Elevation: 0.7, Temperature: -0.4}, core.TerrainTundra},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.s))
		})
	}
}

func TestGenerateChunkTerrain_Deterministic(t *testing.T) {
	a := NewField(noise.New(1234))
	b := NewField(noise.New(1234))

	for _, c := range [][2]int{{0, 0}, {-3, 7}, {100, -100}} {
		ga := a.GenerateChunkTerrain(c[0], c[1], 16)
		gb := b.GenerateChunkTerrain(c[0], c[1], 16)
		require.Equal(t, ga, gb)

		again := a.GenerateChunkTerrain(c[0], c[1], 16)
		require.Equal(t, ga, again)
	}
}

func TestGenerateChunkTerrain_Shape(t *testing.T) {
	f := NewField(noise.New(1))
	grid := f.GenerateChunkTerrain(2, -1, 16)

	require.Len(t, grid, 16)
	for _, row := range grid {
		require.Len(t, row, 16)
		for _, cell := range row {
			assert.NotEmpty(t, cell)
		}
	}
}

func TestGenerateChunkTerrain_MatchesPointQuery(t *testing.T) {
	f := NewField(noise.New(77))
	grid := f.GenerateChunkTerrain(-2, 3, 16)

	// cell (5, 9) of chunk (-2, 3) sits at world (-27, 57)
	assert.Equal(t, f.At(-27, 57), grid[9][5])
}

func TestLatitude(t *testing.T) {
	assert.InDelta(t, 0, Latitude(0), 1e-9)
	assert.InDelta(t, 1, Latitude(latitudePeriod/2), 1e-9)
	assert.InDelta(t, 1, Latitude(-latitudePeriod/2), 1e-9)
}

func TestClimate_Deterministic(t *testing.T) {
	f := NewField(noise.New(3))
	valid := map[string]bool{
		ClimatePolar: true, ClimateBoreal: true, ClimateTemperate: true,
		ClimateSubtropical: true, ClimateTropical: true,
	}
	for i := 0; i < 50; i++ {
		x, y := float64(i*97), float64(i*-331)
		c := f.Climate(x, y)
		assert.True(t, valid[c], "unexpected climate %q", c)
		assert.Equal(t, c, f.Climate(x, y))
	}
}
