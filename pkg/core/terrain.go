package core

// TerrainType is the classification of a single world cell.
type TerrainType string

const (
	TerrainOcean     TerrainType = "OCEAN"
	TerrainMountains TerrainType = "MOUNTAINS"
	TerrainSwamp     TerrainType = "SWAMP"
	TerrainPlains    TerrainType = "PLAINS"
	TerrainForest    TerrainType = "FOREST"
	TerrainHills     TerrainType = "HILLS"
	TerrainTundra    TerrainType = "TUNDRA"
	TerrainDesert    TerrainType = "DESERT"
)

// TerrainGrid is a chunkSize x chunkSize matrix indexed [cellY][cellX].
type TerrainGrid [][]TerrainType

// NewTerrainGrid allocates an empty grid of the given size.
func NewTerrainGrid(size int) TerrainGrid {
	grid := make(TerrainGrid, size)
	for y := range grid {
		grid[y] = make([]TerrainType, size)
	}
	return grid
}

// At returns the terrain at a cell. Out of range cells return "".
func (g TerrainGrid) At(cell CellCoordinate) TerrainType {
	if cell.CellY < 0 || cell.CellY >= len(g) {
		return ""
	}
	row := g[cell.CellY]
	if cell.CellX < 0 || cell.CellX >= len(row) {
		return ""
	}
	return row[cell.CellX]
}

// Clone returns a deep copy of the grid.
func (g TerrainGrid) Clone() TerrainGrid {
	if g == nil {
		return nil
	}
	out := make(TerrainGrid, len(g))
	for y, row := range g {
		out[y] = append([]TerrainType(nil), row...)
	}
	return out
}
