package coords

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/veinworld/worldserver/pkg/core"
)

func TestNormalize_RoundsToThreePlaces(t *testing.T) {
	tests := []struct {
		name  string
		x, y  float64
		wantX float64
		wantY float64
	}{
		{"already normal", 1.5, -2.25, 1.5, -2.25},
		{"drift", 0.1 + 0.2, 10.0004, 0.3, 10},
		{"rounds up", 1.0006, -1.0006, 1.001, -1.001},
		{"negative zero", -0.0001, 0.0001, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.x, tt.y)
			assert.Equal(t, tt.wantX, got.X)
			assert.Equal(t, tt.wantY, got.Y)
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		x := (rng.Float64() - 0.5) * 2 * MaxCoordinate
		y := (rng.Float64() - 0.5) * 2 * MaxCoordinate
		once := Normalize(x, y)
		twice := NormalizeCoord(once)
		require.Equal(t, once, twice, "normalize not idempotent for (%v, %v)", x, y)
	}
}

func TestToChunk_FloorsNegatives(t *testing.T) {
	tests := []struct {
		x, y float64
		want core.ChunkCoordinate
	}{
		{0, 0, core.ChunkCoordinate{ChunkX: 0, ChunkY: 0}},
		{15.999, 16, core.ChunkCoordinate{ChunkX: 0, ChunkY: 1}},
		{-0.001, -16, core.ChunkCoordinate{ChunkX: -1, ChunkY: -1}},
		{-16.001, -31.5, core.ChunkCoordinate{ChunkX: -2, ChunkY: -2}},
	}
	for _, tt := range tests {
		got := ToChunk(Normalize(tt.x, tt.y), DefaultChunkSize)
		assert.Equal(t, tt.want, got, "(%v, %v)", tt.x, tt.y)
	}
}

func TestToCell_TrueModulo(t *testing.T) {
	cell := ToCell(Normalize(-1, -17), DefaultChunkSize)
	assert.Equal(t, core.CellCoordinate{CellX: 15, CellY: 15}, cell)

	cell = ToCell(Normalize(33.7, 5.2), DefaultChunkSize)
	assert.Equal(t, core.CellCoordinate{CellX: 1, CellY: 5}, cell)
}

func TestToFull_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for _, size := range []int{1, 8, 16, 32} {
		for i := 0; i < 2000; i++ {
			x := (rng.Float64() - 0.5) * 20000
			y := (rng.Float64() - 0.5) * 20000
			full := ToFull(x, y, size)

			require.GreaterOrEqual(t, full.Cell.CellX, 0)
			require.Less(t, full.Cell.CellX, size)
			require.GreaterOrEqual(t, full.Cell.CellY, 0)
			require.Less(t, full.Cell.CellY, size)

			corner := FromChunkCell(full.Chunk, full.Cell, size)
			dx := full.World.X - corner.X
			dy := full.World.Y - corner.Y
			require.True(t, dx >= 0 && dx < 1, "x off by %v at size %d", dx, size)
			require.True(t, dy >= 0 && dy < 1, "y off by %v at size %d", dy, size)
		}
	}
}

func TestChunkBounds(t *testing.T) {
	b := ChunkBounds(core.ChunkCoordinate{ChunkX: -1, ChunkY: 2}, 16)
	assert.Equal(t, Bounds{MinX: -16, MinY: 32, MaxX: 0, MaxY: 48}, b)
	assert.True(t, b.Contains(core.WorldCoordinate{X: -0.001, Y: 32}))
	assert.False(t, b.Contains(core.WorldCoordinate{X: 0, Y: 40}))
}

func TestValidate(t *testing.T) {
	assert.True(t, Validate(0, 0))
	assert.True(t, Validate(MaxCoordinate, -MaxCoordinate))
	assert.False(t, Validate(MaxCoordinate+1, 0))
	assert.False(t, Validate(0, math.NaN()))
	assert.False(t, Validate(math.Inf(1), 0))
}

func TestAssertValid(t *testing.T) {
	require.NoError(t, AssertValid(10, 10))

	err := AssertValid(2e6, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCoordinateOutOfRange))

	var rangeErr *CoordinateOutOfRangeError
	require.True(t, errors.As(err, &rangeErr))
	assert.Equal(t, 2e6, rangeErr.X)
}

func TestAssertValidChunk(t *testing.T) {
	require.NoError(t, AssertValidChunk(core.ChunkCoordinate{ChunkX: 3, ChunkY: -3}, 16))
	assert.ErrorIs(t, AssertValidChunk(core.ChunkCoordinate{ChunkX: 62500, ChunkY: 0}, 16), ErrCoordinateOutOfRange)
	require.NoError(t, AssertValidChunk(core.ChunkCoordinate{ChunkX: 62499, ChunkY: -62500}, 16), "edge chunks")
	assert.ErrorIs(t, AssertValidChunk(core.ChunkCoordinate{ChunkX: 0, ChunkY: -62501}, 16), ErrCoordinateOutOfRange)
}

func TestAssertValidChunk_HugeIndicesDoNotWrap(t *testing.T) {
	for _, c := range []core.ChunkCoordinate{
		{ChunkX: 1 << 60, ChunkY: 0},
		{ChunkX: 0, ChunkY: -(1 << 60)},
		{ChunkX: math.MaxInt, ChunkY: math.MinInt},
	} {
		assert.ErrorIs(t, AssertValidChunk(c, 16), ErrCoordinateOutOfRange, "%+v", c)
	}

	o := ChunkOrigin(core.ChunkCoordinate{ChunkX: 1 << 60}, 16)
	assert.Greater(t, o.X, MaxCoordinate)
}

func TestMaxChunkIndex(t *testing.T) {
	assert.Equal(t, 62499, MaxChunkIndex(16))
	assert.Equal(t, 142856, MaxChunkIndex(7))
	assert.Equal(t, 0, MaxChunkIndex(0))
}

func TestDistance(t *testing.T) {
	assert.Equal(t, 5.0, Distance(core.WorldCoordinate{X: 0, Y: 0}, core.WorldCoordinate{X: 3, Y: 4}))
}

func TestChunksInRadius(t *testing.T) {
	chunks := ChunksInRadius(core.WorldCoordinate{X: 8, Y: 8}, 4, 16)
	assert.Equal(t, []core.ChunkCoordinate{{ChunkX: 0, ChunkY: 0}}, chunks)

	chunks = ChunksInRadius(core.WorldCoordinate{X: 0, Y: 0}, 1, 16)
	assert.Len(t, chunks, 4)
	assert.Contains(t, chunks, core.ChunkCoordinate{ChunkX: -1, ChunkY: -1})
	assert.Contains(t, chunks, core.ChunkCoordinate{ChunkX: 0, ChunkY: 0})

	chunks = ChunksInRadius(core.WorldCoordinate{X: 0, Y: 0}, 20, 16)
	assert.Len(t, chunks, 16)
	assert.Equal(t, core.ChunkCoordinate{ChunkX: -2, ChunkY: -2}, chunks[0])
}
