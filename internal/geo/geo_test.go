package geo

import (
	"errors"
	"testing"

	"github.com/veinworld/worldserver/internal/coords"
	"github.com/veinworld/worldserver/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

func TestPointFromWorld_RoundTrip(t *testing.T) {
	in := core.WorldCoordinate{X: -100.5, Y: 200.25}
	p := PointFromWorld(in)

	out, ok := WorldFromPoint(p)
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if out != in {
		t.Errorf("expected %v, got %v", in, out)
	}
}

func TestWorldFromPoint_Normalizes(t *testing.T) {
	p := geom.NewPoint(geom.Coordinates{XY: geom.XY{X: 0.1 + 0.2, Y: -1.00049}})

	out, ok := WorldFromPoint(p)
	if !ok {
		t.Fatal("expected valid coordinates")
	}
	if out.X != 0.3 || out.Y != -1 {
		t.Errorf("expected (0.3, -1), got %v", out)
	}
}

func TestWorldFromPoint_Empty(t *testing.T) {
	_, ok := WorldFromPoint(geom.NewEmptyPoint(geom.DimXY))
	if ok {
		t.Error("expected empty point to report false")
	}
}

func TestWorldFromString(t *testing.T) {
	c, err := WorldFromString("12.3456, -7")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.X != 12.346 || c.Y != -7 {
		t.Errorf("expected (12.346, -7), got %v", c)
	}
}

func TestWorldFromString_Invalid(t *testing.T) {
	for _, in := range []string{"", "1", "a,b", "1,2,3"} {
		if _, err := WorldFromString(in); !errors.Is(err, ErrInvalidCoordinates) {
			t.Errorf("%q: expected ErrInvalidCoordinates, got %v", in, err)
		}
	}
}

func TestWorldFromString_OutOfRange(t *testing.T) {
	_, err := WorldFromString("2000000,0")
	if !errors.Is(err, coords.ErrCoordinateOutOfRange) {
		t.Errorf("expected ErrCoordinateOutOfRange, got %v", err)
	}
}

func TestWithinAndCircle(t *testing.T) {
	center := core.WorldCoordinate{X: 10, Y: 10}
	if !Within(core.WorldCoordinate{X: 13, Y: 14}, center, 5) {
		t.Error("expected point at distance 5 to be within radius 5")
	}
	if Within(core.WorldCoordinate{X: 14, Y: 14}, center, 5) {
		t.Error("expected corner of bounding square to be outside the circle")
	}

	b := Circle(center, 5)
	if b.MinX != 5 || b.MaxY != 15 {
		t.Errorf("unexpected bounds %+v", b)
	}
}
