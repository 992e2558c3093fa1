package geo

import (
	"errors"
	"strconv"
	"strings"

	"github.com/veinworld/worldserver/internal/coords"
	"github.com/veinworld/worldserver/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// GEO POINTS
// The world is a flat plane, so points are stored without an SRID in world
// units. Geometry is stored as WKB; SQLite keeps it as an opaque blob and
// relies on the center_x/center_y columns for envelope queries.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

// PointFromWorld converts a world coordinate into a point.
func PointFromWorld(c core.WorldCoordinate) geom.Point {
	return geom.NewPoint(geom.Coordinates{XY: geom.XY{X: c.X, Y: c.Y}})
}

// WorldFromPoint converts a point back into a normalized world coordinate.
// Empty points report false.
func WorldFromPoint(p geom.Point) (core.WorldCoordinate, bool) {
	c, ok := p.Coordinates()
	if !ok {
		return core.WorldCoordinate{}, false
	}
	return coords.Normalize(c.XY.X, c.XY.Y), true
}

// WorldFromString parses "x,y" into a normalized world coordinate and checks
// that it lies within the world bounds.
func WorldFromString(s string) (core.WorldCoordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return core.WorldCoordinate{}, ErrInvalidCoordinates
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return core.WorldCoordinate{}, ErrInvalidCoordinates
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return core.WorldCoordinate{}, ErrInvalidCoordinates
	}
	if err := coords.AssertValid(x, y); err != nil {
		return core.WorldCoordinate{}, err
	}
	return coords.Normalize(x, y), nil
}

// Within reports whether c lies in the circle (center, radius).
func Within(c, center core.WorldCoordinate, radius float64) bool {
	return coords.Distance(c, center) <= radius
}

// Circle is the bounding square of a circle, used to narrow radius queries
// before the exact distance check.
func Circle(center core.WorldCoordinate, radius float64) coords.Bounds {
	return coords.Bounds{
		MinX: center.X - radius,
		MinY: center.Y - radius,
		MaxX: center.X + radius,
		MaxY: center.Y + radius,
	}
}
