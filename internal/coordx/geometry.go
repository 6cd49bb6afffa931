package coordx

import "math"

// Region is an axis-aligned rectangle in document units on a specific
// item (page or chapter). Region equality is by rounded coordinates at
// 0.1-unit precision, matching spec §3.
type Region struct {
	X, Y, W, H float64
}

// Rounded returns the region snapped to 0.1-unit precision, the
// canonical form used as a map key for "covered" bookkeeping.
func (r Region) Rounded() Region {
	return Region{
		X: round10th(r.X),
		Y: round10th(r.Y),
		W: round10th(r.W),
		H: round10th(r.H),
	}
}

// Overlaps reports whether two regions intersect.
func (r Region) Overlaps(o Region) bool {
	return r.X < o.X+o.W && o.X < r.X+r.W && r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

// Contains reports whether o lies entirely within r.
func (r Region) Contains(o Region) bool {
	return o.X >= r.X && o.Y >= r.Y && o.X+o.W <= r.X+r.W && o.Y+o.H <= r.Y+r.H
}

// ItemBounds is the intrinsic size of a page/chapter in document units.
type ItemBounds struct {
	Width, Height float64
}

// Point is a single document-unit coordinate.
type Point struct {
	X, Y float64
}

// Quad is the four corner coordinates of a character or search-hit
// rectangle, in document units, ordered top-left, top-right,
// bottom-right, bottom-left.
type Quad struct {
	TopLeft, TopRight, BottomRight, BottomLeft Point
}

// QuadFromRegion builds the axis-aligned quad for a rectangular region,
// the shape every quad in this module takes since neither the
// synthetic decoder nor the tile pipeline produces rotated text.
func QuadFromRegion(r Region) Quad {
	return Quad{
		TopLeft:     Point{X: r.X, Y: r.Y},
		TopRight:    Point{X: r.X + r.W, Y: r.Y},
		BottomRight: Point{X: r.X + r.W, Y: r.Y + r.H},
		BottomLeft:  Point{X: r.X, Y: r.Y + r.H},
	}
}

// TileCoord identifies a tile: (itemIndex, tileX, tileY, scale, tileSize).
type TileCoord struct {
	Item     int
	TileX    int
	TileY    int
	Scale    float64
	TileSize int
}

// TileRegion computes the page-space region covered by a tile
// coordinate, clipped to the item's bounds, per spec §6's bit-exact
// formula:
//
//	[tileX*T/S, tileY*T/S] -> [tileX*T/S + T/S, tileY*T/S + T/S]
//
// clipped to [0,0]-[W,H].
func TileRegion(c TileCoord, bounds ItemBounds) (Region, error) {
	unitSize := float64(c.TileSize) / c.Scale
	originX := float64(c.TileX) * unitSize
	originY := float64(c.TileY) * unitSize

	if originX >= bounds.Width || originY >= bounds.Height || originX < 0 || originY < 0 {
		return Region{}, errOutOfBounds
	}

	w := math.Min(unitSize, bounds.Width-originX)
	h := math.Min(unitSize, bounds.Height-originY)
	return Region{X: originX, Y: originY, W: w, H: h}, nil
}

// TilePixelDims returns the output pixel dimensions for a clipped tile
// region at the given scale: ceil(clipped_w*S) x ceil(clipped_h*S).
func TilePixelDims(region Region, scale float64) (w, h int) {
	w = int(math.Ceil(region.W * scale))
	h = int(math.Ceil(region.H * scale))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// CSSStretch is the compositing scale factor applied to a fallback
// tile rendered at tileScale but displayed at targetScale.
func CSSStretch(targetScale, tileScale float64) float64 {
	return targetScale / tileScale
}

// errOutOfBounds is a sentinel; callers wrap it with docerr at the
// package boundary where a *docerr.Error is expected (coordx has no
// dependency on docerr to stay leaf-level and import-cycle free).
var errOutOfBounds = outOfBoundsErr{}

type outOfBoundsErr struct{}

func (outOfBoundsErr) Error() string { return "tile origin outside item bounds" }

// IsOutOfBounds reports whether err is the out-of-bounds sentinel
// returned by TileRegion.
func IsOutOfBounds(err error) bool {
	_, ok := err.(outOfBoundsErr)
	return ok
}
