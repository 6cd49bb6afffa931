package coordx

import "math"

// Camera is the document-space translation plus zoom the viewport is
// currently rendered at.
type Camera struct {
	X, Y, Z float64
}

// Viewport is the current camera plus the viewport's pixel dimensions.
type Viewport struct {
	Camera        Camera
	PixelW        int
	PixelH        int
	FocalX        float64 // document-space focal point for priority (zoom/pan anchor)
	FocalY        float64
	HasFocalPoint bool
}

// Focal returns the focal point, defaulting to the viewport centre
// when none was supplied explicitly.
func (v Viewport) Focal(itemRegion Region) (x, y float64) {
	if v.HasFocalPoint {
		return v.FocalX, v.FocalY
	}
	return itemRegion.X + itemRegion.W/2, itemRegion.Y + itemRegion.H/2
}

// VisibleRegion projects the camera and viewport pixel size onto a
// single item's document-space coordinates, clipped to the item's
// bounds.
func VisibleRegion(v Viewport, bounds ItemBounds) Region {
	w := float64(v.PixelW) / v.Camera.Z
	h := float64(v.PixelH) / v.Camera.Z
	x := math.Max(0, v.Camera.X)
	y := math.Max(0, v.Camera.Y)
	w = math.Min(w, bounds.Width-x)
	h = math.Min(h, bounds.Height-y)
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return Region{X: x, Y: y, W: w, H: h}
}

// RequiredTiles computes the set of tile coordinates at the quantised
// scale S whose regions overlap the visible region, expanded by a
// configurable tile margin on each side (spec §4.5).
func RequiredTiles(item int, visible Region, scale float64, tileSize int, marginTiles int) []TileCoord {
	unitSize := float64(tileSize) / scale

	minTX := int(math.Floor(visible.X/unitSize)) - marginTiles
	minTY := int(math.Floor(visible.Y/unitSize)) - marginTiles
	maxTX := int(math.Ceil((visible.X+visible.W)/unitSize)) + marginTiles
	maxTY := int(math.Ceil((visible.Y+visible.H)/unitSize)) + marginTiles

	if minTX < 0 {
		minTX = 0
	}
	if minTY < 0 {
		minTY = 0
	}

	var out []TileCoord
	for ty := minTY; ty < maxTY; ty++ {
		for tx := minTX; tx < maxTX; tx++ {
			out = append(out, TileCoord{Item: item, TileX: tx, TileY: ty, Scale: scale, TileSize: tileSize})
		}
	}
	return out
}

// GridDistance returns the Manhattan distance in tile-grid units from
// the focal tile to the given tile, used to assign render priority.
func GridDistance(focalX, focalY float64, unitSize float64, c TileCoord) int {
	focalTX := int(math.Floor(focalX / unitSize))
	focalTY := int(math.Floor(focalY / unitSize))
	dx := c.TileX - focalTX
	if dx < 0 {
		dx = -dx
	}
	dy := c.TileY - focalTY
	if dy < 0 {
		dy = -dy
	}
	return dx + dy
}
