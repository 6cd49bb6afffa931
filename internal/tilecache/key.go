package tilecache

import "fmt"

// Key identifies one cached raster: a document, an item (page or
// chapter) within it, the quantised scale tier, and the tile grid
// coordinate at that scale, per spec §3.
type Key struct {
	DocID    string
	Item     int
	Scale    float64
	TileX    int
	TileY    int
	TileSize int
}

// String renders a stable, human-readable form used for log fields and
// metric labels.
func (k Key) String() string {
	return fmt.Sprintf("%s|%d|%g|%d|%d|%d", k.DocID, k.Item, k.Scale, k.TileX, k.TileY, k.TileSize)
}

// IsThumbnail reports whether this key addresses the fixed thumbnail
// scale (0.5) that the persistent L2 store keeps, per spec §5.2.
func (k Key) IsThumbnail() bool {
	return k.Scale == 0.5
}
