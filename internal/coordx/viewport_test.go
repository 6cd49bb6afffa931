package coordx

import "testing"

func TestVisibleRegion(t *testing.T) {
	bounds := ItemBounds{Width: 612, Height: 792}
	v := Viewport{Camera: Camera{X: 0, Y: 0, Z: 1}, PixelW: 1000, PixelH: 800}

	r := VisibleRegion(v, bounds)
	if r.X != 0 || r.Y != 0 || r.W != 612 || r.H != 792 {
		t.Errorf("VisibleRegion = %+v, want full-page clip", r)
	}
}

func TestVisibleRegionZoomed(t *testing.T) {
	bounds := ItemBounds{Width: 1000, Height: 1000}
	v := Viewport{Camera: Camera{X: 100, Y: 100, Z: 2}, PixelW: 400, PixelH: 400}

	r := VisibleRegion(v, bounds)
	if r.X != 100 || r.Y != 100 || r.W != 200 || r.H != 200 {
		t.Errorf("VisibleRegion = %+v, want {100 100 200 200}", r)
	}
}

func TestRequiredTilesCoversVisibleRegionPlusMargin(t *testing.T) {
	// A visible region straddling tile (1,1) with a 1-tile margin should
	// cover the full 3x3 neighborhood around it.
	visible := Region{X: 256, Y: 256, W: 256, H: 256}
	tiles := RequiredTiles(0, visible, 1, 256, 1)

	if len(tiles) != 9 {
		t.Fatalf("got %d tiles, want 9", len(tiles))
	}

	seen := map[[2]int]bool{}
	for _, c := range tiles {
		seen[[2]int{c.TileX, c.TileY}] = true
	}
	for x := 0; x <= 2; x++ {
		for y := 0; y <= 2; y++ {
			if !seen[[2]int{x, y}] {
				t.Errorf("missing tile (%d, %d)", x, y)
			}
		}
	}
}

func TestRequiredTilesClampsNegativeIndicesAtPageOrigin(t *testing.T) {
	visible := Region{X: 0, Y: 0, W: 256, H: 256}
	tiles := RequiredTiles(0, visible, 1, 256, 1)

	for _, c := range tiles {
		if c.TileX < 0 || c.TileY < 0 {
			t.Errorf("unexpected negative tile index %+v", c)
		}
	}
}

func TestGridDistance(t *testing.T) {
	c := TileCoord{TileX: 3, TileY: 4}
	d := GridDistance(0, 0, 1, c)
	if d != 7 {
		t.Errorf("GridDistance = %d, want 7", d)
	}
}
