package quadtree

import (
	"sort"

	"github.com/foliotile/tilecore/internal/coordx"
)

// Result is one tile returned by GetBestAvailable: the stored entry
// plus the stretch factor needed to present it at the requested scale.
type Result struct {
	Entry      Entry
	CSSStretch float64
}

// GetBestAvailable finds the best already-rendered coverage of region
// for a request at targetScale (spec §4.3). Tiers are visited closest
// to targetScale first; any tier finer than 1.5x the target is never
// consulted, while every coarser tier is a candidate fallback (drawn
// upscaled by its CSSStretch). A tile from a coarser
// tier is only kept where it fills a gap no closer tier already covers,
// since two tiers partition the page into different grids and their
// tile indices are not otherwise comparable.
func (p *PageIndex) GetBestAvailable(region coordx.Region, targetScale float64) []Result {
	ceiling := targetScale * 1.5

	type candidateTier struct {
		scale float64
		dist  float64
	}
	var order []candidateTier
	for _, t := range coordx.Tiers {
		if t > ceiling {
			continue
		}
		d := t - targetScale
		if d < 0 {
			d = -d
		}
		order = append(order, candidateTier{scale: t, dist: d})
	}
	sort.Slice(order, func(i, j int) bool { return order[i].dist < order[j].dist })

	var results []Result
	var acceptedRegions []coordx.Region
	bounds := coordx.ItemBounds{Width: p.root.bounds.W, Height: p.root.bounds.H}

tierLoop:
	for _, ct := range order {
		for _, e := range p.overlapping(p.root, region, ct.scale) {
			tileRegion, err := coordx.TileRegion(e.Coord, bounds)
			if err != nil {
				continue
			}
			if coveredByAny(acceptedRegions, tileRegion) {
				continue
			}
			results = append(results, Result{Entry: *e, CSSStretch: coordx.CSSStretch(targetScale, ct.scale)})
			acceptedRegions = append(acceptedRegions, tileRegion)

			// Once a single accepted tile's region fully covers the
			// query region, no gap remains for a coarser tier to fill.
			if tileRegion.Contains(region) {
				break tierLoop
			}
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Entry.Coord.Scale != results[j].Entry.Coord.Scale {
			return results[i].Entry.Coord.Scale > results[j].Entry.Coord.Scale
		}
		if results[i].Entry.Coord.TileY != results[j].Entry.Coord.TileY {
			return results[i].Entry.Coord.TileY < results[j].Entry.Coord.TileY
		}
		return results[i].Entry.Coord.TileX < results[j].Entry.Coord.TileX
	})
	return results
}

func coveredByAny(regions []coordx.Region, r coordx.Region) bool {
	for _, existing := range regions {
		if existing.Contains(r) {
			return true
		}
	}
	return false
}

// overlapping collects every stored tile at exactly the given scale
// whose region overlaps the query region.
func (p *PageIndex) overlapping(n *node, region coordx.Region, scale float64) []*Entry {
	if n == nil || !n.bounds.Overlaps(region) {
		return nil
	}
	bounds := coordx.ItemBounds{Width: p.root.bounds.W, Height: p.root.bounds.H}
	var out []*Entry
	for _, e := range n.tiles {
		if e.Coord.Scale != scale {
			continue
		}
		tileRegion, err := coordx.TileRegion(e.Coord, bounds)
		if err != nil || !tileRegion.Overlaps(region) {
			continue
		}
		out = append(out, e)
	}
	for _, c := range n.children {
		out = append(out, p.overlapping(c, region, scale)...)
	}
	return out
}

// EvictionCandidate is a tile considered for cross-page eviction, along
// with its computed priority (higher means more evictable).
type EvictionCandidate struct {
	Page     int
	Entry    Entry
	Priority int
}

// EvictCandidates ranks tiles across every page by distance from the
// page/point currently being viewed, per spec §4.3: priority =
// pageDistance*10000 + spatialDistance. Tiles inside a page's F x F
// protected fallback grid cell that currently holds a tile at or below
// FallbackMinScale are skipped. Returns up to n candidates, highest
// priority (most evictable) first.
func (ix *Index) EvictCandidates(currentPage int, focalX, focalY float64, n int) []EvictionCandidate {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var all []EvictionCandidate
	for page, p := range ix.pages {
		pageDist := page - currentPage
		if pageDist < 0 {
			pageDist = -pageDist
		}
		protectedCells := p.protectedCells(ix.cfg.FallbackGrid, ix.cfg.FallbackMinScale)

		for _, e := range p.flat {
			if protectedCells[p.gridCell(e.Coord, ix.cfg.FallbackGrid)] {
				continue
			}
			dx := float64(e.Coord.TileX) - focalX
			dy := float64(e.Coord.TileY) - focalY
			spatialDist := int(dx*dx + dy*dy)
			all = append(all, EvictionCandidate{
				Page:     page,
				Entry:    *e,
				Priority: pageDist*10000 + spatialDist,
			})
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Priority > all[j].Priority })
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// gridCell maps a tile coordinate to its F x F grid cell within the page.
func (p *PageIndex) gridCell(c coordx.TileCoord, grid int) [2]int {
	unitW := p.root.bounds.W / float64(grid)
	unitH := p.root.bounds.H / float64(grid)
	if unitW <= 0 {
		unitW = 1
	}
	if unitH <= 0 {
		unitH = 1
	}
	region, err := coordx.TileRegion(c, coordx.ItemBounds{Width: p.root.bounds.W, Height: p.root.bounds.H})
	if err != nil {
		return [2]int{0, 0}
	}
	return [2]int{int(region.X / unitW), int(region.Y / unitH)}
}

// protectedCells returns the set of grid cells that currently hold at
// least one tile at or below fallbackMinScale, and are therefore
// frozen against cross-page eviction.
func (p *PageIndex) protectedCells(grid int, fallbackMinScale float64) map[[2]int]bool {
	out := make(map[[2]int]bool)
	for _, e := range p.flat {
		if e.Coord.Scale <= fallbackMinScale {
			out[p.gridCell(e.Coord, grid)] = true
		}
	}
	return out
}
