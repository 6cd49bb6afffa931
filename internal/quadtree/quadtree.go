// Package quadtree implements the per-page spatial tile index
// described in spec §4.3: a bounded quadtree over document-space
// regions that answers "best available content for this region"
// queries and enforces a per-page tile cap with fallback protection.
//
// The index never stores raster bytes — only a cache key referencing
// the one owning copy held by internal/tilecache. This mirrors the
// teacher's internal/tile/diskstore.go split between a small in-memory
// index and the (possibly spilled) byte payload, and structurally
// follows OpticalFlyer-goliath/rtree.go's Bounds-struct, mutex-guarded
// tree shape, adapted from an R-tree to a bounded quadtree.
package quadtree

import (
	"sort"
	"sync"

	"github.com/foliotile/tilecore/internal/coordx"
)

// Config tunes the adaptive subdivision and eviction policy.
type Config struct {
	// MaxTilesPerLeaf subdivides a leaf once it holds more tiles than this.
	MaxTilesPerLeaf int
	// MinRegionSize is the smallest region (on both axes, document units) eligible for subdivision.
	MinRegionSize float64
	// MaxNodesPerPage caps the node budget; subdivision stops once reached.
	MaxNodesPerPage int
	// MaxTilesPerPage is the hard per-page tile cap enforced on insert.
	MaxTilesPerPage int
	// FallbackMinScale protects tiles at or below this scale from eviction
	// while higher-scale tiles remain.
	FallbackMinScale float64
	// FallbackGrid is the F in the F x F protected-region grid used by EvictCandidates.
	FallbackGrid int
}

// DefaultConfig matches the defaults named in spec §4.3.
func DefaultConfig() Config {
	return Config{
		MaxTilesPerLeaf:  4,
		MinRegionSize:    16,
		MaxNodesPerPage:  500,
		MaxTilesPerPage:  400,
		FallbackMinScale: 4,
		FallbackGrid:     4,
	}
}

// Entry is a single stored tile: its coordinate, a reference to the
// owning cache entry, and bookkeeping for eviction ordering.
type Entry struct {
	Coord    coordx.TileCoord
	CacheKey string
	access   uint64
}

type tileKey struct {
	tx, ty   int
	scale    float64
	tileSize int
}

func keyOf(c coordx.TileCoord) tileKey {
	return tileKey{tx: c.TileX, ty: c.TileY, scale: c.Scale, tileSize: c.TileSize}
}

type node struct {
	bounds   coordx.Region
	tiles    map[tileKey]*Entry
	children [4]*node // nil when leaf; order: NW, NE, SW, SE
}

func newNode(bounds coordx.Region) *node {
	return &node{bounds: bounds, tiles: make(map[tileKey]*Entry)}
}

func (n *node) isLeaf() bool { return n.children[0] == nil }

// PageIndex is the quadtree for a single page/item.
type PageIndex struct {
	cfg       Config
	root      *node
	flat      map[tileKey]*Entry // O(1) lookup/removal across the whole page
	nodeCount int
	tileCount int
	nextSeq   uint64
}

// NewPageIndex creates the index for a page of the given bounds.
func NewPageIndex(bounds coordx.ItemBounds, cfg Config) *PageIndex {
	return &PageIndex{
		cfg:       cfg,
		root:      newNode(coordx.Region{X: 0, Y: 0, W: bounds.Width, H: bounds.Height}),
		flat:      make(map[tileKey]*Entry),
		nodeCount: 1,
	}
}

// Index owns one PageIndex per page of a document and implements the
// cross-page eviction-candidate query.
type Index struct {
	mu    sync.RWMutex
	cfg   Config
	pages map[int]*PageIndex
}

// New creates an empty multi-page index.
func New(cfg Config) *Index {
	return &Index{cfg: cfg, pages: make(map[int]*PageIndex)}
}

// Page returns (creating if necessary) the PageIndex for an item.
func (ix *Index) Page(item int, bounds coordx.ItemBounds) *PageIndex {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	p, ok := ix.pages[item]
	if !ok {
		p = NewPageIndex(bounds, ix.cfg)
		ix.pages[item] = p
	}
	return p
}

// DropPage removes a page's entire index, used on document/page unload.
func (ix *Index) DropPage(item int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.pages, item)
}

// DropAll removes every page, used on document unload.
func (ix *Index) DropAll() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.pages = make(map[int]*PageIndex)
}

// TileCount returns the number of tiles held by a single page's index.
func (p *PageIndex) TileCount() int {
	return p.tileCount
}

// Insert places a tile into the index, subdividing and evicting as needed.
func (p *PageIndex) Insert(coord coordx.TileCoord, cacheKey string) {
	region, err := coordx.TileRegion(coord, coordx.ItemBounds{Width: p.root.bounds.W, Height: p.root.bounds.H})
	if err != nil {
		return
	}

	k := keyOf(coord)
	p.nextSeq++
	entry := &Entry{Coord: coord, CacheKey: cacheKey, access: p.nextSeq}

	if old, exists := p.flat[k]; exists {
		old.CacheKey = cacheKey
		old.access = p.nextSeq
		return
	}

	target := p.place(p.root, region)
	target.tiles[k] = entry
	p.flat[k] = entry
	p.tileCount++

	p.maybeSubdivide(target)

	if p.tileCount > p.cfg.MaxTilesPerPage {
		p.evictOldest(p.tileCount - p.cfg.MaxTilesPerPage)
	}
}

// place walks from n down to the deepest node whose bounds fully
// contain region, recursing into the single child that contains it.
// A region straddling more than one child stays at the current node.
func (p *PageIndex) place(n *node, region coordx.Region) *node {
	for !n.isLeaf() {
		child := p.childContaining(n, region)
		if child == nil {
			return n
		}
		n = child
	}
	return n
}

func (p *PageIndex) childContaining(n *node, region coordx.Region) *node {
	for _, c := range n.children {
		if c != nil && c.bounds.Contains(region) {
			return c
		}
	}
	return nil
}

func (p *PageIndex) maybeSubdivide(n *node) {
	if !n.isLeaf() {
		return
	}
	if len(n.tiles) <= p.cfg.MaxTilesPerLeaf {
		return
	}
	if n.bounds.W <= p.cfg.MinRegionSize || n.bounds.H <= p.cfg.MinRegionSize {
		return
	}
	if p.nodeCount+4 > p.cfg.MaxNodesPerPage {
		return
	}

	halfW, halfH := n.bounds.W/2, n.bounds.H/2
	nw := newNode(coordx.Region{X: n.bounds.X, Y: n.bounds.Y, W: halfW, H: halfH})
	ne := newNode(coordx.Region{X: n.bounds.X + halfW, Y: n.bounds.Y, W: halfW, H: halfH})
	sw := newNode(coordx.Region{X: n.bounds.X, Y: n.bounds.Y + halfH, W: halfW, H: halfH})
	se := newNode(coordx.Region{X: n.bounds.X + halfW, Y: n.bounds.Y + halfH, W: halfW, H: halfH})
	n.children = [4]*node{nw, ne, sw, se}
	p.nodeCount += 4

	// Redistribute tiles that fit entirely in a single child; multi-child
	// (straddling) tiles remain at the parent.
	remaining := make(map[tileKey]*Entry)
	for k, e := range n.tiles {
		region, err := coordx.TileRegion(e.Coord, coordx.ItemBounds{Width: p.root.bounds.W, Height: p.root.bounds.H})
		if err != nil {
			continue
		}
		if child := p.childContaining(n, region); child != nil {
			child.tiles[k] = e
		} else {
			remaining[k] = e
		}
	}
	n.tiles = remaining
}

// evictOldest removes n tiles, evicting the lowest-access-sequence
// (oldest) first. Tiles at or below FallbackMinScale are protected and
// sorted last: they are only evicted once no unprotected tile remains.
func (p *PageIndex) evictOldest(n int) {
	if n <= 0 {
		return
	}
	entries := make([]*Entry, 0, len(p.flat))
	for _, e := range p.flat {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		pi, pj := entries[i].Coord.Scale <= p.cfg.FallbackMinScale, entries[j].Coord.Scale <= p.cfg.FallbackMinScale
		if pi != pj {
			return !pi // unprotected (pi==false) sorts first
		}
		return entries[i].access < entries[j].access
	})
	for i := 0; i < n && i < len(entries); i++ {
		p.remove(entries[i])
	}
}

func (p *PageIndex) remove(e *Entry) {
	k := keyOf(e.Coord)
	delete(p.flat, k)
	p.removeFromNode(p.root, k)
	p.tileCount--
}

func (p *PageIndex) removeFromNode(n *node, k tileKey) bool {
	if _, ok := n.tiles[k]; ok {
		delete(n.tiles, k)
		return true
	}
	for _, c := range n.children {
		if c != nil && p.removeFromNode(c, k) {
			return true
		}
	}
	return false
}

// Has reports whether a tile coordinate is currently indexed.
func (p *PageIndex) Has(coord coordx.TileCoord) bool {
	_, ok := p.flat[keyOf(coord)]
	return ok
}

// Remove deletes a tile coordinate from the index, if present.
func (p *PageIndex) Remove(coord coordx.TileCoord) {
	k := keyOf(coord)
	if e, ok := p.flat[k]; ok {
		p.remove(e)
	}
}
