// Package coordinator implements the render coordinator of spec §4.5:
// it turns viewport state into dispatched tile requests, composites
// best-available fallback content immediately so a frame is never
// blank, retries dropped tiles with backoff, and sheds low-priority
// prefetch work under back-pressure.
//
// Grounded on the teacher's internal/tile/generator.go pipeline shape
// (compute work set, fan out, collect results) and on
// brawer-wikidata-qrank/cmd/tilerank-builder/paint.go's
// errgroup.WithContext cancellation pattern, adapted from a one-shot
// batch pipeline into a long-lived, supersedable per-document loop.
package coordinator

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/foliotile/tilecore/internal/coordx"
	"github.com/foliotile/tilecore/internal/docerr"
	"github.com/foliotile/tilecore/internal/pool"
	"github.com/foliotile/tilecore/internal/quadtree"
	"github.com/foliotile/tilecore/internal/sharedmem"
	"github.com/foliotile/tilecore/internal/tilecache"
)

// Gesture is the coordinator's simple per-document lifecycle: idle,
// gesture (viewport actively changing) and render (work in flight
// after a gesture ends). Gesture state suppresses low-priority
// prefetch; a watchdog forces idle if no progress is observed.
type Gesture int

const (
	StateIdle Gesture = iota
	StateGesture
	StateRender
)

func (s Gesture) String() string {
	switch s {
	case StateGesture:
		return "gesture"
	case StateRender:
		return "render"
	default:
		return "idle"
	}
}

// Config tunes the coordinator's dispatch, retry and prefetch policy.
type Config struct {
	TileSize            int
	MarginTiles         int
	MaxRetries          int
	RetryBaseDelay      time.Duration
	WatchdogInterval    time.Duration
	MaxInFlightPrefetch int64
	LinearPrefetchCount int
	MaxPrefetchQueue    int
	PrefetchJumpReset   int
	EncodeQuality       int
	SharedMemSlots      int64
}

// DefaultConfig matches the defaults named in spec §4.5.
func DefaultConfig() Config {
	return Config{
		TileSize:            256,
		MarginTiles:         1,
		MaxRetries:          3,
		RetryBaseDelay:      100 * time.Millisecond,
		WatchdogInterval:    5 * time.Second,
		MaxInFlightPrefetch: 6,
		LinearPrefetchCount: 2,
		MaxPrefetchQueue:    6,
		PrefetchJumpReset:   10,
		EncodeQuality:       80,
		SharedMemSlots:      16,
	}
}

// Event reports one piece of composited content: either already-cached
// fallback content found immediately on UpdateViewport, or a freshly
// completed render.
type Event struct {
	Coord      coordx.TileCoord
	Image      image.Image
	Blob       []byte
	CSSStretch float64
	Fallback   bool
	Err        error
}

// Coordinator drives rendering for a single open document.
type Coordinator struct {
	docID  string
	pool   *pool.Pool
	cache  *tilecache.Cache
	index  *quadtree.Index
	cfg    Config
	log    *zap.Logger
	raster *sharedmem.Pool

	prefetchSem *semaphore.Weighted

	events chan Event

	mu           sync.Mutex
	state        Gesture
	activeSeq    *Sequence
	lastCenter   int
	watchdogStop chan struct{}
}

// New creates a coordinator for docID, backed by the given shared
// worker pool and tile cache, and a private spatial index.
func New(docID string, p *pool.Pool, cache *tilecache.Cache, cfg Config, log *zap.Logger) *Coordinator {
	if cfg.MaxRetries == 0 && cfg.RetryBaseDelay == 0 {
		cfg = DefaultConfig()
	}
	return &Coordinator{
		docID:       docID,
		pool:        p,
		cache:       cache,
		index:       quadtree.New(quadtree.DefaultConfig()),
		cfg:         cfg,
		log:         log,
		raster:      sharedmem.New(sharedmem.Config{MaxSlots: cfg.SharedMemSlots}),
		prefetchSem: semaphore.NewWeighted(cfg.MaxInFlightPrefetch),
		events:      make(chan Event, 64),
	}
}

// Events returns the channel of composited tile events. Callers (the
// provider façade) drain this to blit content to the reader surface.
func (c *Coordinator) Events() <-chan Event { return c.events }

// Index exposes the document's spatial index, used by the provider to
// answer getThumbnail/renderItemWithFallback lookups directly.
func (c *Coordinator) Index() *quadtree.Index { return c.index }

func (c *Coordinator) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.log.Warn("dropping render event, channel full", zap.String("doc", c.docID))
	}
}

// BeginGesture transitions into the gesture state, suppressing
// low-priority prefetch until EndGesture.
func (c *Coordinator) BeginGesture() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateGesture
}

// EndGesture transitions out of gesture into render state and starts
// the inactivity watchdog for the active sequence.
func (c *Coordinator) EndGesture() {
	c.mu.Lock()
	c.state = StateRender
	c.mu.Unlock()
	c.startWatchdog()
}

func (c *Coordinator) inGesture() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateGesture
}

// UpdateViewport computes the required tile set for item's visible
// region at the viewport's quantised scale, composites whatever
// best-available content the index already has, supersedes the
// previous active sequence (whatever item it was for), and dispatches requests
// for every required tile not already cached at the exact scale.
func (c *Coordinator) UpdateViewport(ctx context.Context, item int, bounds coordx.ItemBounds, vp coordx.Viewport) error {
	scale := coordx.QuantizeScale(vp.Camera.Z)
	visible := coordx.VisibleRegion(vp, bounds)
	focalX, focalY := vp.Focal(visible)
	unitSize := float64(c.cfg.TileSize) / scale

	required := coordx.RequiredTiles(item, visible, scale, c.cfg.TileSize, c.cfg.MarginTiles)

	page := c.index.Page(item, bounds)
	for _, res := range page.GetBestAvailable(visible, scale) {
		blob, ok := c.cache.Get(tilecache.Key{
			DocID: c.docID, Item: item, Scale: res.Entry.Coord.Scale,
			TileX: res.Entry.Coord.TileX, TileY: res.Entry.Coord.TileY, TileSize: res.Entry.Coord.TileSize,
		})
		if !ok {
			continue
		}
		c.emit(Event{Coord: res.Entry.Coord, Blob: blob, CSSStretch: res.CSSStretch, Fallback: true})
	}

	c.mu.Lock()
	if c.activeSeq != nil {
		c.activeSeq.Supersede()
	}
	seq := newSequence(uuid.NewString(), item, scale, time.Now())
	seq.ctx = ctx
	seq.bounds = bounds
	c.activeSeq = seq
	if c.state != StateGesture {
		c.state = StateRender
	}
	c.mu.Unlock()

	for _, coord := range required {
		key := tilecache.Key{DocID: c.docID, Item: item, Scale: coord.Scale, TileX: coord.TileX, TileY: coord.TileY, TileSize: coord.TileSize}
		if c.cache.Has(key) {
			continue
		}
		dist := coordx.GridDistance(focalX, focalY, unitSize, coord)
		prio := PriorityForDistance(dist)
		go c.dispatchTile(ctx, seq, coord, bounds, prio)
	}

	c.startWatchdog()
	return nil
}

// dispatchTile is the entry point for one tile request: it tracks the
// tile in the sequence's integrity map, applies shedding for sheddable
// priorities, and renders.
func (c *Coordinator) dispatchTile(ctx context.Context, seq *Sequence, coord coordx.TileCoord, bounds coordx.ItemBounds, prio Priority) {
	seq.track(coord, prio)

	if prio.Sheddable() {
		if seq.Superseded() || c.inGesture() {
			return
		}
		if !c.prefetchSem.TryAcquire(1) {
			return
		}
		defer c.prefetchSem.Release(1)
	}

	c.renderOnce(ctx, seq, coord, bounds, prio, 0)
}

// renderOnce issues a single render attempt and schedules a retry with
// exponential back-off on failure, up to cfg.MaxRetries.
func (c *Coordinator) renderOnce(ctx context.Context, seq *Sequence, coord coordx.TileCoord, bounds coordx.ItemBounds, prio Priority, attempt int) {
	if prio.Sheddable() && seq.Superseded() {
		return
	}

	region, err := coordx.TileRegion(coord, bounds)
	if err != nil {
		seq.fail(coord, c.cfg.MaxRetries)
		c.emit(Event{Coord: coord, Err: err})
		return
	}

	w, err := c.pool.Dispatch(ctx, c.docID, "")
	if err != nil {
		c.retryOrGiveUp(ctx, seq, coord, bounds, prio, attempt, err)
		return
	}

	raw, err := w.RenderTile(ctx, coord.Item, coord.Scale, region)
	if err != nil {
		c.retryOrGiveUp(ctx, seq, coord, bounds, prio, attempt, err)
		return
	}

	img, ok := raw.(image.Image)
	if !ok {
		c.retryOrGiveUp(ctx, seq, coord, bounds, prio, attempt,
			docerr.New(docerr.KindDecoderError, "render result was not an image"))
		return
	}

	blob, err := c.encodeTile(ctx, img)
	if err != nil {
		c.retryOrGiveUp(ctx, seq, coord, bounds, prio, attempt, err)
		return
	}

	key := tilecache.Key{DocID: c.docID, Item: coord.Item, Scale: coord.Scale, TileX: coord.TileX, TileY: coord.TileY, TileSize: coord.TileSize}
	c.cache.Set(key, blob)
	c.index.Page(coord.Item, bounds).Insert(coord, key.String())

	seq.complete(coord, time.Now())
	c.emit(Event{Coord: coord, Image: img, Blob: blob, CSSStretch: 1})
}

// encodeTile copies a decoded tile into a pooled raster buffer before
// encoding it, so a burst of concurrent renders reuses a bounded set
// of RGBA buffers instead of each allocating its own. Falls back to
// encoding img directly if no slot is free under ctx's deadline.
func (c *Coordinator) encodeTile(ctx context.Context, img image.Image) ([]byte, error) {
	b := img.Bounds()
	buf, err := c.raster.Acquire(ctx, b.Dx(), b.Dy())
	if err != nil {
		return EncodeTile(img, c.cfg.EncodeQuality)
	}
	defer c.raster.Release(buf)

	draw.Draw(buf, buf.Bounds(), img, b.Min, draw.Src)
	return EncodeTile(buf, c.cfg.EncodeQuality)
}

func (c *Coordinator) retryOrGiveUp(ctx context.Context, seq *Sequence, coord coordx.TileCoord, bounds coordx.ItemBounds, prio Priority, attempt int, cause error) {
	attempts, retryable := seq.fail(coord, c.cfg.MaxRetries)
	if !retryable {
		c.log.Warn("giving up on tile after retries",
			zap.String("doc", c.docID), zap.Int("item", coord.Item), zap.Int("attempts", attempts))
		c.emit(Event{Coord: coord, Err: fmt.Errorf("exhausted retries: %w", cause)})
		return
	}
	delay := c.cfg.RetryBaseDelay * time.Duration(1<<uint(attempt))
	time.AfterFunc(delay, func() {
		if seq.Superseded() && prio.Sheddable() {
			return
		}
		c.renderOnce(ctx, seq, coord, bounds, prio, attempt+1)
	})
}

// startWatchdog ensures a single background goroutine finalizes the
// active sequence on completion or on 5s inactivity, then returns the
// coordinator to idle.
func (c *Coordinator) startWatchdog() {
	c.mu.Lock()
	if c.watchdogStop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.watchdogStop = stop
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(c.cfg.WatchdogInterval / 5)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.mu.Lock()
				seq := c.activeSeq
				c.mu.Unlock()
				if seq == nil {
					continue
				}
				if seq.Done() {
					c.finalizeAndIdle(stop)
					return
				}
				if seq.Idle(time.Now(), c.cfg.WatchdogInterval) {
					c.log.Warn("render sequence watchdog fired", zap.String("doc", c.docID), zap.String("sequence", seq.ID))
					c.retryPending(seq)
					c.finalizeAndIdle(stop)
					return
				}
			}
		}
	}()
}

// retryPending re-dispatches every tile in seq still missing at
// finalize time (shed for back-pressure, dropped by a full prefetch
// semaphore, or never reaching a terminal outcome) rather than
// abandoning it once the sequence goes idle, per the watchdog's
// finalize-time retry pass. A sequence created outside UpdateViewport
// (PrefetchLinear's own newSequence) never sets ctx, so it carries
// nothing worth resurrecting here; its tiles are low-priority and
// already allowed to be dropped under back-pressure.
func (c *Coordinator) retryPending(seq *Sequence) {
	if seq.ctx == nil {
		return
	}
	for _, pt := range seq.Pending(c.cfg.MaxRetries) {
		c.log.Warn("re-dispatching tile at sequence finalize",
			zap.String("doc", c.docID), zap.String("sequence", seq.ID),
			zap.Int("tileX", pt.coord.TileX), zap.Int("tileY", pt.coord.TileY))
		go c.dispatchTile(seq.ctx, seq, pt.coord, seq.bounds, pt.prio)
	}
}

func (c *Coordinator) finalizeAndIdle(stop chan struct{}) {
	c.mu.Lock()
	if c.watchdogStop == stop {
		c.watchdogStop = nil
	}
	if c.state != StateGesture {
		c.state = StateIdle
	}
	c.mu.Unlock()
}

// PrefetchLinear queues ± cfg.LinearPrefetchCount items around
// centerItem at Low priority, capped at cfg.MaxPrefetchQueue. A jump of
// more than cfg.PrefetchJumpReset items from the last prefetch centre
// is treated as a fresh navigation, not an incremental pan.
func (c *Coordinator) PrefetchLinear(ctx context.Context, centerItem, totalItems int, boundsOf func(item int) (coordx.ItemBounds, error), scale float64) {
	c.mu.Lock()
	jumped := absInt(centerItem-c.lastCenter) > c.cfg.PrefetchJumpReset
	c.lastCenter = centerItem
	seq := c.activeSeq
	c.mu.Unlock()

	if seq == nil || jumped {
		seq = newSequence(uuid.NewString(), centerItem, scale, time.Now())
		c.mu.Lock()
		c.activeSeq = seq
		c.mu.Unlock()
	}

	queued := 0
	for d := 1; d <= c.cfg.LinearPrefetchCount && queued < c.cfg.MaxPrefetchQueue; d++ {
		for _, item := range []int{centerItem - d, centerItem + d} {
			if item < 0 || item >= totalItems || queued >= c.cfg.MaxPrefetchQueue {
				continue
			}
			bounds, err := boundsOf(item)
			if err != nil {
				continue
			}
			coord := coordx.TileCoord{Item: item, TileX: 0, TileY: 0, Scale: scale, TileSize: c.cfg.TileSize}
			key := tilecache.Key{DocID: c.docID, Item: item, Scale: scale, TileX: 0, TileY: 0, TileSize: c.cfg.TileSize}
			if c.cache.Has(key) {
				continue
			}
			queued++
			go c.dispatchTile(ctx, seq, coord, bounds, PriorityLow)
		}
	}
}

// SpatialPrefetch ripples out from centerItem in an N-column grid
// layout by Manhattan distance, returning items within radius r
// ordered nearest first. Callers use this ordering to drive their own
// dispatch with priority promoted for closer items; this is pure
// layout math with no side effects, grounded on spec §4.5's "spatial
// (grid layouts)" strategy.
func SpatialPrefetch(centerItem, columns, radius, totalItems int) []int {
	if columns <= 0 {
		columns = 1
	}
	cx, cy := centerItem%columns, centerItem/columns

	type candidate struct {
		item, dist int
	}
	var out []candidate
	for item := 0; item < totalItems; item++ {
		if item == centerItem {
			continue
		}
		x, y := item%columns, item/columns
		dist := absInt(x-cx) + absInt(y-cy)
		if dist <= radius {
			out = append(out, candidate{item: item, dist: dist})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })

	items := make([]int, len(out))
	for i, c := range out {
		items[i] = c.item
	}
	return items
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// Close stops the coordinator's background watchdog.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchdogStop != nil {
		close(c.watchdogStop)
		c.watchdogStop = nil
	}
}
