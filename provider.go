// Package docreader is the public façade of the tile rendering core:
// load a document, render pages/tiles, extract text and chapters, and
// keep a prioritised, never-blank viewport painted. It wires together
// internal/pool, internal/tilecache, internal/thumbstore and
// internal/coordinator behind the single entry point the rest of a
// reader application talks to, replacing the module-level singletons
// a straight port of the source system would otherwise carry.
package docreader

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	"github.com/foliotile/tilecore/internal/config"
	"github.com/foliotile/tilecore/internal/coordinator"
	"github.com/foliotile/tilecore/internal/coordx"
	"github.com/foliotile/tilecore/internal/decoder"
	"github.com/foliotile/tilecore/internal/docerr"
	"github.com/foliotile/tilecore/internal/logging"
	"github.com/foliotile/tilecore/internal/metrics"
	"github.com/foliotile/tilecore/internal/pool"
	"github.com/foliotile/tilecore/internal/thumbstore"
	"github.com/foliotile/tilecore/internal/tilecache"
)

// ParsedDocument is what loadDocument returns: the document's shape as
// the decoder reported it on open.
type ParsedDocument struct {
	DocID        string
	Format       string
	ItemCount    int
	TOC          []decoder.TocEntry
	HasTextLayer bool
}

// FallbackResult is renderItemWithFallback's return value: immediately
// available content plus, when it isn't already full quality, a
// channel that resolves once the full-quality render lands.
type FallbackResult struct {
	Initial       []byte
	InitialScale  float64
	IsFullQuality bool
	Upgrade       <-chan []byte // nil when IsFullQuality is true
}

type documentSession struct {
	docID        string
	format       string
	itemCount    int
	hasTextLayer bool
	toc          []decoder.TocEntry
	contentHash  string
	bounds       sync.Map // item int -> coordx.ItemBounds
	coord        *coordinator.Coordinator
}

// Provider is the root object an application creates once per process
// (or once per reader window); it owns the shared worker pool and tile
// cache and hosts one coordinator per open document.
type Provider struct {
	cfg     *config.Config
	log     *zap.Logger
	metrics *metrics.Metrics

	pool   *pool.Pool
	opener decoder.Opener
	cache  *tilecache.Cache
	thumb  *thumbstore.Store // nil when persistence is disabled

	mu   sync.RWMutex
	docs map[string]*documentSession
}

// Option configures New.
type Option func(*providerOptions)

type providerOptions struct {
	cfg     *config.Config
	log     *zap.Logger
	opener  decoder.Opener
	noThumb bool
}

// WithConfig overrides the environment-derived default configuration.
func WithConfig(cfg *config.Config) Option { return func(o *providerOptions) { o.cfg = cfg } }

// WithLogger overrides the default zap logger.
func WithLogger(log *zap.Logger) Option { return func(o *providerOptions) { o.log = log } }

// WithOpener overrides the default synthetic decoder.Opener with a
// real codec binding.
func WithOpener(opener decoder.Opener) Option { return func(o *providerOptions) { o.opener = opener } }

// WithoutPersistentThumbnails disables the on-disk L2 tier, leaving
// the in-memory L1 cache as the only tier.
func WithoutPersistentThumbnails() Option { return func(o *providerOptions) { o.noThumb = true } }

// New builds a Provider: a worker pool, a two-tier tile cache, and (by
// default) a persistent thumbnail store rooted at cfg.ThumbstoreDir.
func New(opts ...Option) (*Provider, error) {
	o := &providerOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.cfg == nil {
		o.cfg = config.Load()
	}
	if o.log == nil {
		log, err := logging.New(o.cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("docreader: building logger: %w", err)
		}
		o.log = log
	}
	if o.opener == nil {
		o.opener = decoder.NewMemOpener()
	}

	p := &Provider{
		cfg:     o.cfg,
		log:     o.log,
		opener:  o.opener,
		metrics: metrics.New(),
		docs:    make(map[string]*documentSession),
	}

	p.pool = pool.New(pool.Config{
		Size:          o.cfg.WorkerPoolSize,
		QueueDepth:    o.cfg.WorkerQueueDepth,
		MaxQueueDepth: o.cfg.WorkerMaxQueueDepth,
	}, o.opener, o.log)

	if !o.noThumb {
		store, err := thumbstore.Open(o.cfg.ThumbstoreDir)
		if err != nil {
			p.log.Warn("persistent thumbnail store unavailable, falling back to memory-only cache", zap.Error(err))
		} else {
			p.thumb = store
		}
	}

	l1 := tilecache.NewMemory(o.cfg.CacheMaxBytes)
	var l2 tilecache.PersistentStore
	if p.thumb != nil {
		l2 = p.thumb
	}
	p.cache = tilecache.New(l1, l2, p.contentHashOf, p.log)

	return p, nil
}

// Metrics exposes the Provider's Prometheus counters, for an embedding
// application that wants to scrape or print them directly.
func (p *Provider) Metrics() *metrics.Metrics { return p.metrics }

func (p *Provider) contentHashOf(docID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sess, ok := p.docs[docID]
	if !ok {
		return "", false
	}
	return sess.contentHash, true
}

func (p *Provider) coordinatorConfig() coordinator.Config {
	return coordinator.Config{
		TileSize:            p.cfg.TileSize,
		MarginTiles:         p.cfg.MarginTiles,
		MaxRetries:          p.cfg.MaxRetries,
		RetryBaseDelay:      p.cfg.RetryBaseDelay,
		WatchdogInterval:    p.cfg.WatchdogInterval,
		MaxInFlightPrefetch: p.cfg.MaxInFlightPrefetch,
		LinearPrefetchCount: p.cfg.LinearPrefetchCount,
		MaxPrefetchQueue:    p.cfg.MaxPrefetchQueue,
		PrefetchJumpReset:   p.cfg.PrefetchJumpReset,
		EncodeQuality:       p.cfg.EncodeQuality,
		SharedMemSlots:      p.cfg.SharedMemSlots,
	}
}

// detectFormat sniffs a document's format from its magic bytes, per
// spec §6: "%PDF" ⇒ pdf, "PK" (zip) ⇒ epub. mimeHint disambiguates
// nothing else recognizes.
func detectFormat(data []byte, mimeHint string) (string, error) {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return "pdf", nil
	case bytes.HasPrefix(data, []byte("PK")):
		return "epub", nil
	case mimeHint == "application/pdf":
		return "pdf", nil
	case mimeHint == "application/epub+zip":
		return "epub", nil
	default:
		return "", docerr.New(docerr.KindDecoderError, "unrecognized document format")
	}
}

// encodeRenderResult encodes a decoder.Document render result (always
// an image.Image in practice) to the blob format the cache stores,
// sharing the coordinator's WebP-preferred/PNG-fallback encoder so a
// direct render and a coordinator-driven one produce identical bytes.
func encodeRenderResult(raw interface{}, quality int) ([]byte, error) {
	img, ok := raw.(image.Image)
	if !ok {
		return nil, docerr.New(docerr.KindDecoderError, "render result was not an image")
	}
	return coordinator.EncodeTile(img, quality)
}

// LoadDocument registers data under a content-derived id, loads it
// onto every worker, and returns the document's shape. mimeHint is an
// optional disambiguation hint; format is ultimately decided by magic
// bytes.
func (p *Provider) LoadDocument(ctx context.Context, data []byte, mimeHint string) (*ParsedDocument, error) {
	format, err := detectFormat(data, mimeHint)
	if err != nil {
		return nil, err
	}
	docID := thumbstore.ContentHash(data)

	registerer, ok := p.opener.(decoder.BytesRegisterer)
	if !ok {
		return nil, docerr.New(docerr.KindDecoderError, "configured decoder cannot accept in-memory bytes")
	}
	if err := registerer.RegisterBytes(docID, data, format); err != nil {
		return nil, err
	}
	if err := p.pool.LoadDocumentOnAllWorkers(ctx, docID, ""); err != nil {
		return nil, err
	}

	w, err := p.pool.Dispatch(ctx, docID, "")
	if err != nil {
		return nil, err
	}
	itemCount, err := w.ItemCount(ctx)
	if err != nil {
		return nil, err
	}
	toc, err := w.TableOfContents(ctx)
	if err != nil {
		toc = nil // absent TOC is permitted, per spec §7
	}
	hasTextLayer := itemCount > 0

	sess := &documentSession{
		docID:        docID,
		format:       format,
		itemCount:    itemCount,
		hasTextLayer: hasTextLayer,
		toc:          toc,
		contentHash:  docID,
		coord:        coordinator.New(docID, p.pool, p.cache, p.coordinatorConfig(), p.log),
	}

	p.mu.Lock()
	p.docs[docID] = sess
	p.mu.Unlock()

	return &ParsedDocument{
		DocID:        docID,
		Format:       format,
		ItemCount:    itemCount,
		TOC:          toc,
		HasTextLayer: hasTextLayer,
	}, nil
}

// Document returns the shape recorded at load time, without
// dispatching to a worker.
func (p *Provider) Document(docID string) (*ParsedDocument, error) {
	sess, err := p.session(docID)
	if err != nil {
		return nil, err
	}
	return &ParsedDocument{
		DocID:        sess.docID,
		Format:       sess.format,
		ItemCount:    sess.itemCount,
		TOC:          sess.toc,
		HasTextLayer: sess.hasTextLayer,
	}, nil
}

func (p *Provider) session(docID string) (*documentSession, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sess, ok := p.docs[docID]
	if !ok {
		return nil, docerr.New(docerr.KindInvalidPath, fmt.Sprintf("document %q is not loaded", docID))
	}
	return sess, nil
}

func (p *Provider) itemBounds(ctx context.Context, sess *documentSession, item int) (coordx.ItemBounds, error) {
	if v, ok := sess.bounds.Load(item); ok {
		return v.(coordx.ItemBounds), nil
	}
	w, err := p.pool.Dispatch(ctx, sess.docID, "")
	if err != nil {
		return coordx.ItemBounds{}, err
	}
	bounds, err := w.ItemDimensions(ctx, item)
	if err != nil {
		return coordx.ItemBounds{}, err
	}
	sess.bounds.Store(item, bounds)
	return bounds, nil
}

// RenderItem rasterizes the whole item at the given scale and returns
// an encoded blob.
func (p *Provider) RenderItem(ctx context.Context, docID string, item int, scale float64) ([]byte, error) {
	_, err := p.session(docID)
	if err != nil {
		return nil, err
	}
	w, err := p.pool.Dispatch(ctx, docID, "")
	if err != nil {
		return nil, err
	}
	raw, err := w.RenderItem(ctx, item, scale)
	if err != nil {
		return nil, err
	}
	return encodeRenderResult(raw, p.cfg.EncodeQuality)
}

// RenderTile rasterizes one tile of item and returns an encoded blob,
// going through the same cache the coordinator populates so a direct
// call and a coordinator-driven one never duplicate work.
func (p *Provider) RenderTile(ctx context.Context, docID string, item, tileX, tileY, tileSize int, scale float64) ([]byte, error) {
	sess, err := p.session(docID)
	if err != nil {
		return nil, err
	}
	scale = coordx.QuantizeScale(scale)
	key := tilecache.Key{DocID: docID, Item: item, Scale: scale, TileX: tileX, TileY: tileY, TileSize: tileSize}
	if blob, ok := p.cache.Get(key); ok {
		p.metrics.RecordCacheHit("l1")
		return blob, nil
	}
	p.metrics.RecordCacheMiss("l1")

	bounds, err := p.itemBounds(ctx, sess, item)
	if err != nil {
		return nil, err
	}
	coord := coordx.TileCoord{Item: item, TileX: tileX, TileY: tileY, Scale: scale, TileSize: tileSize}
	region, err := coordx.TileRegion(coord, bounds)
	if err != nil {
		return nil, err
	}
	w, err := p.pool.Dispatch(ctx, docID, "")
	if err != nil {
		return nil, err
	}
	raw, err := w.RenderTile(ctx, item, scale, region)
	if err != nil {
		return nil, err
	}
	blob, err := encodeRenderResult(raw, p.cfg.EncodeQuality)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, blob)
	sess.coord.Index().Page(item, bounds).Insert(coord, key.String())
	return blob, nil
}

// GetStructuredText returns an item's extracted text, grouped by
// visual line with per-character boxes.
func (p *Provider) GetStructuredText(ctx context.Context, docID string, item int) (decoder.StructuredText, error) {
	if _, err := p.session(docID); err != nil {
		return decoder.StructuredText{}, err
	}
	w, err := p.pool.Dispatch(ctx, docID, "")
	if err != nil {
		return decoder.StructuredText{}, err
	}
	return w.StructuredText(ctx, item)
}

// Search finds up to maxHits matches for query across the document
// (maxHits <= 0 means unlimited). Per spec §7, a search failure
// returns an empty result rather than tearing down the session.
func (p *Provider) Search(ctx context.Context, docID, query string, maxHits int) ([]decoder.SearchResult, error) {
	if _, err := p.session(docID); err != nil {
		return nil, err
	}
	w, err := p.pool.Dispatch(ctx, docID, "")
	if err != nil {
		p.log.Warn("search dispatch failed", zap.String("doc", docID), zap.Error(err))
		return nil, nil
	}
	results, err := w.Search(ctx, query, maxHits)
	if err != nil {
		p.log.Warn("search failed", zap.String("doc", docID), zap.Error(err))
		return nil, nil
	}
	return results, nil
}

// GetEpubChapter returns an EPUB chapter's contents (its XHTML) by
// spine id.
func (p *Provider) GetEpubChapter(ctx context.Context, docID, chapterID string) (string, error) {
	if _, err := p.session(docID); err != nil {
		return "", err
	}
	w, err := p.pool.Dispatch(ctx, docID, "")
	if err != nil {
		return "", err
	}
	return w.EpubChapter(ctx, chapterID)
}

// GetItemDimensions returns an item's intrinsic size.
func (p *Provider) GetItemDimensions(ctx context.Context, docID string, item int) (coordx.ItemBounds, error) {
	sess, err := p.session(docID)
	if err != nil {
		return coordx.ItemBounds{}, err
	}
	return p.itemBounds(ctx, sess, item)
}

const thumbnailScale = 0.5

// GetThumbnail returns item's scale-0.5 raster, rendering and caching
// it (both tiers) on a miss.
func (p *Provider) GetThumbnail(ctx context.Context, docID string, item int) ([]byte, error) {
	sess, err := p.session(docID)
	if err != nil {
		return nil, err
	}
	bounds, err := p.itemBounds(ctx, sess, item)
	if err != nil {
		return nil, err
	}
	key := tilecache.Key{DocID: docID, Item: item, Scale: thumbnailScale, TileX: 0, TileY: 0, TileSize: p.cfg.TileSize}
	if blob, ok := p.cache.Get(key); ok {
		p.metrics.RecordCacheHit("l2")
		return blob, nil
	}
	p.metrics.RecordCacheMiss("l2")

	w, err := p.pool.Dispatch(ctx, docID, "")
	if err != nil {
		return nil, err
	}
	region := coordx.Region{X: 0, Y: 0, W: bounds.Width, H: bounds.Height}
	raw, err := w.RenderTile(ctx, item, thumbnailScale, region)
	if err != nil {
		return nil, err
	}
	blob, err := encodeRenderResult(raw, p.cfg.EncodeQuality)
	if err != nil {
		return nil, err
	}
	p.cache.Set(key, blob)
	return blob, nil
}

// RenderItemWithFallback implements the never-blank policy of spec
// §4.6: return the best content available immediately, and if that
// isn't already full quality, kick off the full render in the
// background and deliver it on the returned channel.
func (p *Provider) RenderItemWithFallback(ctx context.Context, docID string, item int, scale float64) (*FallbackResult, error) {
	sess, err := p.session(docID)
	if err != nil {
		return nil, err
	}
	scale = coordx.QuantizeScale(scale)
	if _, err := p.itemBounds(ctx, sess, item); err != nil {
		return nil, err
	}
	fullKey := tilecache.Key{DocID: docID, Item: item, Scale: scale, TileX: 0, TileY: 0, TileSize: p.cfg.TileSize}
	if blob, ok := p.cache.Get(fullKey); ok {
		return &FallbackResult{Initial: blob, InitialScale: scale, IsFullQuality: true}, nil
	}

	upgrade := make(chan []byte, 1)
	go p.renderFullInBackground(docID, item, scale, fullKey, upgrade)

	// GetThumbnail serves a cached thumbnail (policy step 2) or
	// renders one now (policy step 3) — either way the caller never
	// sees a blank.
	thumb, err := p.GetThumbnail(ctx, docID, item)
	if err != nil {
		return nil, err
	}
	return &FallbackResult{Initial: thumb, InitialScale: thumbnailScale, IsFullQuality: false, Upgrade: upgrade}, nil
}

func (p *Provider) renderFullInBackground(docID string, item int, scale float64, key tilecache.Key, upgrade chan<- []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.WatchdogInterval)
	defer cancel()

	w, err := p.pool.Dispatch(ctx, docID, "")
	if err != nil {
		close(upgrade)
		return
	}
	raw, err := w.RenderItem(ctx, item, scale)
	if err != nil {
		close(upgrade)
		return
	}
	blob, err := encodeRenderResult(raw, p.cfg.EncodeQuality)
	if err != nil {
		close(upgrade)
		return
	}
	p.cache.Set(key, blob)
	upgrade <- blob
	close(upgrade)
}

// UpdateViewport feeds a new camera/viewport state into docID's
// coordinator, dispatching renders for every tile now required.
func (p *Provider) UpdateViewport(ctx context.Context, docID string, item int, vp coordx.Viewport) error {
	sess, err := p.session(docID)
	if err != nil {
		return err
	}
	bounds, err := p.itemBounds(ctx, sess, item)
	if err != nil {
		return err
	}
	return sess.coord.UpdateViewport(ctx, item, bounds, vp)
}

// Events returns the channel of composited tile events for docID.
func (p *Provider) Events(docID string) (<-chan coordinator.Event, error) {
	sess, err := p.session(docID)
	if err != nil {
		return nil, err
	}
	return sess.coord.Events(), nil
}

// ClearCache drops every tile from the in-memory cache tier, without
// touching loaded documents or their spatial indices. Thumbnails in the
// persistent tier are kept.
func (p *Provider) ClearCache() {
	p.cache.Clear()
}

// UnloadDocument closes docID's coordinator, unloads it from every
// worker holding it, and drops its session along with its spatial
// index. Tiles already in the tile cache are not evicted; they stay
// until the byte budget pushes them out or ClearCache runs.
func (p *Provider) UnloadDocument(ctx context.Context, docID string) error {
	sess, err := p.session(docID)
	if err != nil {
		return err
	}
	sess.coord.Close()
	if err := p.pool.UnloadDocument(ctx, docID); err != nil {
		return err
	}
	p.mu.Lock()
	delete(p.docs, docID)
	p.mu.Unlock()
	return nil
}

// Destroy releases every resource the Provider holds: the worker pool,
// the persistent thumbnail store, and every open coordinator.
func (p *Provider) Destroy() error {
	p.mu.Lock()
	for _, sess := range p.docs {
		sess.coord.Close()
	}
	p.docs = make(map[string]*documentSession)
	p.mu.Unlock()

	p.pool.Close()
	if p.thumb != nil {
		return p.thumb.Close()
	}
	return nil
}
