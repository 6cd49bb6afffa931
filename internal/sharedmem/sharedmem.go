// Package sharedmem provides a fixed-size pool of reusable raster
// buffers for tile and page rendering. Decoding into a pooled buffer
// instead of allocating a fresh one on every render avoids saturating
// the garbage collector under the burst of renders a pan or zoom
// gesture produces.
//
// Grounded on the teacher's internal/tile/rgbapool.go (a sync.Pool of
// *image.RGBA keyed by dimensions), generalized from an unbounded pool
// into a capacity-bounded one: a reader process has a fixed render
// budget, so acquiring a slot blocks (or fails under a context
// deadline) once that budget is exhausted, rather than letting
// concurrent renders allocate without limit.
package sharedmem

import (
	"context"
	"image"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Config bounds the pool.
type Config struct {
	// MaxSlots caps the number of buffers concurrently checked out.
	MaxSlots int64
}

// DefaultConfig returns a reasonable budget for a desktop reader.
func DefaultConfig() Config {
	return Config{MaxSlots: 16}
}

// poolKey identifies a free-list by buffer dimensions.
type poolKey struct {
	w, h int
}

// Pool hands out *image.RGBA buffers sized to the caller's request,
// reusing previously released buffers of the same dimensions.
type Pool struct {
	sem *semaphore.Weighted

	mu    sync.Mutex
	freed map[poolKey][]*image.RGBA
}

// New creates a pool that allows at most cfg.MaxSlots buffers to be
// held at once.
func New(cfg Config) *Pool {
	if cfg.MaxSlots <= 0 {
		cfg = DefaultConfig()
	}
	return &Pool{
		sem:   semaphore.NewWeighted(cfg.MaxSlots),
		freed: make(map[poolKey][]*image.RGBA),
	}
}

// Acquire blocks until a slot is available (or ctx is done) and
// returns a zeroed w×h RGBA buffer. The caller must pass the returned
// buffer to Release when done with it.
func (p *Pool) Acquire(ctx context.Context, w, h int) (*image.RGBA, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	key := poolKey{w, h}
	p.mu.Lock()
	bucket := p.freed[key]
	var img *image.RGBA
	if n := len(bucket); n > 0 {
		img = bucket[n-1]
		p.freed[key] = bucket[:n-1]
	}
	p.mu.Unlock()

	if img == nil {
		img = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		clear(img.Pix)
	}
	return img, nil
}

// TryAcquire is the non-blocking form of Acquire: it returns (nil,
// false) immediately if no slot is free, instead of waiting.
func (p *Pool) TryAcquire(w, h int) (*image.RGBA, bool) {
	if !p.sem.TryAcquire(1) {
		return nil, false
	}

	key := poolKey{w, h}
	p.mu.Lock()
	bucket := p.freed[key]
	var img *image.RGBA
	if n := len(bucket); n > 0 {
		img = bucket[n-1]
		p.freed[key] = bucket[:n-1]
	}
	p.mu.Unlock()

	if img == nil {
		img = image.NewRGBA(image.Rect(0, 0, w, h))
	} else {
		clear(img.Pix)
	}
	return img, true
}

// Release returns a buffer to the pool for reuse and frees its slot.
// Nil images are silently ignored.
func (p *Pool) Release(img *image.RGBA) {
	if img == nil {
		return
	}
	key := poolKey{img.Rect.Dx(), img.Rect.Dy()}
	p.mu.Lock()
	p.freed[key] = append(p.freed[key], img)
	p.mu.Unlock()
	p.sem.Release(1)
}
