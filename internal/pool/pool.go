// Package pool implements the fixed-size worker pool of spec §6: a
// fleet of internal/worker.Worker instances, dispatched by current
// load, with dead-worker replacement and load shedding under
// saturation.
//
// Grounded on the teacher's internal/tile/generator.go fan-out
// (jobs chan + sync.WaitGroup across a fixed worker count), adapted
// from one-shot per-tile jobs to long-lived workers each holding a
// document open; and on brawer-wikidata-qrank's errgroup.WithContext
// use for LoadDocumentOnAllWorkers's fan-out-with-cancel semantics.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/foliotile/tilecore/internal/decoder"
	"github.com/foliotile/tilecore/internal/docerr"
	"github.com/foliotile/tilecore/internal/worker"
)

// Config tunes the pool.
type Config struct {
	Size            int
	QueueDepth      int
	MaxQueueDepth   int // per-worker queue depth past which Dispatch sheds load
}

// DefaultConfig returns sane defaults for a desktop reader process.
func DefaultConfig() Config {
	return Config{Size: 4, QueueDepth: 32, MaxQueueDepth: 24}
}

// Pool manages a fixed set of document workers.
type Pool struct {
	mu      sync.RWMutex
	cfg     Config
	opener  decoder.Opener
	log     *zap.Logger
	workers []*worker.Worker
}

// New creates a pool of cfg.Size workers.
func New(cfg Config, opener decoder.Opener, log *zap.Logger) *Pool {
	if cfg.Size <= 0 {
		cfg = DefaultConfig()
	}
	p := &Pool{cfg: cfg, opener: opener, log: log}
	for i := 0; i < cfg.Size; i++ {
		p.workers = append(p.workers, worker.New(uuid.NewString(), opener, cfg.QueueDepth, log))
	}
	return p
}

// Close shuts down every worker.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, w := range p.workers {
		w.Close()
	}
}

// replaceDead swaps out any worker whose goroutine has died, so the
// pool keeps its configured capacity after a decoder panic.
func (p *Pool) replaceDead() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.workers {
		if w.Dead() {
			p.log.Warn("replacing dead worker", zap.String("worker_id", w.ID))
			p.workers[i] = worker.New(uuid.NewString(), p.opener, p.cfg.QueueDepth, p.log)
		}
	}
}

// Dispatch picks a worker to serve docID: preferring a worker that
// already has docID loaded, least-loaded first; otherwise the
// least-loaded worker overall, onto which docID is then loaded. An
// error is returned if the chosen worker's queue depth exceeds
// MaxQueueDepth, so callers load-shed instead of queuing indefinitely;
// other workers are not tried in its place.
func (p *Pool) Dispatch(ctx context.Context, docID, password string) (*worker.Worker, error) {
	p.replaceDead()

	p.mu.RLock()
	workers := make([]*worker.Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.RUnlock()

	if len(workers) == 0 {
		return nil, docerr.New(docerr.KindWorkerDied, "pool has no workers")
	}

	var best *worker.Worker
	var bestHasDoc bool
	for _, w := range workers {
		hasDoc := w.LoadedDocument() == docID
		if best == nil {
			best, bestHasDoc = w, hasDoc
			continue
		}
		// A worker already holding the document always wins over one
		// that doesn't, regardless of relative queue depth.
		if hasDoc && !bestHasDoc {
			best, bestHasDoc = w, hasDoc
			continue
		}
		if hasDoc == bestHasDoc && w.QueueDepth() < best.QueueDepth() {
			best = w
		}
	}

	if best.QueueDepth() > int64(p.cfg.MaxQueueDepth) {
		return nil, docerr.New(docerr.KindTimeout, fmt.Sprintf("pool saturated: least-loaded worker has %d queued jobs", best.QueueDepth()))
	}

	if !bestHasDoc {
		if err := best.LoadDocument(ctx, docID, password); err != nil {
			return nil, err
		}
	}
	return best, nil
}

// LoadDocumentOnAllWorkers loads docID onto every worker up front, for
// documents expected to be hit from the first request (e.g. the
// document the user just opened), rather than lazily on first
// Dispatch. Failures are collected via errgroup so one stuck worker
// doesn't block the others from loading.
func (p *Pool) LoadDocumentOnAllWorkers(ctx context.Context, docID, password string) error {
	p.replaceDead()

	p.mu.RLock()
	workers := make([]*worker.Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		g.Go(func() error {
			return w.LoadDocument(gctx, docID, password)
		})
	}
	return g.Wait()
}

// UnloadDocument unloads docID from every worker currently holding it.
func (p *Pool) UnloadDocument(ctx context.Context, docID string) error {
	p.mu.RLock()
	workers := make([]*worker.Worker, len(p.workers))
	copy(workers, p.workers)
	p.mu.RUnlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		if w.LoadedDocument() != docID {
			continue
		}
		g.Go(func() error {
			return w.UnloadDocument(gctx)
		})
	}
	return g.Wait()
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.workers)
}
