// Package worker implements a single document worker: one goroutine
// that owns exactly one decoder.Document handle and serializes every
// call into it, since a native document handle is typically not safe
// for concurrent use from multiple goroutines.
//
// The job-queue/single-owner-goroutine shape is grounded on the
// teacher's internal/tile/generator.go (jobs chan + per-job work) and
// internal/tile/diskstore.go (a single goroutine owns all I/O against
// one resource; every other goroutine talks to it over a channel).
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/foliotile/tilecore/internal/coordx"
	"github.com/foliotile/tilecore/internal/decoder"
	"github.com/foliotile/tilecore/internal/docerr"
)

// job is one unit of work submitted to a Worker's single processing
// goroutine. fn runs with the worker's currently loaded document (nil
// if none is loaded) and its result is delivered on result.
type job struct {
	ctx    context.Context
	fn     func(doc decoder.Document) (interface{}, error)
	result chan<- jobResult
}

type jobResult struct {
	value interface{}
	err   error
}

// Worker owns a single decoder.Document and a bounded job queue.
type Worker struct {
	ID     string
	opener decoder.Opener
	log    *zap.Logger

	closeMu sync.RWMutex // serializes submit's send against Close
	queue   chan job
	done    chan struct{}
	dead    atomic.Bool
	closed  atomic.Bool

	queueDepth atomic.Int64
	docID      atomic.Value // string, empty when nothing is loaded
	doc        decoder.Document
}

// New creates a worker with the given queue depth and starts its
// processing goroutine.
func New(id string, opener decoder.Opener, queueDepth int, log *zap.Logger) *Worker {
	if queueDepth <= 0 {
		queueDepth = 32
	}
	w := &Worker{
		ID:     id,
		opener: opener,
		log:    log,
		queue:  make(chan job, queueDepth),
		done:   make(chan struct{}),
	}
	w.docID.Store("")
	go w.run()
	return w
}

func (w *Worker) run() {
	defer close(w.done)
	for j := range w.queue {
		w.queueDepth.Add(-1)
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.dead.Store(true)
					j.result <- jobResult{err: docerr.Wrap(docerr.KindWorkerDied, fmt.Sprintf("worker %s panicked", w.ID), fmt.Errorf("%v", r))}
				}
			}()
			v, err := j.fn(w.doc)
			select {
			case j.result <- jobResult{value: v, err: err}:
			case <-j.ctx.Done():
			}
		}()
		if w.dead.Load() {
			return
		}
	}
}

// Dead reports whether the worker's goroutine exited abnormally and no
// longer accepts work. A dead worker must be replaced by the pool.
func (w *Worker) Dead() bool { return w.dead.Load() }

// QueueDepth reports the number of jobs currently queued, used by the
// pool for least-loaded dispatch.
func (w *Worker) QueueDepth() int64 { return w.queueDepth.Load() }

// LoadedDocument returns the path of the currently loaded document, or
// "" if none is loaded.
func (w *Worker) LoadedDocument() string {
	return w.docID.Load().(string)
}

// Close stops accepting new work and waits for every job already
// queued to finish. Safe to call more than once.
func (w *Worker) Close() {
	w.closeMu.Lock()
	if w.closed.Swap(true) {
		w.closeMu.Unlock()
		return
	}
	close(w.queue)
	w.closeMu.Unlock()
	<-w.done
}

func (w *Worker) submit(ctx context.Context, fn func(doc decoder.Document) (interface{}, error)) (interface{}, error) {
	if w.dead.Load() {
		return nil, docerr.New(docerr.KindWorkerDied, fmt.Sprintf("worker %s is dead", w.ID))
	}

	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	if w.closed.Load() {
		return nil, docerr.New(docerr.KindWorkerDied, fmt.Sprintf("worker %s is closed", w.ID))
	}

	resultCh := make(chan jobResult, 1)
	w.queueDepth.Add(1)
	select {
	case w.queue <- job{ctx: ctx, fn: fn, result: resultCh}:
	case <-ctx.Done():
		w.queueDepth.Add(-1)
		return nil, docerr.Wrap(docerr.KindCancelled, "request cancelled before dispatch", ctx.Err())
	}

	select {
	case r := <-resultCh:
		return r.value, r.err
	case <-ctx.Done():
		return nil, docerr.Wrap(docerr.KindCancelled, "request cancelled in flight", ctx.Err())
	}
}

// LoadDocument opens path and makes it the worker's active document,
// closing any previously loaded document first.
func (w *Worker) LoadDocument(ctx context.Context, path, password string) error {
	_, err := w.submit(ctx, func(decoder.Document) (interface{}, error) {
		if w.doc != nil {
			w.doc.Close()
			w.doc = nil
			w.docID.Store("")
		}
		doc, err := w.opener.Open(ctx, path, password)
		if err != nil {
			return nil, err
		}
		w.doc = doc
		w.docID.Store(path)
		return nil, nil
	})
	return err
}

// UnloadDocument closes the active document, if any.
func (w *Worker) UnloadDocument(ctx context.Context) error {
	_, err := w.submit(ctx, func(decoder.Document) (interface{}, error) {
		if w.doc == nil {
			return nil, nil
		}
		err := w.doc.Close()
		w.doc = nil
		w.docID.Store("")
		return nil, err
	})
	return err
}

func (w *Worker) withDoc(ctx context.Context, fn func(doc decoder.Document) (interface{}, error)) (interface{}, error) {
	return w.submit(ctx, func(doc decoder.Document) (interface{}, error) {
		if doc == nil {
			return nil, docerr.New(docerr.KindDecoderError, "no document loaded")
		}
		return fn(doc)
	})
}

// ItemCount returns the loaded document's item count.
func (w *Worker) ItemCount(ctx context.Context) (int, error) {
	v, err := w.withDoc(ctx, func(doc decoder.Document) (interface{}, error) {
		return doc.ItemCount(), nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// ItemDimensions returns an item's intrinsic size.
func (w *Worker) ItemDimensions(ctx context.Context, item int) (coordx.ItemBounds, error) {
	v, err := w.withDoc(ctx, func(doc decoder.Document) (interface{}, error) {
		return doc.ItemDimensions(item)
	})
	if err != nil {
		return coordx.ItemBounds{}, err
	}
	return v.(coordx.ItemBounds), nil
}

// RenderItem rasterizes the whole item at scale.
func (w *Worker) RenderItem(ctx context.Context, item int, scale float64) (interface{}, error) {
	return w.withDoc(ctx, func(doc decoder.Document) (interface{}, error) {
		return doc.RenderItem(ctx, item, scale, decoder.RenderOptions{})
	})
}

// RenderTile rasterizes region of item at scale.
func (w *Worker) RenderTile(ctx context.Context, item int, scale float64, region coordx.Region) (interface{}, error) {
	return w.withDoc(ctx, func(doc decoder.Document) (interface{}, error) {
		return doc.RenderTile(ctx, item, scale, decoder.RenderOptions{Region: region})
	})
}

// TableOfContents returns the loaded document's outline, if any.
func (w *Worker) TableOfContents(ctx context.Context) ([]decoder.TocEntry, error) {
	v, err := w.withDoc(ctx, func(doc decoder.Document) (interface{}, error) {
		return doc.TableOfContents(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]decoder.TocEntry), nil
}

// StructuredText returns extracted text for an item.
func (w *Worker) StructuredText(ctx context.Context, item int) (decoder.StructuredText, error) {
	v, err := w.withDoc(ctx, func(doc decoder.Document) (interface{}, error) {
		return doc.StructuredText(ctx, item)
	})
	if err != nil {
		return decoder.StructuredText{}, err
	}
	return v.(decoder.StructuredText), nil
}

// Search finds up to maxHits matches for query across the loaded
// document (maxHits <= 0 means unlimited).
func (w *Worker) Search(ctx context.Context, query string, maxHits int) ([]decoder.SearchResult, error) {
	v, err := w.withDoc(ctx, func(doc decoder.Document) (interface{}, error) {
		return doc.Search(ctx, query, maxHits)
	})
	if err != nil {
		return nil, err
	}
	return v.([]decoder.SearchResult), nil
}

// EpubChapter returns the contents (XHTML) of an EPUB chapter.
func (w *Worker) EpubChapter(ctx context.Context, id string) (string, error) {
	v, err := w.withDoc(ctx, func(doc decoder.Document) (interface{}, error) {
		return doc.EpubChapter(ctx, id)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Ping round-trips an empty job through the queue and returns an error
// if it does not complete within timeout.
func (w *Worker) Ping(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_, err := w.submit(ctx, func(decoder.Document) (interface{}, error) { return nil, nil })
	return err
}
