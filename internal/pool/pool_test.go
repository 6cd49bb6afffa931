package pool

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/foliotile/tilecore/internal/coordx"
	"github.com/foliotile/tilecore/internal/decoder"
	"github.com/foliotile/tilecore/internal/docerr"
)

func testOpener() *decoder.MemOpener {
	o := decoder.NewMemOpener()
	o.Register("doc-a.pdf", decoder.MemSpec{
		Pages: []coordx.ItemBounds{{Width: 100, Height: 100}},
		Text:  []string{"a"},
	})
	o.Register("doc-b.pdf", decoder.MemSpec{
		Pages: []coordx.ItemBounds{{Width: 100, Height: 100}},
		Text:  []string{"b"},
	})
	return o
}

func TestDispatchLoadsOnFirstUse(t *testing.T) {
	p := New(Config{Size: 2, QueueDepth: 8, MaxQueueDepth: 8}, testOpener(), zap.NewNop())
	defer p.Close()

	w, err := p.Dispatch(context.Background(), "doc-a.pdf", "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if w.LoadedDocument() != "doc-a.pdf" {
		t.Errorf("LoadedDocument = %q, want doc-a.pdf", w.LoadedDocument())
	}
}

func TestDispatchPrefersWorkerAlreadyHoldingDocument(t *testing.T) {
	p := New(Config{Size: 2, QueueDepth: 8, MaxQueueDepth: 8}, testOpener(), zap.NewNop())
	defer p.Close()
	ctx := context.Background()

	first, err := p.Dispatch(ctx, "doc-a.pdf", "")
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	// Load a second document onto the other worker so dispatching for
	// doc-a.pdf again must still prefer the worker that already has it.
	p.Dispatch(ctx, "doc-b.pdf", "")

	second, err := p.Dispatch(ctx, "doc-a.pdf", "")
	if err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected Dispatch to reuse the worker already holding doc-a.pdf")
	}
}

func TestDispatchShedsLoadWhenSaturated(t *testing.T) {
	p := New(Config{Size: 1, QueueDepth: 8, MaxQueueDepth: 0}, testOpener(), zap.NewNop())
	defer p.Close()
	ctx := context.Background()

	p.Dispatch(ctx, "doc-a.pdf", "")

	// MaxQueueDepth of 0 means any positive queue depth on the chosen
	// worker triggers shedding on the next Dispatch. The first load has
	// usually drained by now, so this checks only that a shedding
	// error, if one occurs, carries the timeout kind.
	_, err := p.Dispatch(ctx, "doc-b.pdf", "")
	if err != nil && !docerr.IsKind(err, docerr.KindTimeout) {
		t.Errorf("expected a timeout-kind shedding error or nil, got %v", err)
	}
}

func TestLoadDocumentOnAllWorkers(t *testing.T) {
	p := New(Config{Size: 3, QueueDepth: 8, MaxQueueDepth: 8}, testOpener(), zap.NewNop())
	defer p.Close()

	if err := p.LoadDocumentOnAllWorkers(context.Background(), "doc-a.pdf", ""); err != nil {
		t.Fatalf("LoadDocumentOnAllWorkers: %v", err)
	}

	for _, w := range p.workers {
		if w.LoadedDocument() != "doc-a.pdf" {
			t.Errorf("worker %s LoadedDocument = %q, want doc-a.pdf", w.ID, w.LoadedDocument())
		}
	}
}

func TestUnloadDocumentOnlyAffectsWorkersHoldingIt(t *testing.T) {
	p := New(Config{Size: 2, QueueDepth: 8, MaxQueueDepth: 8}, testOpener(), zap.NewNop())
	defer p.Close()
	ctx := context.Background()

	p.LoadDocumentOnAllWorkers(ctx, "doc-a.pdf", "")
	if err := p.UnloadDocument(ctx, "doc-a.pdf"); err != nil {
		t.Fatalf("UnloadDocument: %v", err)
	}

	for _, w := range p.workers {
		if w.LoadedDocument() != "" {
			t.Errorf("worker %s still holds %q after UnloadDocument", w.ID, w.LoadedDocument())
		}
	}
}
