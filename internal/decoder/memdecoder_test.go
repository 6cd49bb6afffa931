package decoder

import (
	"context"
	"testing"

	"github.com/foliotile/tilecore/internal/coordx"
	"github.com/foliotile/tilecore/internal/docerr"
)

func testOpener() *MemOpener {
	o := NewMemOpener()
	o.Register("doc.pdf", MemSpec{
		Pages: []coordx.ItemBounds{{Width: 612, Height: 792}, {Width: 612, Height: 792}},
		Text:  []string{"hello world", "goodbye moon"},
		Toc:   []TocEntry{{Level: 1, Title: "Chapter One", Page: 0}},
	})
	o.Register("book.epub", MemSpec{
		Pages:        []coordx.ItemBounds{{Width: 400, Height: 600}},
		Text:         []string{"intro"},
		EpubChapters: map[string]string{"ch1": "Chapter one text"},
	})
	return o
}

func TestOpenUnknownPathFails(t *testing.T) {
	o := NewMemOpener()
	_, err := o.Open(context.Background(), "missing.pdf", "")
	if !docerr.IsKind(err, docerr.KindInvalidPath) {
		t.Fatalf("expected invalid-path error, got %v", err)
	}
}

func TestItemCountAndDimensions(t *testing.T) {
	doc, err := testOpener().Open(context.Background(), "doc.pdf", "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer doc.Close()

	if doc.ItemCount() != 2 {
		t.Fatalf("ItemCount = %d, want 2", doc.ItemCount())
	}
	b, err := doc.ItemDimensions(0)
	if err != nil || b.Width != 612 || b.Height != 792 {
		t.Errorf("ItemDimensions(0) = (%+v, %v), want ({612 792}, nil)", b, err)
	}
	if _, err := doc.ItemDimensions(5); !docerr.IsKind(err, docerr.KindOutOfBounds) {
		t.Errorf("expected out-of-bounds error for item 5, got %v", err)
	}
}

func TestRenderItemOpaqueVsRenderTileTransparent(t *testing.T) {
	doc, _ := testOpener().Open(context.Background(), "doc.pdf", "")
	defer doc.Close()
	ctx := context.Background()

	itemImg, err := doc.RenderItem(ctx, 0, 1, RenderOptions{})
	if err != nil {
		t.Fatalf("RenderItem: %v", err)
	}
	_, _, _, a := itemImg.At(0, 0).RGBA()
	if a>>8 != 255 {
		t.Errorf("RenderItem alpha = %d, want fully opaque 255", a>>8)
	}

	tileImg, err := doc.RenderTile(ctx, 0, 1, RenderOptions{Region: coordx.Region{W: 256, H: 256}})
	if err != nil {
		t.Fatalf("RenderTile: %v", err)
	}
	_, _, _, ta := tileImg.At(0, 0).RGBA()
	if ta>>8 != 128 {
		t.Errorf("RenderTile alpha = %d, want 128 (transparent fallback background)", ta>>8)
	}
}

func TestRenderTileDimensionsMatchScaledRegion(t *testing.T) {
	doc, _ := testOpener().Open(context.Background(), "doc.pdf", "")
	defer doc.Close()

	img, err := doc.RenderTile(context.Background(), 0, 2, RenderOptions{Region: coordx.Region{W: 100, H: 50}})
	if err != nil {
		t.Fatalf("RenderTile: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 200 || b.Dy() != 100 {
		t.Errorf("RenderTile dims = %dx%d, want 200x100", b.Dx(), b.Dy())
	}
}

func TestStructuredTextAndSearch(t *testing.T) {
	doc, _ := testOpener().Open(context.Background(), "doc.pdf", "")
	defer doc.Close()
	ctx := context.Background()

	st, err := doc.StructuredText(ctx, 1)
	if err != nil || st.Width != 612 || st.Height != 792 || len(st.Items) != 1 || st.Items[0].Text != "goodbye moon" {
		t.Fatalf("StructuredText(1) = (%+v, %v), want one line \"goodbye moon\" on a 612x792 page", st, err)
	}
	if len(st.Items[0].CharPositions) != len("goodbye moon") {
		t.Fatalf("CharPositions len = %d, want %d", len(st.Items[0].CharPositions), len("goodbye moon"))
	}

	results, err := doc.Search(ctx, "WORLD", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Item != 0 {
		t.Fatalf("Search results = %+v, want a single match on item 0", results)
	}
	if len(results[0].Quads) != len("WORLD") {
		t.Fatalf("Search quads len = %d, want %d", len(results[0].Quads), len("WORLD"))
	}
	wantX := textOriginX + float64(len("hello "))*charWidth
	if got := results[0].Quads[0].TopLeft.X; got != wantX {
		t.Errorf("first hit quad X = %v, want %v", got, wantX)
	}
}

func TestSearchRespectsMaxHits(t *testing.T) {
	o := NewMemOpener()
	o.Register("repeat.pdf", MemSpec{
		Pages: []coordx.ItemBounds{{Width: 612, Height: 792}},
		Text:  []string{"cat cat cat cat"},
	})
	doc, _ := o.Open(context.Background(), "repeat.pdf", "")
	defer doc.Close()

	results, err := doc.Search(context.Background(), "cat", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Search with maxHits=2 returned %d results, want 2", len(results))
	}
}

func TestTableOfContents(t *testing.T) {
	doc, _ := testOpener().Open(context.Background(), "doc.pdf", "")
	defer doc.Close()

	toc, err := doc.TableOfContents(context.Background())
	if err != nil || len(toc) != 1 || toc[0].Title != "Chapter One" {
		t.Fatalf("TableOfContents = (%+v, %v), want single \"Chapter One\" entry", toc, err)
	}
}

func TestEpubChapterFetchAndUnknownID(t *testing.T) {
	doc, _ := testOpener().Open(context.Background(), "book.epub", "")
	defer doc.Close()
	ctx := context.Background()

	text, err := doc.EpubChapter(ctx, "ch1")
	if err != nil || text != "Chapter one text" {
		t.Fatalf("EpubChapter(ch1) = (%q, %v), want (\"Chapter one text\", nil)", text, err)
	}

	if _, err := doc.EpubChapter(ctx, "ch99"); !docerr.IsKind(err, docerr.KindInvalidPath) {
		t.Errorf("expected invalid-path error for unknown chapter id, got %v", err)
	}
}

func TestEpubChapterOnNonEpubDocumentFails(t *testing.T) {
	doc, _ := testOpener().Open(context.Background(), "doc.pdf", "")
	defer doc.Close()

	if _, err := doc.EpubChapter(context.Background(), "ch1"); !docerr.IsKind(err, docerr.KindDecoderError) {
		t.Errorf("expected decoder-error for EpubChapter on a non-EPUB document, got %v", err)
	}
}
