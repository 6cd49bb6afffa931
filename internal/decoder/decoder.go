// Package decoder defines the black-box document decoder contract the
// render pipeline depends on, and a synthetic in-memory reference
// implementation used by tests and the benchmark CLI.
//
// The interface shape is grounded on other_examples'
// gen2brain/go-fitz wrapper (a Document handle exposing page count,
// page rendering, an Outline tree, and text/search), generalized from
// a single MuPDF-backed type into a pluggable interface so a real CGo
// decoder can sit behind it without this package depending on CGo.
package decoder

import (
	"context"
	"image"

	"github.com/foliotile/tilecore/internal/coordx"
)

// TocEntry is one entry of a document's table of contents, grounded on
// fitz's Outline{Level,Title,URI,Page,Top}.
type TocEntry struct {
	Level int
	Title string
	Page  int
	Top   float64
}

// TextItem is one line of extracted text, grounded on spec's
// getStructuredText shape: a line's bounding box, its font size, and
// one quad per character so a caller can highlight an arbitrary
// sub-range without re-running extraction.
type TextItem struct {
	Text          string
	X, Y, W, H    float64
	FontSize      float64
	CharPositions []coordx.Quad
}

// StructuredText is an item's extracted text, grouped by visual line.
type StructuredText struct {
	Width, Height float64
	Items         []TextItem
}

// SearchResult is one match returned by Search: the item it was found
// on, an excerpt of surrounding text, and the document-unit quads of
// every character the match covers, one quad per character.
type SearchResult struct {
	Item    int
	Quads   []coordx.Quad
	Excerpt string
}

// RenderOptions controls a single render call.
//
// RenderItem and RenderTile each carry a fixed background policy
// rather than a flag on RenderOptions (spec Open Question: RenderItem
// stays fully opaque so a page never shows through to whatever sits
// beneath it; RenderTile stays transparent so a fallback tile
// composites correctly beneath a finer one still loading).
type RenderOptions struct {
	// Region restricts the render to a sub-rectangle of the item in
	// document units; a zero Region renders the full item.
	Region coordx.Region
}

// Document is a single open document instance.
type Document interface {
	// ItemCount returns the number of renderable items (pages, or
	// chapters for a reflowable EPUB).
	ItemCount() int

	// ItemDimensions returns the intrinsic size of an item in document
	// units.
	ItemDimensions(item int) (coordx.ItemBounds, error)

	// RenderItem rasterizes the whole item at the given scale.
	RenderItem(ctx context.Context, item int, scale float64, opts RenderOptions) (image.Image, error)

	// RenderTile rasterizes opts.Region of item at the given scale.
	RenderTile(ctx context.Context, item int, scale float64, opts RenderOptions) (image.Image, error)

	// StructuredText returns the extracted text of an item, grouped by
	// visual line with per-character boxes, used for copy/search
	// highlighting.
	StructuredText(ctx context.Context, item int) (StructuredText, error)

	// Search finds up to maxHits matches for query across the document.
	// maxHits <= 0 means unlimited.
	Search(ctx context.Context, query string, maxHits int) ([]SearchResult, error)

	// TableOfContents returns the document's outline, if any.
	TableOfContents(ctx context.Context) ([]TocEntry, error)

	// EpubChapter returns the contents (XHTML) of an EPUB chapter by
	// its spine id. Returns a decoder-error if the document is not an
	// EPUB and an invalid-path error if the id is unknown — spec's decided
	// Open Question: no decoder fallback, a zip/XML parse failure
	// simply fails the call.
	EpubChapter(ctx context.Context, id string) (string, error)

	// Close releases any resources the decoder holds.
	Close() error
}

// Opener opens a document from a file path and returns a live Document
// handle. A real implementation would bind to a native rendering
// library behind this interface; the package ships only the synthetic
// in-memory implementation in memdecoder.go.
type Opener interface {
	Open(ctx context.Context, path, password string) (Document, error)
}

// BytesRegisterer is implemented by an Opener that can accept raw
// in-memory document bytes under a caller-chosen id, standing in for
// a real decoder's file-backed Open — the façade loads documents from
// an in-memory buffer, not a path on disk.
type BytesRegisterer interface {
	RegisterBytes(docID string, data []byte, format string) error
}
