package decoder

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"path"
	"strings"
	"sync"

	"github.com/foliotile/tilecore/internal/coordx"
	"github.com/foliotile/tilecore/internal/docerr"
	"github.com/foliotile/tilecore/internal/epub"
)

// letterSize is the default page bounds (document units, 72 per inch)
// used for a PDF fixture whose real page geometry this synthetic
// decoder has no way to know.
var letterSize = coordx.ItemBounds{Width: 612, Height: 792}

// epubPaneSize is the fixed rendered pane this synthetic decoder gives
// every reflowable EPUB chapter, since a real chapter's width/height
// depend on the reflow engine, which is out of scope here.
var epubPaneSize = coordx.ItemBounds{Width: 400, Height: 600}

// MemSpec describes a synthetic in-memory document for tests and the
// benchmark CLI: fixed page bounds, canned text, and (for EPUB-shaped
// fixtures) a chapter map.
type MemSpec struct {
	Pages         []coordx.ItemBounds
	Text          []string
	Toc           []TocEntry
	EpubChapters  map[string]string // nil for non-EPUB fixtures
}

// MemOpener is an Opener backed by a fixed registry of MemSpecs, keyed
// by the path passed to Open. It stands in for a real native decoder
// in tests, following the fake-backend idiom the teacher uses for its
// encode package's format-specific stub (see encode/webp_stub.go).
type MemOpener struct {
	mu    sync.Mutex
	specs map[string]MemSpec
}

// NewMemOpener creates an empty registry.
func NewMemOpener() *MemOpener {
	return &MemOpener{specs: make(map[string]MemSpec)}
}

// Register associates a path with a synthetic document spec.
func (o *MemOpener) Register(path string, spec MemSpec) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.specs[path] = spec
}

// RegisterBytes implements BytesRegisterer: it builds a MemSpec from
// raw document bytes. For "epub" it parses the real archive structure
// via internal/epub, so chapter extraction and the table of contents
// reflect the actual zip contents rather than a fixture; for "pdf" it
// synthesizes a single-page document, since this decoder has no real
// PDF rasterizer behind it.
func (o *MemOpener) RegisterBytes(docID string, data []byte, format string) error {
	var spec MemSpec
	switch format {
	case "epub":
		pkg, err := epub.Parse(data)
		if err != nil {
			return err
		}
		base := path.Dir(pkg.OPFPath)
		hrefIndex := make(map[string]int, len(pkg.Spine))
		chapters := make(map[string]string, len(pkg.Spine))
		for i, item := range pkg.Spine {
			body, err := epub.ReadChapter(data, item.Href)
			if err != nil {
				return err
			}
			chapters[item.ID] = string(body)
			hrefIndex[item.Href] = i
			spec.Pages = append(spec.Pages, epubPaneSize)
			spec.Text = append(spec.Text, string(body))
		}
		spec.EpubChapters = chapters
		spec.Toc = flattenEpubToc(pkg.TOC, 0, base, hrefIndex)
	case "pdf":
		spec.Pages = []coordx.ItemBounds{letterSize}
		spec.Text = []string{"PDF document"}
	default:
		return docerr.New(docerr.KindDecoderError, fmt.Sprintf("unrecognized document format %q", format))
	}

	o.mu.Lock()
	o.specs[docID] = spec
	o.mu.Unlock()
	return nil
}

// flattenEpubToc converts the epub package's nested TocEntry tree into
// the decoder package's flat, level-tagged TocEntry list, resolving
// each entry's href (joined against the OPF base, fragment stripped)
// to a spine item index where possible.
func flattenEpubToc(entries []epub.TocEntry, level int, base string, hrefIndex map[string]int) []TocEntry {
	var out []TocEntry
	for _, e := range entries {
		href, _, _ := strings.Cut(e.Href, "#")
		page := hrefIndex[path.Join(base, href)]
		out = append(out, TocEntry{Level: level, Title: e.Title, Page: page})
		out = append(out, flattenEpubToc(e.Children, level+1, base, hrefIndex)...)
	}
	return out
}

// Open implements Opener.
func (o *MemOpener) Open(ctx context.Context, path, password string) (Document, error) {
	o.mu.Lock()
	spec, ok := o.specs[path]
	o.mu.Unlock()
	if !ok {
		return nil, docerr.New(docerr.KindInvalidPath, fmt.Sprintf("no fixture registered for %q", path))
	}
	return &memDocument{spec: spec}, nil
}

type memDocument struct {
	spec   MemSpec
	closed bool
}

func (d *memDocument) ItemCount() int { return len(d.spec.Pages) }

func (d *memDocument) ItemDimensions(item int) (coordx.ItemBounds, error) {
	if item < 0 || item >= len(d.spec.Pages) {
		return coordx.ItemBounds{}, docerr.New(docerr.KindOutOfBounds, fmt.Sprintf("item %d out of range", item))
	}
	return d.spec.Pages[item], nil
}

// RenderItem paints the whole item as a solid, fully opaque color, so
// nothing shows through to whatever composites beneath it.
func (d *memDocument) RenderItem(ctx context.Context, item int, scale float64, opts RenderOptions) (image.Image, error) {
	bounds, err := d.ItemDimensions(item)
	if err != nil {
		return nil, err
	}
	w, h := coordx.TilePixelDims(coordx.Region{W: bounds.Width, H: bounds.Height}, scale)
	return d.paint(w, h, item, scale, false), nil
}

// RenderTile paints opts.Region of item semi-transparently (alpha
// 128) so a coarser fallback tile can be alpha-composited beneath a
// finer one still loading.
func (d *memDocument) RenderTile(ctx context.Context, item int, scale float64, opts RenderOptions) (image.Image, error) {
	bounds, err := d.ItemDimensions(item)
	if err != nil {
		return nil, err
	}
	region := opts.Region
	if region.W == 0 && region.H == 0 {
		region = coordx.Region{W: bounds.Width, H: bounds.Height}
	}
	w, h := coordx.TilePixelDims(region, scale)
	return d.paint(w, h, item, scale, true), nil
}

// paint fills a deterministic solid color so tests can assert on
// pixel content without a real rasterizer, following the teacher's
// uniform-tile idiom in internal/tile/downsample.go.
func (d *memDocument) paint(w, h, item int, scale float64, transparent bool) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	c := itemColor(item, scale)
	if transparent {
		c.A = 128
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func itemColor(item int, scale float64) color.RGBA {
	seed := uint32(item)*2654435761 + uint32(scale*1000)
	return color.RGBA{
		R: uint8(seed),
		G: uint8(seed >> 8),
		B: uint8(seed >> 16),
		A: 255,
	}
}

// charWidth, lineFontSize and lineHeight are the fixed monospace
// layout this synthetic decoder lays text out with, since it has no
// real text-shaping engine behind it; textOriginX/Y is the line's
// baseline origin.
const (
	charWidth    = 7.2
	lineFontSize = 12.0
	lineHeight   = 14.4
	textOriginX  = 10.0
	textOriginY  = 20.0
)

// layoutLine lays item's canned text out as a single visual line of
// fixed-width characters, producing one quad per character so Search
// can slice a contiguous sub-range of CharPositions to report a hit's
// location without re-deriving the layout.
func (d *memDocument) layoutLine(item int) TextItem {
	text := d.spec.Text[item]
	quads := make([]coordx.Quad, len(text))
	for i := range text {
		x := textOriginX + float64(i)*charWidth
		quads[i] = coordx.QuadFromRegion(coordx.Region{X: x, Y: textOriginY, W: charWidth, H: lineFontSize})
	}
	return TextItem{
		Text:          text,
		X:             textOriginX,
		Y:             textOriginY,
		W:             float64(len(text)) * charWidth,
		H:             lineHeight,
		FontSize:      lineFontSize,
		CharPositions: quads,
	}
}

func (d *memDocument) StructuredText(ctx context.Context, item int) (StructuredText, error) {
	if item < 0 || item >= len(d.spec.Text) {
		return StructuredText{}, docerr.New(docerr.KindOutOfBounds, fmt.Sprintf("item %d out of range", item))
	}
	bounds := d.spec.Pages[item]
	return StructuredText{
		Width:  bounds.Width,
		Height: bounds.Height,
		Items:  []TextItem{d.layoutLine(item)},
	}, nil
}

// Search performs a case-insensitive substring search across every
// item's text, capping the result count at maxHits (maxHits <= 0
// means unlimited), and reports each hit's quads by slicing the
// matched character range out of the same per-character layout
// StructuredText exposes.
func (d *memDocument) Search(ctx context.Context, query string, maxHits int) ([]SearchResult, error) {
	if query == "" {
		return nil, nil
	}
	qLower := strings.ToLower(query)

	var results []SearchResult
	for i, text := range d.spec.Text {
		lower := strings.ToLower(text)
		line := d.layoutLine(i)
		start := 0
		for {
			if maxHits > 0 && len(results) >= maxHits {
				return results, nil
			}
			idx := strings.Index(lower[start:], qLower)
			if idx < 0 {
				break
			}
			pos := start + idx
			quads := append([]coordx.Quad(nil), line.CharPositions[pos:pos+len(query)]...)
			results = append(results, SearchResult{Item: i, Quads: quads, Excerpt: text})
			start = pos + len(query)
		}
	}
	return results, nil
}

func (d *memDocument) TableOfContents(ctx context.Context) ([]TocEntry, error) {
	return d.spec.Toc, nil
}

func (d *memDocument) EpubChapter(ctx context.Context, id string) (string, error) {
	if d.spec.EpubChapters == nil {
		return "", docerr.New(docerr.KindDecoderError, "document is not an EPUB")
	}
	text, ok := d.spec.EpubChapters[id]
	if !ok {
		return "", docerr.New(docerr.KindInvalidPath, fmt.Sprintf("unknown chapter id %q", id))
	}
	return text, nil
}

func (d *memDocument) Close() error {
	d.closed = true
	return nil
}
