// Command tilebench drives the render pipeline end to end against a
// document and prints timing and cache statistics, the way cmd/debug
// and cmd/coginfo exercise a single decoder against real input.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/foliotile/tilecore"
	"github.com/foliotile/tilecore/internal/config"
	"github.com/foliotile/tilecore/internal/coordx"
)

func main() {
	file := flag.String("file", "", "path to a PDF or EPUB file; a synthetic one-page PDF is used if empty")
	item := flag.Int("item", 0, "item (page/chapter) index to render")
	scale := flag.Float64("scale", 1, "render scale")
	tileSize := flag.Int("tile-size", 256, "tile pixel size")
	thumbDir := flag.String("thumbstore", "", "persistent thumbnail store directory; a temp dir is used if empty")
	flag.Parse()

	cfg := config.Load()
	if *thumbDir != "" {
		cfg.ThumbstoreDir = *thumbDir
	} else {
		dir, err := os.MkdirTemp("", "tilebench-thumbs")
		if err != nil {
			fail("creating temp thumbstore dir: %v", err)
		}
		defer os.RemoveAll(dir)
		cfg.ThumbstoreDir = dir
	}

	provider, err := docreader.New(docreader.WithConfig(cfg))
	if err != nil {
		fail("building provider: %v", err)
	}
	defer provider.Destroy()

	data, mimeHint, err := loadInput(*file)
	if err != nil {
		fail("reading input: %v", err)
	}

	ctx := context.Background()
	start := time.Now()
	doc, err := provider.LoadDocument(ctx, data, mimeHint)
	if err != nil {
		fail("LoadDocument: %v", err)
	}
	fmt.Printf("loaded %s: format=%s items=%d toc=%d (%s)\n",
		doc.DocID, doc.Format, doc.ItemCount, len(doc.TOC), time.Since(start))

	if *item >= doc.ItemCount {
		fail("item %d out of range, document has %d items", *item, doc.ItemCount)
	}

	bounds, err := provider.GetItemDimensions(ctx, doc.DocID, *item)
	if err != nil {
		fail("GetItemDimensions: %v", err)
	}
	fmt.Printf("item %d bounds: %.1fx%.1f\n", *item, bounds.Width, bounds.Height)

	renderAllTiles(ctx, provider, doc.DocID, *item, *scale, *tileSize, bounds)

	fmt.Println("\n--- thumbnail fallback ---")
	start = time.Now()
	result, err := provider.RenderItemWithFallback(ctx, doc.DocID, *item, *scale)
	if err != nil {
		fail("RenderItemWithFallback: %v", err)
	}
	fmt.Printf("initial: %d bytes at scale %.2f, full quality=%v (%s)\n",
		len(result.Initial), result.InitialScale, result.IsFullQuality, time.Since(start))
	if result.Upgrade != nil {
		start = time.Now()
		full := <-result.Upgrade
		fmt.Printf("upgrade: %d bytes (%s)\n", len(full), time.Since(start))
	}

	fmt.Println("\n--- cache ---")
	m := provider.Metrics()
	fmt.Printf("l1 hits=%.0f misses=%.0f  l2 hits=%.0f misses=%.0f\n",
		testutil.ToFloat64(m.CacheHits.WithLabelValues("l1")), testutil.ToFloat64(m.CacheMisses.WithLabelValues("l1")),
		testutil.ToFloat64(m.CacheHits.WithLabelValues("l2")), testutil.ToFloat64(m.CacheMisses.WithLabelValues("l2")))
}

func renderAllTiles(ctx context.Context, p *docreader.Provider, docID string, item int, scale float64, tileSize int, bounds coordx.ItemBounds) {
	fmt.Println("\n--- tiles ---")
	unitSize := float64(tileSize) / scale
	cols := int(bounds.Width/unitSize) + 1
	rows := int(bounds.Height/unitSize) + 1

	var totalBytes int
	start := time.Now()
	for ty := 0; ty < rows; ty++ {
		for tx := 0; tx < cols; tx++ {
			blob, err := p.RenderTile(ctx, docID, item, tx, ty, tileSize, scale)
			if err != nil {
				fmt.Printf("tile (%d,%d): %v\n", tx, ty, err)
				continue
			}
			totalBytes += len(blob)
		}
	}
	fmt.Printf("%d tiles, %d bytes total (%s)\n", cols*rows, totalBytes, time.Since(start))
}

func loadInput(path string) (data []byte, mimeHint string, err error) {
	if path == "" {
		return []byte("%PDF-1.4\n1 0 obj<< >>\nendobj\n%%EOF"), "application/pdf", nil
	}
	data, err = os.ReadFile(path)
	return data, "", err
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
