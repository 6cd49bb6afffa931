package coordinator

import (
	"bytes"
	"image"
	"image/png"

	"github.com/gen2brain/webp"
)

// EncodeTile serializes a rendered tile to the blob format stored in
// the cache and persistent store. WebP is preferred for its smaller
// size; PNG is an acceptable fallback when the WebP encoder fails on
// pathological input, per spec (§6 "WebP preferred, PNG acceptable").
func EncodeTile(img image.Image, quality int) ([]byte, error) {
	if quality <= 0 {
		quality = 80
	}
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: float32(quality)}); err == nil {
		return buf.Bytes(), nil
	}
	buf.Reset()
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
