// Package thumbstore implements the persistent L2 tile cache of spec
// §5.2: a small on-disk key/value store, keyed by (content hash, page
// number) rather than the PMTiles (z,x,y) scheme it's adapted from,
// holding thumbnail-scale rasters that should survive a process
// restart.
//
// Layout is grounded on the teacher's internal/pmtiles package: a
// small fixed header, a gzip-compressed directory of entries, and a
// separate append-only data section. Two changes from the teacher's
// one-shot archive writer:
//
//   - The directory is keyed by (contentHash, page) instead of a
//     Hilbert-curve tile ID; a content hash carries no 2D locality
//     across unrelated documents; see internal/thumbstore/directory.go.
//   - Thumbnails arrive incrementally as pages render, so the data
//     file is append-only and the directory is rewritten atomically on
//     Flush rather than assembled once at Finalize, following the
//     save-then-rename pattern in other_examples'
//     internal/cache/persistent_cache.go.
package thumbstore

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed size, in bytes, of the index file's header.
const HeaderSize = 24

const indexMagic = "TCIDXv1\x00"

// Header is the small fixed preamble of the index file: a magic/version
// stamp plus the length of the gzip-compressed directory that follows.
type Header struct {
	DirectoryLength uint64
	EntryCount      uint64
}

// Serialize writes the fixed-size header.
func (h Header) Serialize() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:8], indexMagic)
	binary.LittleEndian.PutUint64(buf[8:16], h.DirectoryLength)
	binary.LittleEndian.PutUint64(buf[16:24], h.EntryCount)
	return buf
}

// DeserializeHeader parses the fixed-size header.
func DeserializeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, fmt.Errorf("thumbstore: index header too short: %d bytes", len(buf))
	}
	if string(buf[0:8]) != indexMagic {
		return Header{}, fmt.Errorf("thumbstore: bad index magic %q", buf[0:8])
	}
	return Header{
		DirectoryLength: binary.LittleEndian.Uint64(buf[8:16]),
		EntryCount:      binary.LittleEndian.Uint64(buf[16:24]),
	}, nil
}
