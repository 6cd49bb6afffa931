package thumbstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/gzip"
)

// Entry locates one stored thumbnail in the data file.
type Entry struct {
	ContentHash string
	Page        int
	Offset      uint64
	Length      uint32
}

// serializeDirectory encodes entries as a gzip-compressed sequence of
// varint-framed records, sorted by (ContentHash, Page) so the on-disk
// form is deterministic across Flush calls. Unlike the teacher's
// tile-ID delta encoding, content hashes carry no numeric locality, so
// each record is self-contained rather than delta-coded against its
// neighbor.
func serializeDirectory(entries []Entry) ([]byte, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ContentHash != sorted[j].ContentHash {
			return sorted[i].ContentHash < sorted[j].ContentHash
		}
		return sorted[i].Page < sorted[j].Page
	})

	var raw bytes.Buffer
	scratch := make([]byte, binary.MaxVarintLen64)

	n := binary.PutUvarint(scratch, uint64(len(sorted)))
	raw.Write(scratch[:n])

	for _, e := range sorted {
		n = binary.PutUvarint(scratch, uint64(len(e.ContentHash)))
		raw.Write(scratch[:n])
		raw.WriteString(e.ContentHash)

		n = binary.PutUvarint(scratch, uint64(e.Page))
		raw.Write(scratch[:n])
		n = binary.PutUvarint(scratch, e.Offset)
		raw.Write(scratch[:n])
		n = binary.PutUvarint(scratch, uint64(e.Length))
		raw.Write(scratch[:n])
	}

	var compressed bytes.Buffer
	gw, err := gzip.NewWriterLevel(&compressed, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := gw.Write(raw.Bytes()); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return compressed.Bytes(), nil
}

// deserializeDirectory reverses serializeDirectory.
func deserializeDirectory(data []byte) ([]Entry, error) {
	if len(data) == 0 {
		return nil, nil
	}
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("thumbstore: gzip reader: %w", err)
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("thumbstore: decompressing directory: %w", err)
	}
	r := bytes.NewReader(raw)

	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, fmt.Errorf("thumbstore: reading entry count: %w", err)
	}

	entries := make([]Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		hashLen, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("thumbstore: reading hash length %d: %w", i, err)
		}
		hashBuf := make([]byte, hashLen)
		if _, err := io.ReadFull(r, hashBuf); err != nil {
			return nil, fmt.Errorf("thumbstore: reading hash %d: %w", i, err)
		}

		page, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("thumbstore: reading page %d: %w", i, err)
		}
		offset, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("thumbstore: reading offset %d: %w", i, err)
		}
		length, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, fmt.Errorf("thumbstore: reading length %d: %w", i, err)
		}

		entries = append(entries, Entry{
			ContentHash: string(hashBuf),
			Page:        int(page),
			Offset:      offset,
			Length:      uint32(length),
		})
	}
	return entries, nil
}
