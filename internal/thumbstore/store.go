package thumbstore

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Store is a persistent key/value store for thumbnail-scale rasters,
// keyed by (content hash, page). The data file is append-only; the
// directory is held in memory and written out to the index file only
// on Flush, atomically, following the temp-file-then-rename pattern
// in other_examples' internal/cache/persistent_cache.go.
type Store struct {
	mu         sync.Mutex
	dir        string
	dataPath   string
	indexPath  string
	dataFile   *os.File
	entries    map[entryKey]Entry
	nextOffset uint64
	dirty      bool
}

type entryKey struct {
	hash string
	page int
}

// Open opens (creating if necessary) a store rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	dataPath := filepath.Join(dir, "thumbs.data")
	indexPath := filepath.Join(dir, "thumbs.index")

	dataFile, err := os.OpenFile(dataPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:       dir,
		dataPath:  dataPath,
		indexPath: indexPath,
		dataFile:  dataFile,
		entries:   make(map[entryKey]Entry),
	}

	if err := s.loadIndex(); err != nil {
		dataFile.Close()
		return nil, err
	}

	info, err := dataFile.Stat()
	if err != nil {
		dataFile.Close()
		return nil, err
	}
	s.nextOffset = uint64(info.Size())

	return s, nil
}

func (s *Store) loadIndex() error {
	raw, err := os.ReadFile(s.indexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(raw) < HeaderSize {
		return nil // truncated/corrupt index: start empty rather than fail open
	}

	hdr, err := DeserializeHeader(raw[:HeaderSize])
	if err != nil {
		return nil
	}
	body := raw[HeaderSize:]
	if uint64(len(body)) < hdr.DirectoryLength {
		return nil
	}

	entries, err := deserializeDirectory(body[:hdr.DirectoryLength])
	if err != nil {
		return nil
	}
	for _, e := range entries {
		s.entries[entryKey{hash: e.ContentHash, page: e.Page}] = e
	}
	return nil
}

// ContentHash hashes document bytes into the key space this store
// uses for ContentHash-keyed lookups, via xxhash for speed over large
// source files.
func ContentHash(data []byte) string {
	sum := xxhash.Sum64(data)
	return formatHash(sum)
}

func formatHash(v uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[v&0xf]
		v >>= 4
	}
	return string(buf)
}

// Get returns the stored bytes for (contentHash, page), if present.
func (s *Store) Get(contentHash string, page int) ([]byte, bool, error) {
	s.mu.Lock()
	e, ok := s.entries[entryKey{hash: contentHash, page: page}]
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}

	buf := make([]byte, e.Length)
	if _, err := s.dataFile.ReadAt(buf, int64(e.Offset)); err != nil && err != io.EOF {
		return nil, false, err
	}
	return buf, true, nil
}

// Has reports presence without reading the payload.
func (s *Store) Has(contentHash string, page int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[entryKey{hash: contentHash, page: page}]
	return ok
}

// Put appends value to the data file and records it in the in-memory
// directory. The directory is not persisted until Flush.
func (s *Store) Put(contentHash string, page int, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entryKey{hash: contentHash, page: page}]; exists {
		return nil // immutable once written; first writer wins
	}

	n, err := s.dataFile.WriteAt(value, int64(s.nextOffset))
	if err != nil {
		return err
	}
	s.entries[entryKey{hash: contentHash, page: page}] = Entry{
		ContentHash: contentHash,
		Page:        page,
		Offset:      s.nextOffset,
		Length:      uint32(n),
	}
	s.nextOffset += uint64(n)
	s.dirty = true
	return nil
}

// Flush rewrites the index file atomically: serialize into a temp file
// in the same directory, then rename over the live index, so a reader
// never observes a partially written index.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	entries := make([]Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	body, err := serializeDirectory(entries)
	if err != nil {
		return err
	}
	hdr := Header{DirectoryLength: uint64(len(body)), EntryCount: uint64(len(entries))}

	tmp, err := os.CreateTemp(s.dir, "thumbs.index.*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(hdr.Serialize()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, s.indexPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	s.dirty = false
	return nil
}

// Close flushes pending changes and releases the data file.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	return s.dataFile.Close()
}

// Len reports the number of stored entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
