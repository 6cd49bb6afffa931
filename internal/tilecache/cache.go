package tilecache

import (
	"go.uber.org/zap"

	"github.com/foliotile/tilecore/internal/docerr"
)

// PersistentStore is the subset of internal/thumbstore's API the L2
// tier needs: get/put of raw bytes keyed by content hash and page.
type PersistentStore interface {
	Get(contentHash string, page int) ([]byte, bool, error)
	Put(contentHash string, page int, value []byte) error
}

// Cache is the two-tier tile cache described in spec §5: an in-memory
// LRU (L1) for every scale, backed for thumbnail-scale entries by a
// persistent store (L2) that survives process restarts.
type Cache struct {
	l1 *Memory
	l2 PersistentStore

	// contentHashOf resolves a DocID to the content hash L2 is keyed
	// by; documents never loaded through the persistent tier (e.g. an
	// in-memory test fixture) simply miss L2 and fall through to a
	// decoder re-render, which is the documented degraded mode.
	contentHashOf func(docID string) (string, bool)

	log *zap.Logger
}

// New creates a tiered cache. l2 and contentHashOf may be nil, in
// which case the cache behaves as L1-only. log may be nil, in which
// case it defaults to zap.NewNop().
func New(l1 *Memory, l2 PersistentStore, contentHashOf func(docID string) (string, bool), log *zap.Logger) *Cache {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{l1: l1, l2: l2, contentHashOf: contentHashOf, log: log}
}

// Get looks up a tile, consulting L2 only for thumbnail-scale keys
// that missed L1, and backfilling L1 on an L2 hit.
func (c *Cache) Get(key Key) ([]byte, bool) {
	if v, ok := c.l1.Get(key); ok {
		return v, true
	}
	if !key.IsThumbnail() || c.l2 == nil || c.contentHashOf == nil {
		return nil, false
	}
	hash, ok := c.contentHashOf(key.DocID)
	if !ok {
		return nil, false
	}
	v, found, err := c.l2.Get(hash, key.Item)
	if err != nil || !found {
		return nil, false
	}
	c.l1.Set(key, v)
	return v, true
}

// Set stores a tile in L1, and additionally persists thumbnail-scale
// entries to L2.
func (c *Cache) Set(key Key, value []byte) {
	c.l1.Set(key, value)
	if !key.IsThumbnail() || c.l2 == nil || c.contentHashOf == nil {
		return
	}
	hash, ok := c.contentHashOf(key.DocID)
	if !ok {
		return
	}
	if err := c.l2.Put(hash, key.Item, value); err != nil {
		werr := docerr.Wrap(docerr.KindPersistenceError, "tilecache: l2 put failed", err)
		c.log.Warn("persisting thumbnail tile failed, keeping in-memory copy only",
			zap.String("doc", key.DocID), zap.Int("item", key.Item), zap.Error(werr))
	}
}

// Has reports L1 presence only; L2 presence is resolved lazily on Get.
func (c *Cache) Has(key Key) bool {
	return c.l1.Has(key)
}

// Delete removes a key from L1. L2 entries are immutable once written;
// neither this cache nor the thumbstore ever removes them.
func (c *Cache) Delete(key Key) {
	c.l1.Delete(key)
}

// Clear empties L1. L2 is untouched, since it is meant to survive
// across in-memory cache resets (e.g. a memory-pressure purge).
func (c *Cache) Clear() {
	c.l1.Clear()
}
