package tilecache

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMemoryGetSetRoundTrip(t *testing.T) {
	m := NewMemory(1 << 20)
	k := Key{DocID: "doc", Item: 0, Scale: 1, TileX: 0, TileY: 0, TileSize: 256}

	if _, ok := m.Get(k); ok {
		t.Fatal("expected miss before Set")
	}
	m.Set(k, []byte("payload"))
	v, ok := m.Get(k)
	if !ok || string(v) != "payload" {
		t.Fatalf("Get = (%q, %v), want (\"payload\", true)", v, ok)
	}
}

func TestMemoryEvictsLeastRecentlyUsedOnByteBudget(t *testing.T) {
	// Budget exactly fits two 10-byte entries.
	m := NewMemory(20)
	a := Key{DocID: "doc", Item: 0, TileX: 0}
	b := Key{DocID: "doc", Item: 1, TileX: 0}
	c := Key{DocID: "doc", Item: 2, TileX: 0}

	m.Set(a, make([]byte, 10))
	m.Set(b, make([]byte, 10))
	// Touch a so b becomes the least recently used.
	m.Get(a)
	m.Set(c, make([]byte, 10))

	if m.Has(b) {
		t.Error("expected b evicted as least recently used")
	}
	if !m.Has(a) || !m.Has(c) {
		t.Error("expected a (recently touched) and c (just inserted) to remain")
	}
}

func TestMemoryOversizedEntryEvictsEverythingElse(t *testing.T) {
	m := NewMemory(10)
	small := Key{DocID: "doc", Item: 0}
	big := Key{DocID: "doc", Item: 1}

	m.Set(small, make([]byte, 5))
	m.Set(big, make([]byte, 100))

	if m.Has(small) {
		t.Error("expected small entry evicted to make room")
	}
	if m.Has(big) {
		t.Error("expected oversized entry not retained, since it alone exceeds the byte budget")
	}
}

func TestMemoryDeleteAndClear(t *testing.T) {
	m := NewMemory(1 << 20)
	k := Key{DocID: "doc"}
	m.Set(k, []byte("x"))

	m.Delete(k)
	if m.Has(k) {
		t.Error("expected entry removed by Delete")
	}

	m.Set(k, []byte("y"))
	m.Clear()
	if m.Len() != 0 || m.UsedBytes() != 0 {
		t.Errorf("expected empty cache after Clear, got len=%d bytes=%d", m.Len(), m.UsedBytes())
	}
}

type fakeStore struct {
	data   map[string][]byte
	putErr error
}

func newFakeStore() *fakeStore { return &fakeStore{data: make(map[string][]byte)} }

func (f *fakeStore) keyOf(hash string, page int) string {
	return hash + "|" + string(rune('0'+page))
}

func (f *fakeStore) Get(hash string, page int) ([]byte, bool, error) {
	v, ok := f.data[f.keyOf(hash, page)]
	return v, ok, nil
}

func (f *fakeStore) Put(hash string, page int, value []byte) error {
	if f.putErr != nil {
		return f.putErr
	}
	f.data[f.keyOf(hash, page)] = value
	return nil
}

func TestTieredCacheThumbnailFallsThroughToL2(t *testing.T) {
	l2 := newFakeStore()
	hashes := map[string]string{"doc-1": "hash-abc"}
	c := New(NewMemory(1<<20), l2, func(docID string) (string, bool) {
		h, ok := hashes[docID]
		return h, ok
	}, nil)

	key := Key{DocID: "doc-1", Item: 2, Scale: 0.5, TileSize: 256}
	c.Set(key, []byte("thumb"))

	// Simulate an L1 eviction (process restart): fresh L1, same L2.
	c2 := New(NewMemory(1<<20), l2, c.contentHashOf, nil)
	v, ok := c2.Get(key)
	if !ok || string(v) != "thumb" {
		t.Fatalf("Get after L1 miss = (%q, %v), want (\"thumb\", true) via L2", v, ok)
	}
}

func TestTieredCacheNonThumbnailNeverTouchesL2(t *testing.T) {
	l2 := newFakeStore()
	c := New(NewMemory(1<<20), l2, func(string) (string, bool) { return "hash", true }, nil)

	key := Key{DocID: "doc-1", Item: 0, Scale: 1, TileSize: 256}
	c.Set(key, []byte("full-res"))

	if len(l2.data) != 0 {
		t.Error("expected non-thumbnail scale to never reach L2")
	}
}

func TestTieredCacheLogsAndSwallowsL2PutFailure(t *testing.T) {
	l2 := newFakeStore()
	l2.putErr = errors.New("disk full")
	core, logs := observer.New(zap.WarnLevel)
	c := New(NewMemory(1<<20), l2, func(string) (string, bool) { return "hash", true }, zap.New(core))

	key := Key{DocID: "doc-1", Item: 0, Scale: 0.5, TileSize: 256}
	c.Set(key, []byte("thumb"))

	if !c.l1.Has(key) {
		t.Error("expected tile to remain cached in L1 despite L2 failure")
	}
	if logs.Len() != 1 {
		t.Fatalf("expected one warning logged, got %d", logs.Len())
	}
	if got := logs.All()[0].Message; got != "persisting thumbnail tile failed, keeping in-memory copy only" {
		t.Errorf("unexpected log message %q", got)
	}
}
