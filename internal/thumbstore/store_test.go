package thumbstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Put("hash-a", 3, []byte("thumbnail bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := s.Get("hash-a", 3)
	if err != nil || !ok {
		t.Fatalf("Get = (%v, %v, %v), want hit", got, ok, err)
	}
	if string(got) != "thumbnail bytes" {
		t.Errorf("Get = %q, want %q", got, "thumbnail bytes")
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	_, ok, err := s.Get("absent", 0)
	if err != nil || ok {
		t.Fatalf("Get on empty store = (ok=%v err=%v), want (false, nil)", ok, err)
	}
}

func TestPutIsImmutableFirstWriterWins(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	s.Put("hash-a", 0, []byte("first"))
	s.Put("hash-a", 0, []byte("second"))

	got, _, _ := s.Get("hash-a", 0)
	if string(got) != "first" {
		t.Errorf("Get = %q, want %q (first write wins)", got, "first")
	}
}

func TestFlushAndReopenSurvivesRestart(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s1.Put("hash-a", 1, []byte("page one"))
	s1.Put("hash-a", 2, []byte("page two"))
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if s2.Len() != 2 {
		t.Fatalf("Len after reopen = %d, want 2", s2.Len())
	}
	got, ok, err := s2.Get("hash-a", 2)
	if err != nil || !ok || string(got) != "page two" {
		t.Fatalf("Get after reopen = (%q, %v, %v), want (\"page two\", true, nil)", got, ok, err)
	}
}

func TestFlushWritesIndexFileAtomically(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	s.Put("hash-a", 0, []byte("data"))
	if err := s.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	indexPath := filepath.Join(dir, "thumbs.index")
	if info, err := os.Stat(indexPath); err != nil || info.Size() == 0 {
		t.Fatalf("expected non-empty index file after Flush, stat: %v, %v", info, err)
	}
}

func TestContentHashStable(t *testing.T) {
	a := ContentHash([]byte("same bytes"))
	b := ContentHash([]byte("same bytes"))
	c := ContentHash([]byte("different bytes"))

	if a != b {
		t.Error("expected identical input to hash identically")
	}
	if a == c {
		t.Error("expected different input to hash differently")
	}
	if len(a) != 16 {
		t.Errorf("ContentHash length = %d, want 16 hex chars", len(a))
	}
}
