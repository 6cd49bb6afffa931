package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/foliotile/tilecore/internal/coordx"
)

// tileOutcome is the terminal state of one tile within a sequence's
// integrity map.
type tileOutcome int

const (
	tilePending tileOutcome = iota
	tileCompleted
	tileFailed
)

type tileState struct {
	outcome  tileOutcome
	attempts int
	prio     Priority
}

// Sequence is one render pass: the set of tiles requested for a
// particular viewport state, and which of them have completed. The
// coordinator (one per document) keeps exactly one active sequence; a new
// viewport state supersedes the previous sequence rather than
// mutating it, so stale completions never corrupt a newer one's
// bookkeeping.
type Sequence struct {
	ID    string
	Item  int
	Scale float64

	createdAt time.Time

	// ctx and bounds are the UpdateViewport call's own context and
	// item bounds, retained so a finalize-time retry (see
	// Coordinator.retryPending) can redispatch a tile without a live
	// caller on the stack, the same way retryOrGiveUp's backoff timer
	// already outlives the call that scheduled it.
	ctx    context.Context
	bounds coordx.ItemBounds

	mu           sync.Mutex
	tiles        map[coordx.TileCoord]*tileState
	superseded   bool
	lastProgress time.Time
}

func newSequence(id string, item int, scale float64, now time.Time) *Sequence {
	return &Sequence{
		ID:           id,
		Item:         item,
		Scale:        scale,
		createdAt:    now,
		lastProgress: now,
		tiles:        make(map[coordx.TileCoord]*tileState),
	}
}

// track registers a tile as requested at the given priority, if not
// already tracked.
func (s *Sequence) track(c coordx.TileCoord, prio Priority) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tiles[c]; !ok {
		s.tiles[c] = &tileState{outcome: tilePending, prio: prio}
	}
}

// complete marks a tile as completed and records progress.
func (s *Sequence) complete(c coordx.TileCoord, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tiles[c]
	if !ok {
		st = &tileState{}
		s.tiles[c] = st
	}
	st.outcome = tileCompleted
	s.lastProgress = now
}

// fail marks an attempt at a tile as failed, incrementing its attempt
// count, and reports whether a retry is still allowed under maxRetries.
func (s *Sequence) fail(c coordx.TileCoord, maxRetries int) (attemptsUsed int, retryable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.tiles[c]
	if !ok {
		st = &tileState{}
		s.tiles[c] = st
	}
	st.outcome = tileFailed
	st.attempts++
	return st.attempts, st.attempts <= maxRetries
}

// pendingTile is one candidate for finalize-time retry: a tile that
// was requested but never reached tileCompleted, together with the
// priority it was originally dispatched at.
type pendingTile struct {
	coord coordx.TileCoord
	prio  Priority
}

// Pending returns tiles that were requested but have not completed and
// have not yet exhausted maxRetries, the candidates for finalize-time
// retry. A tile already given up on by retryOrGiveUp (attempts >
// maxRetries) is excluded so finalize does not resurrect it forever.
func (s *Sequence) Pending(maxRetries int) []pendingTile {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pendingTile
	for c, st := range s.tiles {
		if st.outcome == tileCompleted {
			continue
		}
		if st.outcome == tileFailed && st.attempts > maxRetries {
			continue
		}
		out = append(out, pendingTile{coord: c, prio: st.prio})
	}
	return out
}

// Done reports whether every tracked tile has completed.
func (s *Sequence) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.tiles {
		if st.outcome != tileCompleted {
			return false
		}
	}
	return true
}

// Idle reports whether the sequence has made no progress for longer
// than the watchdog window.
func (s *Sequence) Idle(now time.Time, watchdog time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastProgress) >= watchdog
}

// Supersede marks the sequence superseded; its outstanding low/medium
// requests are dropped at dispatch time, but already-dispatched
// critical/high requests still complete and populate the cache.
func (s *Sequence) Supersede() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.superseded = true
}

// Superseded reports whether a newer viewport state has replaced this
// sequence.
func (s *Sequence) Superseded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.superseded
}
