package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordCacheHitIncrementsLabeledCounter(t *testing.T) {
	m := New()
	m.RecordCacheHit("l1")
	m.RecordCacheHit("l1")
	m.RecordCacheMiss("l2")

	if got := testutil.ToFloat64(m.CacheHits.WithLabelValues("l1")); got != 2 {
		t.Errorf("CacheHits[l1] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.CacheMisses.WithLabelValues("l2")); got != 1 {
		t.Errorf("CacheMisses[l2] = %v, want 1", got)
	}
}

func TestSetWorkerQueueDepthOverwrites(t *testing.T) {
	m := New()
	m.SetWorkerQueueDepth("w0", 3)
	m.SetWorkerQueueDepth("w0", 7)

	if got := testutil.ToFloat64(m.WorkerQueueDepth.WithLabelValues("w0")); got != 7 {
		t.Errorf("WorkerQueueDepth[w0] = %v, want 7", got)
	}
}

func TestRecordRenderFailureByKind(t *testing.T) {
	m := New()
	m.RecordRenderFailure("timeout")
	m.RecordRenderFailure("timeout")
	m.RecordRenderFailure("decoder-error")

	if got := testutil.ToFloat64(m.RenderFailures.WithLabelValues("timeout")); got != 2 {
		t.Errorf("RenderFailures[timeout] = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RenderFailures.WithLabelValues("decoder-error")); got != 1 {
		t.Errorf("RenderFailures[decoder-error] = %v, want 1", got)
	}
}

func TestNewRegistersEveryMetricOnItsOwnRegistry(t *testing.T) {
	m1 := New()
	m2 := New()
	m1.RecordCacheHit("l1")
	if got := testutil.ToFloat64(m2.CacheHits.WithLabelValues("l1")); got != 0 {
		t.Errorf("expected independent registries not to share state, got %v", got)
	}
}
