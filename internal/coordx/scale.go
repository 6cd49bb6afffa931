// Package coordx implements the coordinate and scale-tier math shared
// by the spatial index, tile cache and render coordinator: scale
// quantisation, tile-region geometry, and viewport-to-visible-region
// projection. It mirrors the teacher's internal/coord package (pure,
// allocation-free functions operating on plain float64s) but trades
// web-mercator projection for page-space tile geometry.
package coordx

import "sort"

// Tiers are the discrete scale values a cache key is ever quantised
// to. Kept sorted ascending; SCALE_TIERS in the spec.
var Tiers = []float64{0.25, 0.5, 1, 2, 3, 4, 6, 8, 12, 16, 24, 32, 64}

// TileSizes are the supported tile pixel dimensions.
var TileSizes = []int{128, 256, 512}

// DescendingTiers lists Tiers from highest (most detailed) to lowest.
var DescendingTiers = func() []float64 {
	out := make([]float64, len(Tiers))
	copy(out, Tiers)
	sort.Sort(sort.Reverse(sort.Float64Slice(out)))
	return out
}()

// QuantizeScale snaps an arbitrary zoom to the nearest tier by
// distance. Idempotent: QuantizeScale(QuantizeScale(x)) == QuantizeScale(x).
func QuantizeScale(scale float64) float64 {
	best := Tiers[0]
	bestDist := absf(scale - best)
	for _, t := range Tiers[1:] {
		d := absf(scale - t)
		if d < bestDist {
			best = t
			bestDist = d
		}
	}
	return best
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// round10th rounds to 0.1-unit precision, the canonical precision used
// for region-equality comparisons across the spatial index and cache.
func round10th(v float64) float64 {
	return float64(int64(v*10+sign(v)*0.5)) / 10
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
