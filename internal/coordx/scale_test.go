package coordx

import "testing"

func TestQuantizeScale(t *testing.T) {
	tests := []struct {
		name  string
		in    float64
		want  float64
	}{
		{"exact tier", 4, 4},
		{"between tiers rounds down", 4.9, 4},
		{"between tiers rounds up", 5.1, 6},
		{"below min clamps to min", 0.1, 0.25},
		{"above max clamps to max", 100, 64},
		{"midpoint 1.5 ties toward lower tier", 1.5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := QuantizeScale(tt.in)
			if got != tt.want {
				t.Errorf("QuantizeScale(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestQuantizeScaleIdempotent(t *testing.T) {
	for _, s := range []float64{0.3, 1.7, 9, 50, 64, 0.25} {
		once := QuantizeScale(s)
		twice := QuantizeScale(once)
		if once != twice {
			t.Errorf("QuantizeScale not idempotent for %v: once=%v twice=%v", s, once, twice)
		}
	}
}

func TestRound10th(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{1.23, 1.2},
		{1.25, 1.3},
		{0.0, 0.0},
		{-1.25, -1.3},
	}
	for _, tt := range tests {
		got := round10th(tt.in)
		if got != tt.want {
			t.Errorf("round10th(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
