package dsp

import (
	"math"
	"testing"
)

func TestHamming(t *testing.T) {
	const n = 9
	win := Hamming(n)
	if len(win) != n {
		t.Fatalf("unexpected length: %d", len(win))
	}
	if math.Abs(win[0]-0.08) > 1e-12 || math.Abs(win[n/2]-1) > 1e-12 {
		t.Fatalf("edges %.4f, centre %.4f", win[0], win[n/2])
	}
	for i := 0; i < n/2; i++ {
		if math.Abs(win[i]-win[n-1-i]) > 1e-12 {
			t.Fatalf("window not symmetric at %d", i)
		}
	}
	if len(Hamming(0)) != 0 || Hamming(1)[0] != 1 {
		t.Fatalf("degenerate window lengths mishandled")
	}
}

func TestApplyWindowLeavesInputAlone(t *testing.T) {
	samples := []float64{4, -2, 8}
	out := ApplyWindow(samples, []float64{0.5, 0.25, 0})
	if out[0] != 2 || out[1] != -0.5 || out[2] != 0 {
		t.Fatalf("unexpected windowed values %v", out)
	}
	if samples[0] != 4 {
		t.Fatalf("input modified: %v", samples)
	}
	if len(ApplyWindow(samples, []float64{1})) != 0 {
		t.Fatalf("expected empty slice when lengths differ")
	}
}
