package dsp

import (
	"math"
	"testing"
)

func TestFullScaleDB(t *testing.T) {
	got := FullScaleDB(8, 2048)
	want := 6.02*8 + 1.76 + 10*math.Log10(2048)
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("got %f want %f", got, want)
	}
}

func TestScaleDBFS(t *testing.T) {
	out := ScaleDBFS([]float64{0, 99 * 4}, 4, 10)
	if out[0] != -10 {
		t.Fatalf("empty channel should map to -fullscale, got %f", out[0])
	}
	if math.Abs(out[1]-10) > 1e-12 {
		t.Fatalf("expected 10 dBFS, got %f", out[1])
	}
}

func TestRejectionRatioDB(t *testing.T) {
	out := RejectionRatioDB([]float64{1000, 1}, []float64{1, 1})
	if math.Abs(out[0]-30) > 1e-12 || out[1] != 0 {
		t.Fatalf("unexpected ratios %v", out)
	}
}

func TestHotColdRatioDB(t *testing.T) {
	out := HotColdRatioDB(
		[]float64{1010, 5, 20},
		[]float64{10, 5, 10},
		[]float64{3, 1, 1},
		[]float64{2, 1, 2},
	)
	if math.Abs(out[0]-30) > 1e-12 {
		t.Fatalf("expected 30 dB, got %f", out[0])
	}
	if !math.IsNaN(out[1]) {
		t.Fatalf("no excess on the wanted output should be NaN, got %f", out[1])
	}
	if !math.IsInf(out[2], 1) {
		t.Fatalf("no excess on the unwanted output should be +Inf, got %f", out[2])
	}
}
