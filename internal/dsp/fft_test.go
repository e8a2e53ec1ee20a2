package dsp

import (
	"math"
	"math/cmplx"
	"testing"
)

func tone(n, bin int, amp, phase float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Cos(2*math.Pi*float64(bin)*float64(i)/float64(n)+phase)
	}
	return out
}

func TestSpectrumPeakAtToneBin(t *testing.T) {
	spec := Spectrum(tone(64, 5, 1, 0))
	if len(spec) != 32 {
		t.Fatalf("expected 32 channels, got %d", len(spec))
	}
	peak := 0
	for i, v := range spec {
		if cmplx.Abs(v) > cmplx.Abs(spec[peak]) {
			peak = i
		}
	}
	if peak != 5 {
		t.Fatalf("expected peak at 5 got %d", peak)
	}
	// a cosine of amplitude 1 splits evenly between ±f
	if math.Abs(cmplx.Abs(spec[5])-0.5) > 1e-2 {
		t.Fatalf("unexpected peak magnitude %f", cmplx.Abs(spec[5]))
	}
}

func TestSpectrumKeepsRelativePhase(t *testing.T) {
	a := Spectrum(tone(128, 9, 1, 0))
	b := Spectrum(tone(128, 9, 1, -math.Pi/2))
	ratio := b[9] / a[9]
	if math.Abs(cmplx.Phase(ratio)+math.Pi/2) > 1e-2 {
		t.Fatalf("expected -90 deg between channels, got %f rad", cmplx.Phase(ratio))
	}
}
