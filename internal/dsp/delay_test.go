package dsp

import (
	"errors"
	"math"
	"math/cmplx"
	"math/rand"
	"testing"
)

func rampRatios(freqs []float64, d, bw, offset float64) []complex128 {
	out := make([]complex128, len(freqs))
	for i, f := range freqs {
		out[i] = cmplx.Rect(1, 2*math.Pi*f*d/(2*bw)+offset)
	}
	return out
}

func testFreqs(bw float64, n, step int) []float64 {
	var out []float64
	for c := 1; c < n; c += step {
		out = append(out, bw*float64(c)/float64(n))
	}
	return out
}

func TestUnwrap(t *testing.T) {
	in := []float64{0, 3, -3, -0.1, 3.1, 6.4}
	got := Unwrap(in)
	want := []float64{0, 3, 2*math.Pi - 3, 2*math.Pi - 0.1, 3.1, 6.4 - 2*math.Pi}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Fatalf("index %d: got %f want %f", i, got[i], want[i])
		}
	}
	if len(Unwrap(nil)) != 0 {
		t.Fatalf("expected empty output")
	}
}

func TestEstimateDelayExact(t *testing.T) {
	const bw = 1080.0
	freqs := testFreqs(bw, 2048, 100)
	for _, d := range []int{-7, -1, 0, 1, 3, 12} {
		got, fit, err := EstimateDelay(freqs, rampRatios(freqs, float64(d), bw, 0.4), bw)
		if err != nil {
			t.Fatalf("delay %d: %v", d, err)
		}
		if got != d {
			t.Fatalf("expected delay %d got %d", d, got)
		}
		if d != 0 && math.Abs(fit.RSquared-1) > 1e-9 {
			t.Fatalf("delay %d: expected perfect fit, R²=%f", d, fit.RSquared)
		}
	}
}

func TestEstimateDelayWithPhaseNoise(t *testing.T) {
	const bw = 1080.0
	rng := rand.New(rand.NewSource(7))
	freqs := testFreqs(bw, 2048, 100)
	ratios := rampRatios(freqs, 5, bw, -1.2)
	for i := range ratios {
		ratios[i] *= cmplx.Rect(1, rng.NormFloat64()*0.05)
	}
	got, _, err := EstimateDelay(freqs, ratios, bw)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if got != 5 {
		t.Fatalf("expected delay 5 got %d", got)
	}
}

func TestEstimateDelayRejectsBadInput(t *testing.T) {
	if _, _, err := EstimateDelay([]float64{1}, []complex128{1}, 1080); !errors.Is(err, ErrTooFewPoints) {
		t.Fatalf("expected ErrTooFewPoints, got %v", err)
	}
	if _, _, err := EstimateDelay([]float64{1, 2}, []complex128{1}, 1080); err == nil {
		t.Fatalf("expected length mismatch error")
	}
	nan := complex(math.NaN(), 0)
	if _, _, err := EstimateDelay([]float64{1, 2}, []complex128{1, nan}, 1080); err == nil {
		t.Fatalf("expected invalid ratio error")
	}
}
