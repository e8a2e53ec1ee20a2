package dsp

import (
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// Hamming returns the n-point Hamming window used by the ROACH PFB model.
func Hamming(n int) []float64 {
	switch {
	case n <= 0:
		return []float64{}
	case n == 1:
		return []float64{1}
	}
	ones := make([]float64, n)
	for i := range ones {
		ones[i] = 1
	}
	return window.Hamming(ones)
}

// ApplyWindow returns samples weighted by win, or an empty slice when the
// lengths differ.
func ApplyWindow(samples, win []float64) []float64 {
	if len(samples) != len(win) {
		return []float64{}
	}
	return floats.MulTo(make([]float64, len(samples)), samples, win)
}
