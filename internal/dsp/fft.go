package dsp

import (
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// Spectrum computes the one-sided spectrum of real samples the way the FPGA
// spectrometer does: Hamming window, real FFT, normalization by the window
// sum. For len(samples) = 2n it returns n channels; the Nyquist bin is
// dropped, matching the hardware channel count.
func Spectrum(samples []float64) []complex128 {
	n := len(samples)
	if n < 2 {
		return []complex128{}
	}
	win := Hamming(n)
	windowed := ApplyWindow(samples, win)
	coeffs := fourier.NewFFT(n).Coefficients(nil, windowed)
	return normalize(coeffs[:n/2], floats.Sum(win))
}

func normalize(coeffs []complex128, sum float64) []complex128 {
	out := make([]complex128, len(coeffs))
	for i, v := range coeffs {
		out[i] = v / complex(sum, 0)
	}
	return out
}
