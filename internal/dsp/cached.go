package dsp

import (
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// Spectrometer caches the window and FFT plan used to turn a block of real
// ADC samples into channel voltages. It is safe for concurrent use.
type Spectrometer struct {
	mu        sync.Mutex
	window    []float64
	windowSum float64
	size      int
	fft       *fourier.FFT
}

// NewSpectrometer builds a spectrometer producing channels bins, i.e. an FFT
// of 2·channels real samples.
func NewSpectrometer(channels int) *Spectrometer {
	s := &Spectrometer{}
	s.resize(2 * channels)
	return s
}

func (s *Spectrometer) resize(size int) {
	s.size = size
	s.window = Hamming(size)
	s.windowSum = floats.Sum(s.window)
	s.fft = fourier.NewFFT(size)
}

// Channels returns the number of output channels.
func (s *Spectrometer) Channels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size / 2
}

// Spectrum is the cached equivalent of the package-level Spectrum. Blocks of
// a different length fall back to the uncached path.
func (s *Spectrometer) Spectrum(samples []float64) []complex128 {
	if len(samples) == 0 {
		return []complex128{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(samples) != s.size {
		return Spectrum(samples)
	}
	windowed := ApplyWindow(samples, s.window)
	coeffs := s.fft.Coefficients(nil, windowed)
	return normalize(coeffs[:s.size/2], s.windowSum)
}

// CrossPowers returns the auto powers |A|², |B|² and the cross power A·conj(B)
// of two channel-voltage vectors, each multiplied by accLen.
func CrossPowers(a, b []complex128, accLen float64) (a2, b2 []float64, ab []complex128) {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	a2 = make([]float64, n)
	b2 = make([]float64, n)
	ab = make([]complex128, n)
	for i := 0; i < n; i++ {
		a2[i] = accLen * (real(a[i])*real(a[i]) + imag(a[i])*imag(a[i]))
		b2[i] = accLen * (real(b[i])*real(b[i]) + imag(b[i])*imag(b[i]))
		ab[i] = complex(accLen, 0) * a[i] * cmplx.Conj(b[i])
	}
	return a2, b2, ab
}
