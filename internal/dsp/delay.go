package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/stat"
)

// ErrTooFewPoints is returned when a delay fit has fewer than two samples.
var ErrTooFewPoints = errors.New("delay fit needs at least two points")

// Fit is the least-squares line through phase (rad) vs frequency.
type Fit struct {
	Slope     float64 // rad per frequency unit
	Intercept float64 // rad
	RSquared  float64
	Phase     []float64 // unwrapped phase used for the fit
}

// Unwrap removes 2π jumps from a phase sequence, matching numpy.unwrap with
// the default discontinuity of π.
func Unwrap(phase []float64) []float64 {
	out := make([]float64, len(phase))
	if len(phase) == 0 {
		return out
	}
	out[0] = phase[0]
	correction := 0.0
	for i := 1; i < len(phase); i++ {
		d := phase[i] - phase[i-1]
		dd := math.Mod(d+math.Pi, 2*math.Pi)
		if dd < 0 {
			dd += 2 * math.Pi
		}
		dd -= math.Pi
		if dd == -math.Pi && d > 0 {
			dd = math.Pi
		}
		if math.Abs(d) >= math.Pi {
			correction += dd - d
		}
		out[i] = phase[i] + correction
	}
	return out
}

// EstimateDelay fits the unwrapped phase of ratios against freqs and converts
// the slope to an integer sample delay: round(slope·2·bandwidth/2π). freqs
// and bandwidth share a unit. Rounding is half away from zero.
func EstimateDelay(freqs []float64, ratios []complex128, bandwidth float64) (int, Fit, error) {
	if len(freqs) != len(ratios) {
		return 0, Fit{}, fmt.Errorf("estimate delay: %d frequencies for %d ratios", len(freqs), len(ratios))
	}
	if len(freqs) < 2 {
		return 0, Fit{}, ErrTooFewPoints
	}
	if bandwidth <= 0 {
		return 0, Fit{}, fmt.Errorf("estimate delay: bandwidth must be positive")
	}
	raw := make([]float64, len(ratios))
	for i, r := range ratios {
		if cmplx.IsNaN(r) || cmplx.IsInf(r) {
			return 0, Fit{}, fmt.Errorf("estimate delay: invalid ratio at point %d", i)
		}
		raw[i] = cmplx.Phase(r)
	}
	phase := Unwrap(raw)
	intercept, slope := stat.LinearRegression(freqs, phase, nil, false)
	fit := Fit{
		Slope:     slope,
		Intercept: intercept,
		RSquared:  stat.RSquared(freqs, phase, nil, intercept, slope),
		Phase:     phase,
	}
	if math.IsNaN(fit.RSquared) {
		// constant phase: the line fits exactly
		fit.RSquared = 1
	}
	delay := math.Round(slope * 2 * bandwidth / (2 * math.Pi))
	return int(delay), fit, nil
}
