package sweep

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/interp"
)

// ErrNoSamples is returned when densifying an empty sweep.
var ErrNoSamples = errors.New("no sweep samples to densify")

// Densify linearly interpolates sparse samples taken at testFreqs onto
// fullFreqs. Outside the sampled range the end values are held. A single
// sample densifies to a constant vector.
func Densify(testFreqs, fullFreqs, sparse []float64) ([]float64, error) {
	if len(testFreqs) != len(sparse) {
		return nil, fmt.Errorf("densify: %d frequencies for %d samples", len(testFreqs), len(sparse))
	}
	out := make([]float64, len(fullFreqs))
	switch len(sparse) {
	case 0:
		return nil, ErrNoSamples
	case 1:
		for i := range out {
			out[i] = sparse[0]
		}
		return out, nil
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(testFreqs, sparse); err != nil {
		return nil, fmt.Errorf("densify: %w", err)
	}
	first, last := testFreqs[0], testFreqs[len(testFreqs)-1]
	for i, f := range fullFreqs {
		switch {
		case f <= first:
			out[i] = sparse[0]
		case f >= last:
			out[i] = sparse[len(sparse)-1]
		default:
			out[i] = pl.Predict(f)
		}
	}
	return out, nil
}

// DensifyComplex interpolates real and imaginary parts independently.
func DensifyComplex(testFreqs, fullFreqs []float64, sparse []complex128) ([]complex128, error) {
	re := make([]float64, len(sparse))
	im := make([]float64, len(sparse))
	for i, v := range sparse {
		re[i], im[i] = real(v), imag(v)
	}
	dre, err := Densify(testFreqs, fullFreqs, re)
	if err != nil {
		return nil, err
	}
	dim, err := Densify(testFreqs, fullFreqs, im)
	if err != nil {
		return nil, err
	}
	out := make([]complex128, len(dre))
	for i := range out {
		out[i] = complex(dre[i], dim[i])
	}
	return out, nil
}
