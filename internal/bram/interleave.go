package bram

import (
	"errors"
	"fmt"
)

// ErrBankLength is returned when banks, or data split into banks, do not
// all hold the same number of samples.
var ErrBankLength = errors.New("banks of unequal length")

// Interleave merges K equally sized banks round-robin: bank0[0], bank1[0], ...,
// bankK-1[0], bank0[1], ... This is the channel order produced by spectrometer
// models that split the FFT output across parallel BRAMs.
func Interleave[T any](banks [][]T) ([]T, error) {
	if len(banks) == 0 {
		return nil, nil
	}
	k := len(banks)
	l := len(banks[0])
	for b, bank := range banks {
		if len(bank) != l {
			return nil, fmt.Errorf("bank %d has %d samples, bank 0 has %d: %w", b, len(bank), l, ErrBankLength)
		}
	}
	out := make([]T, k*l)
	for b, bank := range banks {
		for i, v := range bank {
			out[i*k+b] = v
		}
	}
	return out, nil
}

// Split is the inverse of Interleave: bank i receives data[i::k]. len(data)
// must be a multiple of k.
func Split[T any](data []T, k int) ([][]T, error) {
	if k <= 0 {
		return nil, fmt.Errorf("split into %d banks", k)
	}
	if len(data)%k != 0 {
		return nil, fmt.Errorf("%d samples over %d banks: %w", len(data), k, ErrBankLength)
	}
	l := len(data) / k
	banks := make([][]T, k)
	for b := range banks {
		bank := make([]T, l)
		for i := range bank {
			bank[i] = data[i*k+b]
		}
		banks[b] = bank
	}
	return banks, nil
}
