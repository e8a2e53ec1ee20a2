package bram

import (
	"context"
	"errors"
	"fmt"
)

// ErrShortRead is returned when a bank returns fewer bytes than its layout requires.
var ErrShortRead = errors.New("short bram read")

// BlockReader reads a byte range of a named on-chip memory.
type BlockReader interface {
	Read(ctx context.Context, name string, size, offset int) ([]byte, error)
}

// BlockWriter writes a byte range of a named on-chip memory.
type BlockWriter interface {
	Write(ctx context.Context, name string, data []byte, offset int) error
}

// Layout describes one logical vector spread across parallel banks.
type Layout struct {
	Names     []string
	AddrWidth int // bits; each bank holds 2^AddrWidth words
	WordWidth int // bits; must agree with Type when non-zero
	Type      DataType
}

// Depth returns the number of words per bank.
func (l Layout) Depth() int { return 1 << l.AddrWidth }

// BankBytes returns the exact number of bytes read from each bank.
func (l Layout) BankBytes() int { return l.Depth() * l.Type.Size }

// Channels returns the length of the reassembled vector.
func (l Layout) Channels() int { return l.Depth() * len(l.Names) }

// Validate checks that the layout can be read.
func (l Layout) Validate() error {
	if len(l.Names) == 0 {
		return fmt.Errorf("bram layout: no bank names")
	}
	if l.AddrWidth <= 0 || l.AddrWidth > 24 {
		return fmt.Errorf("bram layout: address width %d out of range", l.AddrWidth)
	}
	if l.Type.Size == 0 {
		return fmt.Errorf("bram layout: missing data type")
	}
	if l.WordWidth != 0 && l.WordWidth != l.Type.Bits() {
		return fmt.Errorf("bram layout: word width %d does not match data type %s", l.WordWidth, l.Type)
	}
	return nil
}

// ReadInterleaved performs one read per bank and returns the round-robin
// reassembled vector of length K·2^AddrWidth.
func ReadInterleaved(ctx context.Context, r BlockReader, l Layout) ([]float64, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	want := l.BankBytes()
	banks := make([][]float64, len(l.Names))
	for i, name := range l.Names {
		raw, err := r.Read(ctx, name, want, 0)
		if err != nil {
			return nil, fmt.Errorf("read bank %s: %w", name, err)
		}
		if len(raw) < want {
			return nil, fmt.Errorf("bank %s: got %d bytes, want %d: %w", name, len(raw), want, ErrShortRead)
		}
		if len(raw) > want {
			return nil, fmt.Errorf("bank %s: got %d bytes, want %d", name, len(raw), want)
		}
		vals, err := Decode(raw, l.Type)
		if err != nil {
			return nil, fmt.Errorf("bank %s: %w", name, err)
		}
		banks[i] = vals
	}
	return Interleave(banks)
}

// ReadComplex reads a real and an imaginary layout and combines them.
func ReadComplex(ctx context.Context, r BlockReader, re, im Layout) ([]complex128, error) {
	reVals, err := ReadInterleaved(ctx, r, re)
	if err != nil {
		return nil, fmt.Errorf("real part: %w", err)
	}
	imVals, err := ReadInterleaved(ctx, r, im)
	if err != nil {
		return nil, fmt.Errorf("imaginary part: %w", err)
	}
	if len(reVals) != len(imVals) {
		return nil, fmt.Errorf("real/imaginary length mismatch: %d vs %d", len(reVals), len(imVals))
	}
	out := make([]complex128, len(reVals))
	for i := range out {
		out[i] = complex(reVals[i], imVals[i])
	}
	return out, nil
}

// WriteInterleaved splits codes across the named banks (bank i gets
// codes[i::K]) and writes each bank from offset 0.
func WriteInterleaved(ctx context.Context, w BlockWriter, names []string, codes []int64, t DataType) error {
	if len(names) == 0 {
		return fmt.Errorf("write interleaved: no bank names")
	}
	banks, err := Split(codes, len(names))
	if err != nil {
		return fmt.Errorf("write interleaved: %w", err)
	}
	for i, bank := range banks {
		if err := w.Write(ctx, names[i], Encode(bank, t), 0); err != nil {
			return fmt.Errorf("write bank %s: %w", names[i], err)
		}
	}
	return nil
}

// BankNames expands a name pattern with one %d verb into k bank names,
// e.g. BankNames("dout_a2_%d", 8) or BankNames("bram_mult0_%d_bram_re", 8).
func BankNames(pattern string, k int) []string {
	names := make([]string, k)
	for i := range names {
		names[i] = fmt.Sprintf(pattern, i)
	}
	return names
}
