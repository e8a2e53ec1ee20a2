// Package fixed converts floating-point calibration constants to the signed
// fixed-point integer codes stored in the model's multiplier BRAMs.
package fixed

import (
	"errors"
	"fmt"
	"math"
)

// ErrOverflow is returned under the Reject policy when a value does not fit.
var ErrOverflow = errors.New("fixed-point overflow")

// Format is a fixed-point representation: Bits total, BinPt fractional bits.
type Format struct {
	Bits   int
	BinPt  int
	Signed bool
}

// SignedFormat returns a signed format, e.g. SignedFormat(32, 27) for the default constants.
func SignedFormat(bits, binPt int) Format {
	return Format{Bits: bits, BinPt: binPt, Signed: true}
}

func (f Format) String() string {
	kind := "u"
	if f.Signed {
		kind = "s"
	}
	return fmt.Sprintf("%s%d_%d", kind, f.Bits, f.BinPt)
}

// Validate reports whether the format is representable as int64 codes.
func (f Format) Validate() error {
	if f.Bits <= 0 || f.Bits > 53 {
		return fmt.Errorf("fixed format %s: bits must be in [1,53]", f)
	}
	if f.BinPt < 0 || f.BinPt > f.Bits {
		return fmt.Errorf("fixed format %s: binary point must be in [0,%d]", f, f.Bits)
	}
	return nil
}

// Range returns the smallest and largest representable codes.
func (f Format) Range() (lo, hi int64) {
	if f.Signed {
		return -(int64(1) << (f.Bits - 1)), int64(1)<<(f.Bits-1) - 1
	}
	return 0, int64(1)<<f.Bits - 1
}

// Scale is 2^BinPt.
func (f Format) Scale() float64 { return math.Ldexp(1, f.BinPt) }

// Policy selects what happens to values outside the representable range.
type Policy int

const (
	Saturate Policy = iota
	Wrap
	Reject
)

func (p Policy) String() string {
	switch p {
	case Saturate:
		return "saturate"
	case Wrap:
		return "wrap"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// ParsePolicy converts a configuration string to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "saturate", "":
		return Saturate, nil
	case "wrap":
		return Wrap, nil
	case "reject":
		return Reject, nil
	default:
		return Saturate, fmt.Errorf("unsupported overflow policy %q", s)
	}
}

// Report lists the indices that overflowed during an Encode call.
type Report struct {
	Overflows []int
}

// Overflowed is true when at least one value did not fit.
func (r Report) Overflowed() bool { return len(r.Overflows) > 0 }

// Encode converts values to codes: round(v·2^BinPt) (half away from zero),
// then applies the overflow policy. NaN and ±Inf count as overflows; NaN
// encodes to 0.
func Encode(values []float64, f Format, p Policy) ([]int64, Report, error) {
	if err := f.Validate(); err != nil {
		return nil, Report{}, err
	}
	lo, hi := f.Range()
	scale := f.Scale()
	codes := make([]int64, len(values))
	var rep Report
	for i, v := range values {
		x := math.Round(v * scale)
		if !math.IsNaN(x) && x >= float64(lo) && x <= float64(hi) {
			codes[i] = int64(x)
			continue
		}
		rep.Overflows = append(rep.Overflows, i)
		switch p {
		case Reject:
			return nil, rep, fmt.Errorf("value %g at index %d does not fit %s: %w", v, i, f, ErrOverflow)
		case Wrap:
			codes[i] = wrap(x, f)
		default:
			codes[i] = saturate(x, lo, hi)
		}
	}
	return codes, rep, nil
}

func saturate(x float64, lo, hi int64) int64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x < float64(lo):
		return lo
	default:
		return hi
	}
}

// wrap reduces x modulo 2^Bits into the format's code range.
func wrap(x float64, f Format) int64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	m := math.Ldexp(1, f.Bits)
	r := math.Mod(x, m)
	if r < 0 {
		r += m
	}
	code := int64(r)
	if f.Signed && code >= int64(1)<<(f.Bits-1) {
		code -= int64(1) << f.Bits
	}
	return code
}

// Decode maps codes back to real values: code / 2^BinPt.
func Decode(codes []int64, f Format) []float64 {
	scale := f.Scale()
	out := make([]float64, len(codes))
	for i, c := range codes {
		out[i] = float64(c) / scale
	}
	return out
}

// EncodeComplex encodes real and imaginary parts separately and merges the
// overflow reports (indices refer to the complex slice).
func EncodeComplex(values []complex128, f Format, p Policy) (re, im []int64, rep Report, err error) {
	rv := make([]float64, len(values))
	iv := make([]float64, len(values))
	for i, v := range values {
		rv[i], iv[i] = real(v), imag(v)
	}
	re, rr, err := Encode(rv, f, p)
	if err != nil {
		return nil, nil, rr, fmt.Errorf("real part: %w", err)
	}
	im, ir, err := Encode(iv, f, p)
	if err != nil {
		return nil, nil, ir, fmt.Errorf("imaginary part: %w", err)
	}
	rep.Overflows = mergeSorted(rr.Overflows, ir.Overflows)
	return re, im, rep, nil
}

func mergeSorted(a, b []int) []int {
	out := make([]int, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case j >= len(b) || (i < len(a) && a[i] < b[j]):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j] < a[i]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
