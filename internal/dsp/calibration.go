package dsp

import (
	"fmt"
	"math"
	"math/cmplx"
)

// CancelInput selects which input a constant vector nulls when applied as
// a + C·b.
type CancelInput int

const (
	// CancelInputA uses C = −AB/B.
	CancelInputA CancelInput = iota
	// CancelInputB uses C = −conj(AB)/A.
	CancelInputB
)

func (c CancelInput) String() string {
	switch c {
	case CancelInputA:
		return "a"
	case CancelInputB:
		return "b"
	default:
		return "unknown"
	}
}

// CancelA returns −AB/B per channel. Zero-power channels yield NaN or Inf.
func CancelA(b2 []float64, ab []complex128) []complex128 {
	n := min(len(b2), len(ab))
	out := make([]complex128, n)
	for i := 0; i < n; i++ {
		out[i] = -ab[i] / complex(b2[i], 0)
	}
	return out
}

// CancelB returns −conj(AB)/A per channel. Zero-power channels yield NaN or Inf.
func CancelB(a2 []float64, ab []complex128) []complex128 {
	n := min(len(a2), len(ab))
	out := make([]complex128, n)
	for i := 0; i < n; i++ {
		out[i] = -cmplx.Conj(ab[i]) / complex(a2[i], 0)
	}
	return out
}

// Constants computes a constant vector with the formula chosen by which.
func Constants(which CancelInput, a2, b2 []float64, ab []complex128) ([]complex128, error) {
	if len(a2) != len(ab) || len(b2) != len(ab) {
		return nil, fmt.Errorf("constants: length mismatch a2=%d b2=%d ab=%d", len(a2), len(b2), len(ab))
	}
	switch which {
	case CancelInputA:
		return CancelA(b2, ab), nil
	case CancelInputB:
		return CancelB(a2, ab), nil
	default:
		return nil, fmt.Errorf("constants: unknown cancel input %d", which)
	}
}

// InvalidChannels lists the channels whose constant is NaN or infinite.
func InvalidChannels(c []complex128) []int {
	var bad []int
	for i, v := range c {
		if cmplx.IsNaN(v) || cmplx.IsInf(v) {
			bad = append(bad, i)
		}
	}
	return bad
}

// ToneCal holds the densified auto and cross powers of a two-sideband tone
// calibration: one set measured with the tone in the upper sideband and one
// with it in the lower sideband.
type ToneCal struct {
	A2USB, B2USB []float64
	ABUSB        []complex128
	A2LSB, B2LSB []float64
	ABLSB        []complex128
}

// Channels returns the common vector length, or an error if the arrays disagree.
func (t ToneCal) Channels() (int, error) {
	n := len(t.ABUSB)
	for _, l := range []int{len(t.A2USB), len(t.B2USB), len(t.A2LSB), len(t.B2LSB), len(t.ABLSB)} {
		if l != n {
			return 0, fmt.Errorf("tone calibration: inconsistent array lengths")
		}
	}
	return n, nil
}

// DSSConstants returns the sideband-separation constants. The USB constants
// cancel the tone measured in the lower sideband (−AB/B) and the LSB
// constants cancel the tone measured in the upper sideband (−conj(AB)/A).
func DSSConstants(cal ToneCal) (usb, lsb []complex128, err error) {
	if _, err := cal.Channels(); err != nil {
		return nil, nil, err
	}
	return CancelA(cal.B2LSB, cal.ABLSB), CancelB(cal.A2USB, cal.ABUSB), nil
}

// BalanceToneConstants combines both sidebands of a balance-mixer tone
// calibration: −(AB_usb+AB_lsb)/(B_usb+B_lsb).
func BalanceToneConstants(cal ToneCal) ([]complex128, error) {
	n, err := cal.Channels()
	if err != nil {
		return nil, err
	}
	out := make([]complex128, n)
	for i := range out {
		out[i] = -(cal.ABUSB[i] + cal.ABLSB[i]) / complex(cal.B2USB[i]+cal.B2LSB[i], 0)
	}
	return out, nil
}

// BalanceNoiseConstants returns −AB/B for a wide-band noise calibration.
func BalanceNoiseConstants(b2 []float64, ab []complex128) ([]complex128, error) {
	if len(b2) != len(ab) {
		return nil, fmt.Errorf("noise constants: length mismatch b2=%d ab=%d", len(b2), len(ab))
	}
	return CancelA(b2, ab), nil
}

// IdealConstants returns n copies of value.
func IdealConstants(n int, value complex128) []complex128 {
	out := make([]complex128, n)
	for i := range out {
		out[i] = value
	}
	return out
}

// Negate returns −c.
func Negate(c []complex128) []complex128 {
	out := make([]complex128, len(c))
	for i, v := range c {
		out[i] = -v
	}
	return out
}

// Ratio returns AB/B, i.e. a/b.
func Ratio(ab []complex128, b2 []float64) []complex128 {
	n := min(len(b2), len(ab))
	out := make([]complex128, n)
	for i := 0; i < n; i++ {
		out[i] = ab[i] / complex(b2[i], 0)
	}
	return out
}

// ConjRatio returns conj(AB)/A, i.e. b/a.
func ConjRatio(ab []complex128, a2 []float64) []complex128 {
	n := min(len(a2), len(ab))
	out := make([]complex128, n)
	for i := 0; i < n; i++ {
		out[i] = cmplx.Conj(ab[i]) / complex(a2[i], 0)
	}
	return out
}

// MagnitudeDB returns 20·log10|c| per channel.
func MagnitudeDB(c []complex128) []float64 {
	out := make([]float64, len(c))
	for i, v := range c {
		out[i] = 20 * math.Log10(cmplx.Abs(v))
	}
	return out
}

// AngleDeg returns the phase of each element in degrees.
func AngleDeg(c []complex128) []float64 {
	out := make([]float64, len(c))
	for i, v := range c {
		out[i] = cmplx.Phase(v) * 180 / math.Pi
	}
	return out
}
