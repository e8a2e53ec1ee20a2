package fixed

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var consts32 = SignedFormat(32, 27)

func TestEncodeRoundTripWithinHalfLSB(t *testing.T) {
	values := []float64{0, 1, -1, 0.123456789, -3.999, 15.99999, -16}
	codes, rep, err := Encode(values, consts32, Saturate)
	require.NoError(t, err)
	assert.False(t, rep.Overflowed())

	back := Decode(codes, consts32)
	lsb := 1 / consts32.Scale()
	for i, v := range values {
		assert.LessOrEqual(t, math.Abs(back[i]-v), lsb/2, "index %d", i)
	}
}

func TestEncodeKnownCodes(t *testing.T) {
	codes, _, err := Encode([]float64{1, -1, 0.5}, consts32, Saturate)
	require.NoError(t, err)
	assert.Equal(t, []int64{1 << 27, -(1 << 27), 1 << 26}, codes)
}

func TestEncodeOverflowPolicies(t *testing.T) {
	f := SignedFormat(8, 4) // codes in [-128, 127], values in [-8, 7.9375]
	values := []float64{1, 20, -20, math.NaN(), math.Inf(1)}

	tests := []struct {
		name   string
		policy Policy
		want   []int64
	}{
		{name: "saturate", policy: Saturate, want: []int64{16, 127, -128, 0, 127}},
		{name: "wrap", policy: Wrap, want: []int64{16, 320 - 256, -320 + 256, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes, rep, err := Encode(values, f, tt.policy)
			require.NoError(t, err)
			assert.Equal(t, tt.want, codes)
			assert.Equal(t, []int{1, 2, 3, 4}, rep.Overflows)
		})
	}

	_, rep, err := Encode(values, f, Reject)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOverflow))
	assert.Equal(t, []int{1}, rep.Overflows)
}

func TestWrapLandsInSignedRange(t *testing.T) {
	f := SignedFormat(8, 0)
	codes, _, err := Encode([]float64{128, 255, 256, -129}, f, Wrap)
	require.NoError(t, err)
	assert.Equal(t, []int64{-128, -1, 0, 127}, codes)
}

func TestEncodeComplexMergesReports(t *testing.T) {
	f := SignedFormat(8, 4)
	re, im, rep, err := EncodeComplex([]complex128{complex(1, -1), complex(100, 0), complex(0, 100)}, f, Saturate)
	require.NoError(t, err)
	assert.Equal(t, []int64{16, 127, 0}, re)
	assert.Equal(t, []int64{-16, 0, 127}, im)
	assert.Equal(t, []int{1, 2}, rep.Overflows)
}

func TestFormatValidation(t *testing.T) {
	_, _, err := Encode([]float64{1}, Format{Bits: 0}, Saturate)
	require.Error(t, err)
	_, _, err = Encode([]float64{1}, Format{Bits: 8, BinPt: 9, Signed: true}, Saturate)
	require.Error(t, err)

	lo, hi := Format{Bits: 8}.Range()
	assert.Equal(t, int64(0), lo)
	assert.Equal(t, int64(255), hi)
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("wrap")
	require.NoError(t, err)
	assert.Equal(t, Wrap, p)
	_, err = ParsePolicy("clip")
	require.Error(t, err)
}
