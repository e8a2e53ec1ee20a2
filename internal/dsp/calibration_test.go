package dsp

import (
	"math"
	"math/cmplx"
	"testing"
)

func powers(a, b []complex128) ([]float64, []float64, []complex128) {
	return CrossPowers(a, b, 1)
}

func TestCancelBAntiCorrelated(t *testing.T) {
	a := []complex128{1, 0.3 - 2i, -4i}
	b := make([]complex128, len(a))
	for i := range a {
		b[i] = -a[i]
	}
	a2, b2, ab := powers(a, b)
	for i := range a2 {
		if a2[i] != b2[i] || ab[i] != complex(-a2[i], 0) {
			t.Fatalf("synthetic inputs not anti-correlated at %d", i)
		}
	}
	c, err := Constants(CancelInputB, a2, b2, ab)
	if err != nil {
		t.Fatalf("constants: %v", err)
	}
	for i := range c {
		if cmplx.Abs(a[i]+c[i]*b[i]) > 1e-12 {
			t.Fatalf("channel %d not cancelled: C=%v", i, c[i])
		}
	}
}

func TestCancelFormulasNullTheirInput(t *testing.T) {
	a := []complex128{2 + 1i, -1 + 0.5i}
	b := []complex128{0.5 - 1i, 3i}
	a2, b2, ab := powers(a, b)

	ca, _ := Constants(CancelInputA, a2, b2, ab)
	cb, _ := Constants(CancelInputB, a2, b2, ab)
	for i := range a {
		// −AB/B = −a/b, so a + C·b = 0
		if cmplx.Abs(a[i]+ca[i]*b[i]) > 1e-12 {
			t.Fatalf("cancel-a residual at %d", i)
		}
		// −conj(AB)/A = −b/a, so C·a + b = 0
		if cmplx.Abs(cb[i]*a[i]+b[i]) > 1e-12 {
			t.Fatalf("cancel-b residual at %d", i)
		}
	}
}

func TestZeroPowerPropagatesSentinels(t *testing.T) {
	c := CancelA([]float64{1, 0, 0}, []complex128{1, 1, 0})
	if cmplx.IsNaN(c[0]) || cmplx.IsInf(c[0]) {
		t.Fatalf("valid channel flagged")
	}
	bad := InvalidChannels(c)
	if len(bad) != 2 || bad[0] != 1 || bad[1] != 2 {
		t.Fatalf("expected channels 1 and 2 invalid, got %v", bad)
	}
}

func TestConstantsLengthMismatch(t *testing.T) {
	if _, err := Constants(CancelInputA, []float64{1}, []float64{1, 2}, []complex128{1}); err == nil {
		t.Fatalf("expected length error")
	}
}

func TestBalanceToneConstantsAntiPhase(t *testing.T) {
	const n = 2048
	cal := ToneCal{}
	for i := 0; i < n; i++ {
		p := 1 + float64(i%17)
		cal.A2USB = append(cal.A2USB, p)
		cal.B2USB = append(cal.B2USB, p)
		cal.ABUSB = append(cal.ABUSB, complex(-p, 0))
		cal.A2LSB = append(cal.A2LSB, 2*p)
		cal.B2LSB = append(cal.B2LSB, 2*p)
		cal.ABLSB = append(cal.ABLSB, complex(-2*p, 0))
	}
	consts, err := BalanceToneConstants(cal)
	if err != nil {
		t.Fatalf("constants: %v", err)
	}
	if len(consts) != n {
		t.Fatalf("expected %d constants got %d", n, len(consts))
	}
	for i, c := range consts {
		if math.Abs(cmplx.Abs(c)-1) > 1e-12 || math.Abs(cmplx.Phase(c)) > 1e-12 {
			t.Fatalf("channel %d: got %v", i, c)
		}
	}
	// the LO-side multiplier is the negated vector and sits at 180 degrees
	for i, c := range Negate(consts) {
		if math.Abs(math.Abs(cmplx.Phase(c))-math.Pi) > 1e-12 {
			t.Fatalf("negated channel %d at %f rad", i, cmplx.Phase(c))
		}
	}
}

func TestDSSConstantsCancelImageSideband(t *testing.T) {
	g := cmplx.Rect(1.1, 0.05)
	aU, bU := []complex128{1 + 1i}, []complex128{-1i * g * (1 + 1i)}
	aL, bL := []complex128{2}, []complex128{1i * g * 2}
	cal := ToneCal{}
	cal.A2USB, cal.B2USB, cal.ABUSB = powers(aU, bU)
	cal.A2LSB, cal.B2LSB, cal.ABLSB = powers(aL, bL)

	usb, lsb, err := DSSConstants(cal)
	if err != nil {
		t.Fatalf("constants: %v", err)
	}
	if cmplx.Abs(aL[0]+usb[0]*bL[0]) > 1e-12 {
		t.Fatalf("USB output keeps the LSB tone")
	}
	if cmplx.Abs(lsb[0]*aU[0]+bU[0]) > 1e-12 {
		t.Fatalf("LSB output keeps the USB tone")
	}
}

func TestToneCalInconsistentLengths(t *testing.T) {
	cal := ToneCal{A2USB: []float64{1}, B2USB: []float64{1}, ABUSB: []complex128{1}}
	if _, _, err := DSSConstants(cal); err == nil {
		t.Fatalf("expected error for missing LSB arrays")
	}
}

func TestRatios(t *testing.T) {
	a := []complex128{1 + 2i}
	b := []complex128{3 - 1i}
	a2, b2, ab := powers(a, b)
	if cmplx.Abs(Ratio(ab, b2)[0]-a[0]/b[0]) > 1e-12 {
		t.Fatalf("Ratio is not a/b")
	}
	if cmplx.Abs(ConjRatio(ab, a2)[0]-b[0]/a[0]) > 1e-12 {
		t.Fatalf("ConjRatio is not b/a")
	}
	if math.Abs(AngleDeg([]complex128{1i})[0]-90) > 1e-12 || MagnitudeDB([]complex128{10})[0] != 20 {
		t.Fatalf("display helpers wrong")
	}
}

func TestIdealConstants(t *testing.T) {
	c := IdealConstants(4, 1i)
	if len(c) != 4 || c[3] != 1i {
		t.Fatalf("unexpected ideal constants %v", c)
	}
}
