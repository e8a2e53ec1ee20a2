package dsp

import "math"

// FullScaleDB is the spectrometer power of a full-scale sinusoid in dB:
// 6.02·bits + 1.76 + 10·log10(channels).
func FullScaleDB(adcBits, channels int) float64 {
	return 6.02*float64(adcBits) + 1.76 + 10*math.Log10(float64(channels))
}

// ScaleDBFS converts accumulated powers to dBFS: 10·log10(p/accLen + 1) − fullScale.
// The +1 keeps empty channels finite.
func ScaleDBFS(spec []float64, accLen float64, fullScale float64) []float64 {
	out := make([]float64, len(spec))
	for i, v := range spec {
		out[i] = 10*math.Log10(v/accLen+1) - fullScale
	}
	return out
}

// RejectionRatioDB returns 10·log10(wanted/unwanted) per channel. It is used
// for both sideband rejection (SRR) and LO noise rejection (LNR).
func RejectionRatioDB(wanted, unwanted []float64) []float64 {
	n := min(len(wanted), len(unwanted))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = 10 * math.Log10(wanted[i]/unwanted[i])
	}
	return out
}

// HotColdRatioDB is the rejection of a switched source measured as the
// power it adds to each output: 10·log10((wantedHot−wantedCold) /
// (unwantedHot−unwantedCold)). A channel where the source adds nothing to
// the wanted output is NaN. One where it adds nothing measurable to the
// unwanted output is +Inf.
func HotColdRatioDB(wantedHot, wantedCold, unwantedHot, unwantedCold []float64) []float64 {
	n := min(len(wantedHot), len(wantedCold), len(unwantedHot), len(unwantedCold))
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		w := wantedHot[i] - wantedCold[i]
		u := unwantedHot[i] - unwantedCold[i]
		switch {
		case w <= 0:
			out[i] = math.NaN()
		case u <= 0:
			out[i] = math.Inf(1)
		default:
			out[i] = 10 * math.Log10(w/u)
		}
	}
	return out
}
