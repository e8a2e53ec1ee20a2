package sweep

// Sideband identifies which image of the LO a tone sits in.
type Sideband int

const (
	USB Sideband = iota
	LSB
)

func (s Sideband) String() string {
	if s == LSB {
		return "lsb"
	}
	return "usb"
}

// TestChannels returns start, start+step, ... below stop.
func TestChannels(start, stop, step int) []int {
	if step <= 0 {
		return nil
	}
	var out []int
	for c := start; c < stop; c += step {
		out = append(out, c)
	}
	return out
}

// IFFreqs returns n channel centre frequencies over [0, bandwidth), endpoint
// excluded.
func IFFreqs(bandwidth float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = bandwidth * float64(i) / float64(n)
	}
	return out
}

// RFFreqs maps IF frequencies to the RF frequencies that land in them for a
// given LO and sideband.
func RFFreqs(lo float64, ifFreqs []float64, sb Sideband) []float64 {
	out := make([]float64, len(ifFreqs))
	for i, f := range ifFreqs {
		if sb == LSB {
			out[i] = lo - f
		} else {
			out[i] = lo + f
		}
	}
	return out
}

// Pick returns values at the given indices.
func Pick[T any](values []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = values[j]
	}
	return out
}
