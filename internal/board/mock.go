package board

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/FrancoCalan/simulink-models/internal/bram"
	"github.com/FrancoCalan/simulink-models/internal/dsp"
	"github.com/FrancoCalan/simulink-models/internal/fixed"
)

// Mode selects how the simulated model combines its two inputs.
type Mode int

const (
	// ModeSideband is the sideband-separating model: out0 is USB, out1 is LSB.
	ModeSideband Mode = iota
	// ModeBalanced is the balance-mixer model: out0 is RF, out1 is LO.
	ModeBalanced
)

func (m Mode) String() string {
	if m == ModeBalanced {
		return "bm"
	}
	return "dss"
}

// ParseMode accepts "dss" or "bm".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dss", "":
		return ModeSideband, nil
	case "bm", "dbm":
		return ModeBalanced, nil
	default:
		return ModeSideband, fmt.Errorf("unsupported model variant %q", s)
	}
}

// ToneSource is the RF generator feeding the simulated receiver.
type ToneSource interface {
	Tone() (freqHz, powerDBm float64, on bool)
}

// MockModel names the registers and memories of the simulated design.
// Every bank list must have the same length.
type MockModel struct {
	Mode      Mode
	Bandwidth float64 // Hz
	AddrWidth int
	ADCBits   int
	ClockHz   float64
	AccPeriod time.Duration

	A2, B2, ABRe, ABIm []string
	Out0, Out1         []string
	Const0Re, Const0Im []string
	Const1Re, Const1Im []string

	PowType     bram.DataType
	CrossType   bram.DataType
	ConstType   bram.DataType
	ConstFormat fixed.Format

	SynAccLen    string
	CalAccLen    string
	Counter      string
	CounterReset string
	ADC0Delay    string
	ADC1Delay    string
}

// DefaultMockModel mirrors the 2048-channel, 1080 MHz sideband separating design.
func DefaultMockModel() MockModel {
	return MockModel{
		Mode:         ModeSideband,
		Bandwidth:    1080e6,
		AddrWidth:    8,
		ADCBits:      8,
		ClockHz:      135e6,
		AccPeriod:    time.Millisecond,
		A2:           bram.BankNames("dout_a2_%d", 8),
		B2:           bram.BankNames("dout_b2_%d", 8),
		ABRe:         bram.BankNames("dout_ab_re%d", 8),
		ABIm:         bram.BankNames("dout_ab_im%d", 8),
		Out0:         bram.BankNames("dout0_%d", 8),
		Out1:         bram.BankNames("dout1_%d", 8),
		Const0Re:     bram.BankNames("bram_mult0_%d_bram_re", 8),
		Const0Im:     bram.BankNames("bram_mult0_%d_bram_im", 8),
		Const1Re:     bram.BankNames("bram_mult1_%d_bram_re", 8),
		Const1Im:     bram.BankNames("bram_mult1_%d_bram_im", 8),
		PowType:      bram.MustDataType(">u8"),
		CrossType:    bram.MustDataType(">i8"),
		ConstType:    bram.MustDataType(">i4"),
		ConstFormat:  fixed.SignedFormat(32, 27),
		SynAccLen:    "syn_acc_len",
		CalAccLen:    "cal_acc_len",
		Counter:      "acc_cnt",
		CounterReset: "cnt_rst",
		ADC0Delay:    "adc0_delay",
		ADC1Delay:    "adc1_delay",
	}
}

// Banks is the number of parallel memories per vector.
func (m MockModel) Banks() int { return len(m.A2) }

// Channels is the spectrum length of the model.
func (m MockModel) Channels() int { return m.Banks() << m.AddrWidth }

// MockImpairments are the analog and ADC errors the calibration has to undo.
type MockImpairments struct {
	Gain       float64 // |b|/|a|; 0 means 1
	PhaseDeg   float64 // extra phase of input b
	Skew       int     // samples by which ADC1 leads ADC0
	NoiseLevel float64 // rms of the uncorrelated noise per input, ADC codes
	Seed       int64
}

type memKind int

const (
	kindA2 memKind = iota
	kindB2
	kindABRe
	kindABIm
	kindOut0
	kindOut1
	kindConst
)

type bankRef struct {
	kind memKind
	bank int
}

type mockState struct {
	freq, power float64
	on          bool
	lo          float64
	noiseOn     bool
	noiseDBm    float64
	delay       int64
	consts      int
}

type mockSpectra struct {
	a2, b2     []float64
	ab         []complex128
	out0, out1 []float64
}

// Mock simulates a two-input spectrometer design on a ROACH board. BRAM
// contents are computed on read from the current tone, the ADC delay
// registers and the loaded constants.
type Mock struct {
	mu     sync.Mutex
	model  MockModel
	imp    MockImpairments
	tone   ToneSource
	now    func() time.Time
	spec   *dsp.Spectrometer
	banks  map[string]bankRef
	regs   map[string]int64
	mems   map[string][]byte
	closed bool

	lo       float64
	noiseOn  bool
	noiseDBm float64
	boffile  string
	boot     time.Time
	reset    time.Time
	consts   int

	noiseA, noiseB, noiseC []complex128

	cacheKey mockState
	cache    *mockSpectra
}

// NewMock builds a simulated board. tone may be nil (no RF input).
func NewMock(model MockModel, imp MockImpairments, tone ToneSource) *Mock {
	if imp.Gain == 0 {
		imp.Gain = 1
	}
	if model.AccPeriod <= 0 {
		model.AccPeriod = time.Millisecond
	}
	m := &Mock{
		model: model,
		imp:   imp,
		tone:  tone,
		now:   time.Now,
		spec:  dsp.NewSpectrometer(model.Channels()),
		banks: map[string]bankRef{},
		regs:  map[string]int64{},
		mems:  map[string][]byte{},
	}
	m.boot = m.now()
	m.reset = m.boot
	for kind, names := range map[memKind][]string{
		kindA2: model.A2, kindB2: model.B2, kindABRe: model.ABRe, kindABIm: model.ABIm,
		kindOut0: model.Out0, kindOut1: model.Out1,
	} {
		for i, name := range names {
			m.banks[name] = bankRef{kind: kind, bank: i}
		}
	}
	for _, names := range [][]string{model.Const0Re, model.Const0Im, model.Const1Re, model.Const1Im} {
		for i, name := range names {
			m.banks[name] = bankRef{kind: kindConst, bank: i}
		}
	}
	m.clearRegisters()

	rng := rand.New(rand.NewSource(imp.Seed))
	m.noiseA = m.noiseSpectrum(rng, imp.NoiseLevel)
	m.noiseB = m.noiseSpectrum(rng, imp.NoiseLevel)
	m.noiseC = m.noiseSpectrum(rng, 1)
	return m
}

func (m *Mock) clearRegisters() {
	for _, name := range []string{m.model.SynAccLen, m.model.CalAccLen, m.model.CounterReset, m.model.ADC0Delay, m.model.ADC1Delay} {
		if name != "" {
			m.regs[name] = 0
		}
	}
}

func (m *Mock) noiseSpectrum(rng *rand.Rand, rms float64) []complex128 {
	samples := make([]float64, 2*m.model.Channels())
	for i := range samples {
		samples[i] = rms * rng.NormFloat64()
	}
	return m.spec.Spectrum(samples)
}

// SetLO sets the local oscillator that downconverts the generator tone.
func (m *Mock) SetLO(hz float64) {
	m.mu.Lock()
	m.lo = hz
	m.mu.Unlock()
}

// SetNoise switches the broadband source that reaches both inputs
// correlated, like LO noise in a balance mixer.
func (m *Mock) SetNoise(on bool, powerDBm float64) {
	m.mu.Lock()
	m.noiseOn = on
	m.noiseDBm = powerDBm
	m.mu.Unlock()
}

// Bitstream returns the last programmed boffile.
func (m *Mock) Bitstream() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.boffile
}

func (m *Mock) ReadInt(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrNotConnected
	}
	switch name {
	case ClockRegister:
		ticks := uint32(uint64(m.now().Sub(m.boot).Seconds() * m.model.ClockHz))
		return int64(int32(ticks)), nil
	case m.model.Counter:
		return int64(m.now().Sub(m.reset) / m.model.AccPeriod), nil
	}
	v, ok := m.regs[name]
	if !ok {
		return 0, fmt.Errorf("register %s: %w", name, ErrNoSuchDevice)
	}
	return v, nil
}

func (m *Mock) WriteInt(ctx context.Context, name string, value int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotConnected
	}
	if _, ok := m.regs[name]; !ok {
		return fmt.Errorf("register %s: %w", name, ErrNoSuchDevice)
	}
	v := int64(int32(uint32(value)))
	if name == m.model.CounterReset && m.regs[name] != 0 && v == 0 {
		m.reset = m.now()
	}
	m.regs[name] = v
	return nil
}

func (m *Mock) Read(ctx context.Context, name string, size, offset int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrNotConnected
	}
	ref, ok := m.banks[name]
	if !ok {
		return nil, fmt.Errorf("memory %s: %w", name, ErrNoSuchDevice)
	}
	var raw []byte
	if ref.kind == kindConst {
		raw = m.constBank(name)
	} else {
		raw = m.outputBank(ref)
	}
	if offset < 0 || offset > len(raw) {
		return nil, fmt.Errorf("memory %s: offset %d out of range", name, offset)
	}
	end := offset + size
	if end > len(raw) {
		end = len(raw)
	}
	return append([]byte(nil), raw[offset:end]...), nil
}

func (m *Mock) Write(ctx context.Context, name string, data []byte, offset int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotConnected
	}
	ref, ok := m.banks[name]
	if !ok {
		return fmt.Errorf("memory %s: %w", name, ErrNoSuchDevice)
	}
	if ref.kind != kindConst {
		return fmt.Errorf("memory %s is read-only", name)
	}
	buf := m.constBank(name)
	if offset < 0 || offset+len(data) > len(buf) {
		return fmt.Errorf("memory %s: write of %d bytes at %d exceeds %d", name, len(data), offset, len(buf))
	}
	copy(buf[offset:], data)
	m.mems[name] = buf
	m.consts++
	return nil
}

// Program resets registers and constant memories, as a fresh bitstream would.
func (m *Mock) Program(ctx context.Context, boffile string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrNotConnected
	}
	m.boffile = boffile
	m.mems = map[string][]byte{}
	m.clearRegisters()
	m.consts++
	m.boot = m.now()
	m.reset = m.boot
	return nil
}

func (m *Mock) ListDevices(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrNotConnected
	}
	names := make([]string, 0, len(m.banks)+len(m.regs)+2)
	for name := range m.banks {
		names = append(names, name)
	}
	for name := range m.regs {
		names = append(names, name)
	}
	names = append(names, ClockRegister, m.model.Counter)
	sort.Strings(names)
	return names, nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Mock) depth() int { return 1 << m.model.AddrWidth }

func (m *Mock) constBank(name string) []byte {
	if b, ok := m.mems[name]; ok {
		return append([]byte(nil), b...)
	}
	return make([]byte, m.depth()*m.model.ConstType.Size)
}

func (m *Mock) constants(reNames, imNames []string) []complex128 {
	read := func(names []string) []float64 {
		banks := make([][]int64, len(names))
		for i, name := range names {
			vals, err := bram.Decode(m.constBank(name), m.model.ConstType)
			if err != nil {
				vals = make([]float64, m.depth())
			}
			codes := make([]int64, len(vals))
			for j, v := range vals {
				codes[j] = int64(v)
			}
			banks[i] = codes
		}
		codes, err := bram.Interleave(banks)
		if err != nil {
			codes = make([]int64, m.model.Channels())
		}
		return fixed.Decode(codes, m.model.ConstFormat)
	}
	re, im := read(reNames), read(imNames)
	out := make([]complex128, len(re))
	for i := range out {
		out[i] = complex(re[i], im[i])
	}
	return out
}

func (m *Mock) state() mockState {
	s := mockState{
		lo:       m.lo,
		noiseOn:  m.noiseOn,
		noiseDBm: m.noiseDBm,
		delay:    int64(m.imp.Skew) - m.regs[m.model.ADC1Delay] + m.regs[m.model.ADC0Delay],
		consts:   m.consts,
	}
	if m.tone != nil {
		s.freq, s.power, s.on = m.tone.Tone()
	}
	return s
}

// spectra returns the per-channel voltages combined into powers, before
// accumulation.
func (m *Mock) spectra() *mockSpectra {
	st := m.state()
	if m.cache != nil && st == m.cacheKey {
		return m.cache
	}
	n := m.model.Channels()
	sig := make([]complex128, n)
	theta := math.Pi
	if st.on {
		ifFreq := math.Abs(st.freq - st.lo)
		chnl := int(math.Round(ifFreq / (m.model.Bandwidth / float64(n))))
		if chnl >= 0 && chnl < n {
			sig = m.toneSpectrum(chnl, st.power)
		}
		if m.model.Mode == ModeSideband {
			theta = -math.Pi / 2
			if st.freq < st.lo {
				theta = math.Pi / 2
			}
		}
	}
	noiseAmp := 0.0
	if st.noiseOn {
		noiseAmp = m.amplitude(st.noiseDBm)
	}

	gain := m.imp.Gain
	phi := m.imp.PhaseDeg * math.Pi / 180
	a := make([]complex128, n)
	b := make([]complex128, n)
	for k := 0; k < n; k++ {
		ramp := cmplx.Exp(complex(0, 2*math.Pi*float64(k)*float64(st.delay)/float64(2*n)))
		hSig := complex(gain, 0) * cmplx.Exp(complex(0, theta+phi)) * ramp
		hNoise := complex(gain, 0) * cmplx.Exp(complex(0, math.Pi+phi)) * ramp
		common := complex(noiseAmp, 0) * m.noiseC[k]
		a[k] = sig[k] + common + m.noiseA[k]
		b[k] = hSig*sig[k] + hNoise*common + m.noiseB[k]
	}

	out := &mockSpectra{out0: make([]float64, n), out1: make([]float64, n)}
	out.a2, out.b2, out.ab = dsp.CrossPowers(a, b, 1)
	c0 := m.constants(m.model.Const0Re, m.model.Const0Im)
	c1 := m.constants(m.model.Const1Re, m.model.Const1Im)
	for k := 0; k < n; k++ {
		out.out0[k] = sqAbs(a[k] + c0[k]*b[k])
		if m.model.Mode == ModeSideband {
			out.out1[k] = sqAbs(c1[k]*a[k] + b[k])
		} else {
			out.out1[k] = sqAbs(a[k] + c1[k]*b[k])
		}
	}
	m.cacheKey, m.cache = st, out
	return out
}

func (m *Mock) amplitude(powerDBm float64) float64 {
	return math.Ldexp(1, m.model.ADCBits-1) * math.Pow(10, powerDBm/20)
}

func (m *Mock) toneSpectrum(chnl int, powerDBm float64) []complex128 {
	size := 2 * m.model.Channels()
	amp := m.amplitude(powerDBm)
	samples := make([]float64, size)
	for t := range samples {
		samples[t] = amp * math.Cos(2*math.Pi*float64(chnl)*float64(t)/float64(size))
	}
	return m.spec.Spectrum(samples)
}

func sqAbs(c complex128) float64 { return real(c)*real(c) + imag(c)*imag(c) }

func (m *Mock) accLen(kind memKind) float64 {
	reg := m.model.CalAccLen
	if kind == kindOut0 || kind == kindOut1 {
		reg = m.model.SynAccLen
	}
	if v := m.regs[reg]; v > 0 {
		return float64(v)
	}
	return 1
}

func (m *Mock) outputBank(ref bankRef) []byte {
	s := m.spectra()
	var vals []float64
	typ := m.model.PowType
	switch ref.kind {
	case kindA2:
		vals = s.a2
	case kindB2:
		vals = s.b2
	case kindABRe, kindABIm:
		typ = m.model.CrossType
		vals = make([]float64, len(s.ab))
		for i, v := range s.ab {
			if ref.kind == kindABRe {
				vals[i] = real(v)
			} else {
				vals[i] = imag(v)
			}
		}
	case kindOut0:
		vals = s.out0
	case kindOut1:
		vals = s.out1
	}
	acc := m.accLen(ref.kind)
	codes := make([]int64, len(vals))
	for i, v := range vals {
		codes[i] = int64(math.Round(v * acc))
	}
	banks, err := bram.Split(codes, m.model.Banks())
	if err != nil {
		return nil
	}
	return bram.Encode(banks[ref.bank], typ)
}
