// Package config loads experiment templates: board and instrument
// addresses, the model's memory layout and the sweep parameters.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/FrancoCalan/simulink-models/internal/board"
	"github.com/FrancoCalan/simulink-models/internal/bram"
	"github.com/FrancoCalan/simulink-models/internal/fixed"
)

// EnvPrefix prefixes environment overrides, e.g. CALAN_BOARD_IP.
const EnvPrefix = "CALAN"

type Config struct {
	Board      Board      `mapstructure:"board"`
	Generator  Generator  `mapstructure:"generator"`
	LO         Generator  `mapstructure:"lo"`
	Noise      Noise      `mapstructure:"noise"`
	Model      Model      `mapstructure:"model"`
	Experiment Experiment `mapstructure:"experiment"`
	Archive    Archive    `mapstructure:"archive"`
	Log        Log        `mapstructure:"log"`
	Telemetry  Telemetry  `mapstructure:"telemetry"`
	Mock       Mock       `mapstructure:"mock"`
}

type Board struct {
	IP          string        `mapstructure:"ip"`
	Boffile     string        `mapstructure:"boffile"`
	Program     bool          `mapstructure:"program"`
	Upload      bool          `mapstructure:"upload"`
	SSHUser     string        `mapstructure:"ssh_user"`
	SSHPassword string        `mapstructure:"ssh_password"`
	SSHKey      string        `mapstructure:"ssh_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Generator is an SCPI signal source. FreqMHz is only used for fixed
// sources such as the LO.
type Generator struct {
	IP         string  `mapstructure:"ip"`
	PowerDBm   float64 `mapstructure:"power"`
	FreqMHz    float64 `mapstructure:"freq_mhz"`
	Multiplier int     `mapstructure:"multiplier"`
}

// Noise is the switchable correlated noise source of hot/cold tests. Its
// level is experiment.noise_power.
type Noise struct {
	IP string `mapstructure:"ip"`
}

// Model describes the FPGA design's memories and registers.
type Model struct {
	Variant      string   `mapstructure:"variant"`
	ADCBits      int      `mapstructure:"adc_bits"`
	BandwidthMHz float64  `mapstructure:"bandwidth_mhz"`
	AddrWidth    int      `mapstructure:"bram_addr_width"`
	WordWidth    int      `mapstructure:"bram_word_width"`
	PowType      string   `mapstructure:"pow_data_type"`
	CrossType    string   `mapstructure:"cross_data_type"`
	ConstType    string   `mapstructure:"const_data_type"`
	ConstBits    int      `mapstructure:"consts_nbits"`
	ConstBinPt   int      `mapstructure:"consts_binpt"`
	A2           []string `mapstructure:"bram_a2"`
	B2           []string `mapstructure:"bram_b2"`
	ABRe         []string `mapstructure:"bram_ab_re"`
	ABIm         []string `mapstructure:"bram_ab_im"`
	Out0         []string `mapstructure:"bram_out0"`
	Out1         []string `mapstructure:"bram_out1"`
	Const0Re     []string `mapstructure:"bram_consts0_re"`
	Const0Im     []string `mapstructure:"bram_consts0_im"`
	Const1Re     []string `mapstructure:"bram_consts1_re"`
	Const1Im     []string `mapstructure:"bram_consts1_im"`
	SynAccLen    string   `mapstructure:"syn_acc_len_reg"`
	CalAccLen    string   `mapstructure:"cal_acc_len_reg"`
	CntRst       string   `mapstructure:"cnt_rst_reg"`
	AccCount     string   `mapstructure:"acc_cnt_reg"`
	ADC0Delay    string   `mapstructure:"adc0_delay_reg"`
	ADC1Delay    string   `mapstructure:"adc1_delay_reg"`
}

type Experiment struct {
	AccLen        int           `mapstructure:"acc_len"`
	ChnlStart     int           `mapstructure:"chnl_start"`
	ChnlStep      int           `mapstructure:"chnl_step"`
	SyncChnlStep  int           `mapstructure:"sync_chnl_step"`
	Pause         time.Duration `mapstructure:"pause"`
	Accumulations int           `mapstructure:"settle_accumulations"`
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`
	MaxIterations int           `mapstructure:"max_iterations"`
	Overflow      string        `mapstructure:"overflow"`
	IdealConst    string        `mapstructure:"ideal_const"`
	NoisePower    float64       `mapstructure:"noise_power"`
	SaveRaw       bool          `mapstructure:"save_raw"`
	LOFreqsMHz    []float64     `mapstructure:"lo_freqs_mhz"`
}

type Archive struct {
	Dir string `mapstructure:"dir"`
	S3  S3     `mapstructure:"s3"`
}

type S3 struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	PathStyle bool   `mapstructure:"path_style"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Telemetry struct {
	Addr    string `mapstructure:"addr"`
	History int    `mapstructure:"history"`
}

// Mock holds the impairments of the simulated board used with --mock.
type Mock struct {
	Gain     float64       `mapstructure:"gain"`
	PhaseDeg float64       `mapstructure:"phase_deg"`
	Skew     int           `mapstructure:"skew"`
	Noise    float64       `mapstructure:"noise"`
	Seed     int64         `mapstructure:"seed"`
	ClockMHz float64       `mapstructure:"clock_mhz"`
	AccTime  time.Duration `mapstructure:"acc_period"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("board.ip", "192.168.1.12")
	v.SetDefault("board.boffile", "dss_2048ch_1520mhz.bof.gz")
	v.SetDefault("board.program", false)
	v.SetDefault("board.upload", false)
	v.SetDefault("board.ssh_user", "root")
	v.SetDefault("board.ssh_password", "")
	v.SetDefault("board.ssh_key", "")
	v.SetDefault("board.timeout", 5*time.Second)

	v.SetDefault("generator.ip", "192.168.1.31")
	v.SetDefault("generator.power", -10.0)
	v.SetDefault("generator.freq_mhz", 0.0)
	v.SetDefault("generator.multiplier", 1)
	v.SetDefault("lo.ip", "")
	v.SetDefault("lo.power", 0.0)
	v.SetDefault("lo.freq_mhz", 8000.0)
	v.SetDefault("lo.multiplier", 1)
	v.SetDefault("noise.ip", "")

	v.SetDefault("model.variant", "dss")
	v.SetDefault("model.adc_bits", 8)
	v.SetDefault("model.bandwidth_mhz", 1080.0)
	v.SetDefault("model.bram_addr_width", 8)
	v.SetDefault("model.bram_word_width", 64)
	v.SetDefault("model.pow_data_type", ">u8")
	v.SetDefault("model.cross_data_type", ">i8")
	v.SetDefault("model.const_data_type", ">i4")
	v.SetDefault("model.consts_nbits", 32)
	v.SetDefault("model.consts_binpt", 27)
	v.SetDefault("model.bram_a2", bram.BankNames("dout_a2_%d", 8))
	v.SetDefault("model.bram_b2", bram.BankNames("dout_b2_%d", 8))
	v.SetDefault("model.bram_ab_re", bram.BankNames("dout_ab_re%d", 8))
	v.SetDefault("model.bram_ab_im", bram.BankNames("dout_ab_im%d", 8))
	v.SetDefault("model.bram_out0", bram.BankNames("dout0_%d", 8))
	v.SetDefault("model.bram_out1", bram.BankNames("dout1_%d", 8))
	v.SetDefault("model.bram_consts0_re", bram.BankNames("bram_mult0_%d_bram_re", 8))
	v.SetDefault("model.bram_consts0_im", bram.BankNames("bram_mult0_%d_bram_im", 8))
	v.SetDefault("model.bram_consts1_re", bram.BankNames("bram_mult1_%d_bram_re", 8))
	v.SetDefault("model.bram_consts1_im", bram.BankNames("bram_mult1_%d_bram_im", 8))
	v.SetDefault("model.syn_acc_len_reg", "syn_acc_len")
	v.SetDefault("model.cal_acc_len_reg", "cal_acc_len")
	v.SetDefault("model.cnt_rst_reg", "cnt_rst")
	v.SetDefault("model.acc_cnt_reg", "acc_cnt")
	v.SetDefault("model.adc0_delay_reg", "adc0_delay")
	v.SetDefault("model.adc1_delay_reg", "adc1_delay")

	v.SetDefault("experiment.acc_len", 1<<16)
	v.SetDefault("experiment.chnl_start", 1)
	v.SetDefault("experiment.chnl_step", 8)
	v.SetDefault("experiment.sync_chnl_step", 64)
	v.SetDefault("experiment.pause", 500*time.Millisecond)
	v.SetDefault("experiment.settle_accumulations", 2)
	v.SetDefault("experiment.settle_timeout", 10*time.Second)
	v.SetDefault("experiment.max_iterations", 10)
	v.SetDefault("experiment.overflow", "saturate")
	v.SetDefault("experiment.ideal_const", "")
	v.SetDefault("experiment.noise_power", -10.0)
	v.SetDefault("experiment.save_raw", false)
	v.SetDefault("experiment.lo_freqs_mhz", []float64{})

	v.SetDefault("archive.dir", ".")
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.prefix", "")
	v.SetDefault("archive.s3.region", "")
	v.SetDefault("archive.s3.endpoint", "")
	v.SetDefault("archive.s3.access_key", "")
	v.SetDefault("archive.s3.secret_key", "")
	v.SetDefault("archive.s3.path_style", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("telemetry.addr", "")
	v.SetDefault("telemetry.history", 500)

	v.SetDefault("mock.gain", 1.1)
	v.SetDefault("mock.phase_deg", 5.0)
	v.SetDefault("mock.skew", 3)
	v.SetDefault("mock.noise", 0.5)
	v.SetDefault("mock.seed", 1)
	v.SetDefault("mock.clock_mhz", 135.0)
	v.SetDefault("mock.acc_period", time.Millisecond)
}

// Load reads path (or calan.{toml,yaml,json} from /etc/calan and the
// working directory when path is empty), applies CALAN_* environment
// overrides and validates the result. A missing default file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("calan")
		v.AddConfigPath("/etc/calan")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the model layout and experiment parameters.
func (c Config) Validate() error {
	m := c.Model
	if _, err := board.ParseMode(m.Variant); err != nil {
		return fmt.Errorf("model.variant: %w", err)
	}
	if m.AddrWidth <= 0 {
		return fmt.Errorf("model.bram_addr_width must be positive")
	}
	if m.BandwidthMHz <= 0 {
		return fmt.Errorf("model.bandwidth_mhz must be positive")
	}
	if m.ADCBits <= 0 {
		return fmt.Errorf("model.adc_bits must be positive")
	}
	for key, tag := range map[string]string{"pow_data_type": m.PowType, "cross_data_type": m.CrossType, "const_data_type": m.ConstType} {
		if _, err := bram.ParseDataType(tag); err != nil {
			return fmt.Errorf("model.%s: %w", key, err)
		}
	}
	if err := m.ConstFormat().Validate(); err != nil {
		return fmt.Errorf("model consts: %w", err)
	}
	k := len(m.A2)
	if k == 0 {
		return fmt.Errorf("model.bram_a2: no banks")
	}
	for key, names := range map[string][]string{
		"bram_b2": m.B2, "bram_ab_re": m.ABRe, "bram_ab_im": m.ABIm,
		"bram_out0": m.Out0, "bram_out1": m.Out1,
		"bram_consts0_re": m.Const0Re, "bram_consts0_im": m.Const0Im,
		"bram_consts1_re": m.Const1Re, "bram_consts1_im": m.Const1Im,
	} {
		if len(names) != k {
			return fmt.Errorf("model.%s: %d banks, bram_a2 has %d", key, len(names), k)
		}
	}
	e := c.Experiment
	if e.AccLen <= 0 {
		return fmt.Errorf("experiment.acc_len must be positive")
	}
	if e.ChnlStep <= 0 || e.SyncChnlStep <= 0 {
		return fmt.Errorf("experiment channel steps must be positive")
	}
	if e.ChnlStart < 0 || e.ChnlStart >= m.Channels() {
		return fmt.Errorf("experiment.chnl_start %d outside [0,%d)", e.ChnlStart, m.Channels())
	}
	if e.MaxIterations <= 0 {
		return fmt.Errorf("experiment.max_iterations must be positive")
	}
	if _, err := fixed.ParsePolicy(e.Overflow); err != nil {
		return fmt.Errorf("experiment.overflow: %w", err)
	}
	if e.IdealConst != "" {
		if _, err := e.Ideal(); err != nil {
			return err
		}
	}
	seen := map[float64]bool{}
	for _, f := range e.LOFreqsMHz {
		if f <= 0 {
			return fmt.Errorf("experiment.lo_freqs_mhz: %g is not a frequency", f)
		}
		if seen[f] {
			return fmt.Errorf("experiment.lo_freqs_mhz: %g listed twice", f)
		}
		seen[f] = true
	}
	if c.Telemetry.History <= 0 {
		return fmt.Errorf("telemetry.history must be positive")
	}
	return nil
}

// Mode returns the model variant.
func (m Model) Mode() board.Mode {
	mode, _ := board.ParseMode(m.Variant)
	return mode
}

// Channels is the spectrum length: banks × 2^addr_width.
func (m Model) Channels() int { return len(m.A2) << m.AddrWidth }

// Bandwidth in Hz.
func (m Model) Bandwidth() float64 { return m.BandwidthMHz * 1e6 }

func (m Model) layout(names []string, tag string) bram.Layout {
	return bram.Layout{Names: names, AddrWidth: m.AddrWidth, WordWidth: m.WordWidth, Type: bram.MustDataType(tag)}
}

// Layouts of the calibration and output memories.
func (m Model) A2Layout() bram.Layout   { return m.layout(m.A2, m.PowType) }
func (m Model) B2Layout() bram.Layout   { return m.layout(m.B2, m.PowType) }
func (m Model) ABReLayout() bram.Layout { return m.layout(m.ABRe, m.CrossType) }
func (m Model) ABImLayout() bram.Layout { return m.layout(m.ABIm, m.CrossType) }
func (m Model) Out0Layout() bram.Layout { return m.layout(m.Out0, m.PowType) }
func (m Model) Out1Layout() bram.Layout { return m.layout(m.Out1, m.PowType) }

func (m Model) ConstFormat() fixed.Format { return fixed.SignedFormat(m.ConstBits, m.ConstBinPt) }

func (m Model) ConstDataType() bram.DataType { return bram.MustDataType(m.ConstType) }

// MockModel converts the layout to a simulated design.
func (c Config) MockModel() board.MockModel {
	m := c.Model
	return board.MockModel{
		Mode:         m.Mode(),
		Bandwidth:    m.Bandwidth(),
		AddrWidth:    m.AddrWidth,
		ADCBits:      m.ADCBits,
		ClockHz:      c.Mock.ClockMHz * 1e6,
		AccPeriod:    c.Mock.AccTime,
		A2:           m.A2,
		B2:           m.B2,
		ABRe:         m.ABRe,
		ABIm:         m.ABIm,
		Out0:         m.Out0,
		Out1:         m.Out1,
		Const0Re:     m.Const0Re,
		Const0Im:     m.Const0Im,
		Const1Re:     m.Const1Re,
		Const1Im:     m.Const1Im,
		PowType:      bram.MustDataType(m.PowType),
		CrossType:    bram.MustDataType(m.CrossType),
		ConstType:    m.ConstDataType(),
		ConstFormat:  m.ConstFormat(),
		SynAccLen:    m.SynAccLen,
		CalAccLen:    m.CalAccLen,
		Counter:      m.AccCount,
		CounterReset: m.CntRst,
		ADC0Delay:    m.ADC0Delay,
		ADC1Delay:    m.ADC1Delay,
	}
}

// Impairments for the simulated board.
func (c Config) Impairments() board.MockImpairments {
	return board.MockImpairments{
		Gain:       c.Mock.Gain,
		PhaseDeg:   c.Mock.PhaseDeg,
		Skew:       c.Mock.Skew,
		NoiseLevel: c.Mock.Noise,
		Seed:       c.Mock.Seed,
	}
}

// Ideal parses IdealConst ("0+1j", "1", "-1j", ...).
func (e Experiment) Ideal() (complex128, error) {
	s := strings.TrimSpace(e.IdealConst)
	if s == "" {
		return 0, fmt.Errorf("experiment.ideal_const is empty")
	}
	c, err := strconv.ParseComplex(strings.ReplaceAll(s, "j", "i"), 128)
	if err != nil {
		return 0, fmt.Errorf("experiment.ideal_const %q: %w", e.IdealConst, err)
	}
	return c, nil
}

// IdealFor returns the configured ideal constant or the variant default:
// j for dss, 1 for bm.
func (c Config) IdealFor() complex128 {
	if v, err := c.Experiment.Ideal(); err == nil {
		return v
	}
	if c.Model.Mode() == board.ModeBalanced {
		return 1
	}
	return 1i
}
