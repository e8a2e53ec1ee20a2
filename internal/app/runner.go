// Package app runs the calibration experiments: tone and noise
// calibration, constant loading, ADC synchronization and rejection sweeps.
// Each run prepares the board, drives the instruments through a sweep and
// archives what it measured.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/FrancoCalan/simulink-models/internal/archive"
	"github.com/FrancoCalan/simulink-models/internal/board"
	"github.com/FrancoCalan/simulink-models/internal/config"
	"github.com/FrancoCalan/simulink-models/internal/dsp"
	"github.com/FrancoCalan/simulink-models/internal/instrument"
	"github.com/FrancoCalan/simulink-models/internal/logging"
	"github.com/FrancoCalan/simulink-models/internal/sweep"
	"github.com/FrancoCalan/simulink-models/internal/telemetry"
)

// clockInterval is how long the clock counter is sampled after programming.
var clockInterval = time.Second

// Uploader copies a local file somewhere and returns its remote name.
type Uploader interface {
	Upload(ctx context.Context, file string) (string, error)
}

// Rig is the hardware a run talks to. LO, Noise, BofUploader and
// Publisher are optional.
type Rig struct {
	Board       board.Board
	RF          instrument.Generator
	LO          instrument.Generator
	Noise       instrument.Generator
	BofUploader Uploader
	Publisher   Uploader
	Logger      logging.Logger
	Reporter    telemetry.Reporter
}

// Runner executes experiments described by a config on a rig.
type Runner struct {
	cfg    config.Config
	rig    Rig
	logger logging.Logger
	now    func() time.Time
	lo     float64
}

// loTuner is implemented by simulated boards that need to know the LO.
type loTuner interface {
	SetLO(hz float64)
}

// noiseSource is implemented by boards with a switchable correlated noise input.
type noiseSource interface {
	SetNoise(on bool, powerDBm float64)
}

type multiplier interface {
	SetMultiplier(ctx context.Context, n int) error
}

func NewRunner(cfg config.Config, rig Rig) (*Runner, error) {
	if rig.Board == nil {
		return nil, fmt.Errorf("runner: no board")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := rig.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if rig.Reporter == nil {
		rig.Reporter = telemetry.Discard{}
	}
	return &Runner{
		cfg:    cfg,
		rig:    rig,
		logger: logger.With(logging.F("subsystem", "app"), logging.F("variant", cfg.Model.Mode().String())),
		now:    time.Now,
		lo:     cfg.LO.FreqMHz * 1e6,
	}, nil
}

// Config returns the experiment configuration the runner was built with.
func (r *Runner) Config() config.Config { return r.cfg }

// Program uploads the configured boffile when requested and programs the FPGA.
func (r *Runner) Program(ctx context.Context) error {
	bof := r.cfg.Board.Boffile
	if bof == "" {
		return fmt.Errorf("program: no boffile configured")
	}
	if r.cfg.Board.Upload {
		if r.rig.BofUploader == nil {
			return fmt.Errorf("program: upload requested but no uploader")
		}
		remote, err := r.rig.BofUploader.Upload(ctx, bof)
		if err != nil {
			return fmt.Errorf("upload %s: %w", bof, err)
		}
		bof = remote
	}
	r.logger.Info("programming fpga", logging.F("boffile", bof))
	if err := r.rig.Board.Program(ctx, bof); err != nil {
		return fmt.Errorf("program %s: %w", bof, err)
	}
	mhz, err := board.EstimateClock(ctx, r.rig.Board, clockInterval)
	if err != nil {
		r.logger.Warn("could not estimate fpga clock", logging.F("error", err.Error()))
		return nil
	}
	r.logger.Info("fpga programmed", logging.F("clock_mhz", mhz))
	return nil
}

// Prepare writes the accumulation lengths and resets the accumulation counter.
func (r *Runner) Prepare(ctx context.Context) error {
	m := r.cfg.Model
	acc := int64(r.cfg.Experiment.AccLen)
	for _, reg := range []string{m.CalAccLen, m.SynAccLen} {
		if reg == "" {
			continue
		}
		if err := r.rig.Board.WriteInt(ctx, reg, acc); err != nil {
			return fmt.Errorf("prepare: set %s: %w", reg, err)
		}
	}
	if m.CntRst != "" {
		if err := board.PulseRegister(ctx, r.rig.Board, m.CntRst); err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
	}
	r.logger.Debug("board prepared", logging.F("acc_len", acc))
	return nil
}

// LOFreq is the local oscillator frequency in Hz.
func (r *Runner) LOFreq() float64 { return r.lo }

// LOFreqs lists the LO settings of a multi-LO run in Hz:
// experiment.lo_freqs_mhz, or lo.freq_mhz alone.
func (r *Runner) LOFreqs() []float64 {
	mhz := r.cfg.Experiment.LOFreqsMHz
	if len(mhz) == 0 {
		return []float64{r.cfg.LO.FreqMHz * 1e6}
	}
	out := make([]float64, len(mhz))
	for i, f := range mhz {
		out[i] = f * 1e6
	}
	return out
}

// tuneLO moves the LO generator, and the simulated board's LO, to hz.
func (r *Runner) tuneLO(ctx context.Context, hz float64) error {
	if t, ok := r.rig.Board.(loTuner); ok {
		t.SetLO(hz)
	}
	if g := r.rig.LO; g != nil {
		if err := g.SetFrequency(ctx, hz); err != nil {
			return fmt.Errorf("lo generator: %w", err)
		}
	}
	r.lo = hz
	return nil
}

// setNoise switches the correlated noise source on or off.
func (r *Runner) setNoise(ctx context.Context, on bool) error {
	level := r.cfg.Experiment.NoisePower
	if n, ok := r.rig.Board.(noiseSource); ok {
		n.SetNoise(on, level)
	}
	g := r.rig.Noise
	if g == nil {
		return nil
	}
	if on {
		if err := g.SetPower(ctx, level); err != nil {
			return fmt.Errorf("noise source: %w", err)
		}
	}
	if err := g.SetOutput(ctx, on); err != nil {
		return fmt.Errorf("noise source: %w", err)
	}
	return nil
}

// waitSettled blocks until the accumulators hold data taken after the last
// change of stimulus.
func (r *Runner) waitSettled(ctx context.Context) error {
	fellBack, err := r.settle().Wait(ctx, r.rig.Board)
	if err != nil {
		return fmt.Errorf("settle: %w", err)
	}
	if fellBack {
		r.logger.Warn("readiness register unavailable, using fixed delay", logging.F("register", r.cfg.Model.AccCount))
	}
	return nil
}

// start prepares the board and switches the sources on. rf selects whether
// the swept generator is enabled.
func (r *Runner) start(ctx context.Context, rf bool) error {
	if err := r.Prepare(ctx); err != nil {
		return err
	}
	g := r.rig.LO
	if g != nil {
		if err := setupGenerator(ctx, g, r.cfg.LO); err != nil {
			return fmt.Errorf("lo generator: %w", err)
		}
	}
	if err := r.tuneLO(ctx, r.lo); err != nil {
		return err
	}
	if g != nil {
		if err := g.SetOutput(ctx, true); err != nil {
			return fmt.Errorf("lo generator: %w", err)
		}
	}
	if !rf {
		return nil
	}
	if r.rig.RF == nil {
		return fmt.Errorf("no rf generator")
	}
	if err := setupGenerator(ctx, r.rig.RF, r.cfg.Generator); err != nil {
		return fmt.Errorf("rf generator: %w", err)
	}
	if err := r.rig.RF.SetOutput(ctx, true); err != nil {
		return fmt.Errorf("rf generator: %w", err)
	}
	return nil
}

func setupGenerator(ctx context.Context, g instrument.Generator, cfg config.Generator) error {
	if err := g.SetPower(ctx, cfg.PowerDBm); err != nil {
		return err
	}
	if m, ok := g.(multiplier); ok && cfg.Multiplier > 1 {
		return m.SetMultiplier(ctx, cfg.Multiplier)
	}
	return nil
}

// shutdown turns every source off, even when ctx is already cancelled, and
// returns the LO to lo.freq_mhz for the next run.
func (r *Runner) shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	r.lo = r.cfg.LO.FreqMHz * 1e6
	if n, ok := r.rig.Board.(noiseSource); ok {
		n.SetNoise(false, 0)
	}
	if err := instrument.TurnOff(ctx, r.logger, r.rig.RF, r.rig.LO, r.rig.Noise); err != nil {
		r.logger.Warn("instrument shutdown incomplete", logging.F("error", err.Error()))
	}
}

func (r *Runner) session() sweep.Session {
	return sweep.Session{
		Registers: r.rig.Board,
		Stimulus:  r.rig.RF,
		Logger:    r.logger,
		Reporter:  r.rig.Reporter,
	}
}

func (r *Runner) settle() sweep.SettlePolicy {
	e := r.cfg.Experiment
	return sweep.SettlePolicy{
		Delay:         e.Pause,
		Register:      r.cfg.Model.AccCount,
		Accumulations: e.Accumulations,
		Timeout:       e.SettleTimeout,
	}
}

// channelPlan returns the test channels from chnl_start with the given step
// and their IF frequencies, plus the IF frequency of every channel.
func (r *Runner) channelPlan(step int) (chans []int, testIF, allIF []float64) {
	n := r.cfg.Model.Channels()
	chans = sweep.TestChannels(r.cfg.Experiment.ChnlStart, n, step)
	allIF = sweep.IFFreqs(r.cfg.Model.Bandwidth(), n)
	return chans, sweep.Pick(allIF, chans), allIF
}

func (r *Runner) fullScale() float64 {
	return dsp.FullScaleDB(r.cfg.Model.ADCBits, r.cfg.Model.Channels())
}

func (r *Runner) dbfs(p float64) float64 {
	return dsp.ScaleDBFS([]float64{p}, float64(r.cfg.Experiment.AccLen), r.fullScale())[0]
}

type runInfo struct {
	Variant     string    `json:"variant"`
	Boffile     string    `json:"boffile"`
	BandwidthHz float64   `json:"bandwidth_hz"`
	Channels    int       `json:"channels"`
	LOFreqHz    float64   `json:"lo_freq_hz"`
	LOFreqsHz   []float64 `json:"lo_freqs_hz"`
	RFPowerDBm  float64   `json:"rf_power_dbm"`
	AccLen      int       `json:"acc_len"`
	ChnlStart   int       `json:"chnl_start"`
	ChnlStep    int       `json:"chnl_step"`
	Started     string    `json:"started"`
}

// newRun creates the archive directory for kind and records the setup.
func (r *Runner) newRun(kind archive.Kind, step int) (*archive.Run, error) {
	at := r.now()
	run, err := archive.NewRun(r.cfg.Archive.Dir, kind, at)
	if err != nil {
		return nil, err
	}
	info := runInfo{
		Variant:     r.cfg.Model.Mode().String(),
		Boffile:     r.cfg.Board.Boffile,
		BandwidthHz: r.cfg.Model.Bandwidth(),
		Channels:    r.cfg.Model.Channels(),
		LOFreqHz:    r.LOFreq(),
		LOFreqsHz:   r.LOFreqs(),
		RFPowerDBm:  r.cfg.Generator.PowerDBm,
		AccLen:      r.cfg.Experiment.AccLen,
		ChnlStart:   r.cfg.Experiment.ChnlStart,
		ChnlStep:    step,
		Started:     at.Format(time.RFC3339),
	}
	if err := run.WriteInfo(info); err != nil {
		return nil, err
	}
	return run, nil
}

// finish packs the run and publishes the tarball when a publisher is set.
func (r *Runner) finish(ctx context.Context, run *archive.Run) (string, error) {
	packed, err := run.Pack()
	if err != nil {
		return "", err
	}
	r.logger.Info("run archived", logging.F("kind", string(run.Kind)), logging.F("file", packed))
	if r.rig.Publisher != nil {
		if _, err := r.rig.Publisher.Upload(ctx, packed); err != nil {
			return packed, err
		}
	}
	return packed, nil
}
