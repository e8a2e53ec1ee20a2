package app

import (
	"context"
	"fmt"
	"math"
	"path"

	"github.com/FrancoCalan/simulink-models/internal/archive"
	"github.com/FrancoCalan/simulink-models/internal/board"
	"github.com/FrancoCalan/simulink-models/internal/bram"
	"github.com/FrancoCalan/simulink-models/internal/dsp"
	"github.com/FrancoCalan/simulink-models/internal/logging"
	"github.com/FrancoCalan/simulink-models/internal/sweep"
)

// OutputPoint holds both synthesized output powers at one channel.
type OutputPoint struct {
	Out0, Out1 float64
}

func (p OutputPoint) Summary() map[string]float64 {
	out := map[string]float64{"out0": p.Out0, "out1": p.Out1}
	// an empty output has no finite ratio and JSON has no infinity
	if r := 10 * math.Log10(p.Out0/p.Out1); !math.IsInf(r, 0) && !math.IsNaN(r) {
		out["ratio_db"] = r
	}
	return out
}

func (r *Runner) readOutputs(ctx context.Context) (out0, out1 []float64, err error) {
	out0, err = bram.ReadInterleaved(ctx, r.rig.Board, r.cfg.Model.Out0Layout())
	if err != nil {
		return nil, nil, fmt.Errorf("read out0: %w", err)
	}
	out1, err = bram.ReadInterleaved(ctx, r.rig.Board, r.cfg.Model.Out1Layout())
	if err != nil {
		return nil, nil, fmt.Errorf("read out1: %w", err)
	}
	return out0, out1, nil
}

func (r *Runner) outputMeasure(run *archive.Run, name string) sweep.MeasureFunc[OutputPoint] {
	return func(ctx context.Context, chnl int) (OutputPoint, error) {
		out0, out1, err := r.readOutputs(ctx)
		if err != nil {
			return OutputPoint{}, err
		}
		if chnl < 0 || chnl >= len(out0) || chnl >= len(out1) {
			return OutputPoint{}, fmt.Errorf("channel %d outside spectrum of %d", chnl, len(out0))
		}
		if run != nil && r.cfg.Experiment.SaveRaw {
			raw := archive.NewArrays()
			raw.Set("out0", out0)
			raw.Set("out1", out1)
			if err := run.SaveRaw(name, chnl, raw); err != nil {
				return OutputPoint{}, err
			}
		}
		return OutputPoint{Out0: out0[chnl], Out1: out1[chnl]}, nil
	}
}

// RejectionResult holds the rejection ratio in dB at each test channel for
// a tone in each sideband. For a sideband-separating design this is the
// sideband rejection ratio: USB output over LSB output for an upper
// sideband tone and the reverse for a lower sideband tone. For a balanced
// design it is the LO noise rejection, LO output over RF output.
type RejectionResult struct {
	Kind     archive.Kind
	LOFreq   float64
	Channels []int
	IFFreqs  []float64
	USB, LSB []float64
	Archive  string
}

func (r *Runner) rejectionKind() (archive.Kind, string) {
	if r.cfg.Model.Mode() == board.ModeBalanced {
		return archive.KindBMLNR, "lnrdata"
	}
	return archive.KindDSSSRR, "srrdata"
}

// MeasureRejection sweeps a tone over both sidebands with the loaded
// constants and computes the rejection ratio at each test channel.
func (r *Runner) MeasureRejection(ctx context.Context) (res RejectionResult, err error) {
	kind, _ := r.rejectionKind()
	run, err := r.newRun(kind, r.cfg.Experiment.ChnlStep)
	if err != nil {
		return res, err
	}
	if err := r.start(ctx, true); err != nil {
		return res, err
	}
	defer r.shutdown(ctx)

	if res, err = r.measureRejection(ctx, run); err != nil {
		return res, err
	}
	res.Archive, err = r.finish(ctx, run)
	return res, err
}

func (r *Runner) measureRejection(ctx context.Context, run *archive.Run) (res RejectionResult, err error) {
	_, entry := r.rejectionKind()
	chans, testIF, _ := r.channelPlan(r.cfg.Experiment.ChnlStep)
	if len(chans) == 0 {
		return res, fmt.Errorf("rejection: no test channels")
	}
	res = RejectionResult{Kind: run.Kind, LOFreq: r.LOFreq(), Channels: chans, IFFreqs: testIF}
	data := archive.NewArrays()
	data.Set("if_freqs", testIF)
	for _, sb := range []sweep.Sideband{sweep.USB, sweep.LSB} {
		name := "out_" + sb.String()
		points, err := sidebandSweep(ctx, r, name, sb, chans, testIF, r.outputMeasure(run, name))
		if err != nil {
			return res, fmt.Errorf("rejection %s: %w", sb, err)
		}
		out0 := make([]float64, len(points))
		out1 := make([]float64, len(points))
		for i, p := range points {
			out0[i], out1[i] = p.Out0, p.Out1
		}
		wanted, unwanted := out0, out1
		if r.cfg.Model.Mode() == board.ModeBalanced || sb == sweep.LSB {
			wanted, unwanted = out1, out0
		}
		ratio := dsp.RejectionRatioDB(wanted, unwanted)
		if sb == sweep.USB {
			res.USB = ratio
		} else {
			res.LSB = ratio
		}
		data.Set("out0_"+sb.String(), out0)
		data.Set("out1_"+sb.String(), out1)
		data.Set("ratio_"+sb.String(), ratio)
		r.logger.Info("rejection measured", logging.F("sideband", sb.String()), logging.F("min_db", minFinite(ratio)))
	}
	if err := run.Save(entry, data); err != nil {
		return res, err
	}
	return res, nil
}

// MultiLORejectionResult holds one rejection measurement per LO setting.
type MultiLORejectionResult struct {
	Kind    archive.Kind
	PerLO   []RejectionResult
	Archive string
}

// MeasureRejectionMultiLO repeats the rejection sweep at every LO of
// LOFreqs. With calSource set, the constants of each LO are computed from
// the matching sub run of a multi-LO calibration before its sweep;
// otherwise the constants already on the board are used throughout.
func (r *Runner) MeasureRejectionMultiLO(ctx context.Context, calSource string) (res MultiLORejectionResult, err error) {
	kind, _ := r.rejectionKind()
	run, err := r.newRun(kind, r.cfg.Experiment.ChnlStep)
	if err != nil {
		return res, err
	}
	if err := r.start(ctx, true); err != nil {
		return res, err
	}
	defer r.shutdown(ctx)

	res.Kind = kind
	for _, lo := range r.LOFreqs() {
		name := LOName(lo)
		if calSource != "" {
			if _, err := r.loadCalibration(ctx, calSource, path.Join(name, CalData)); err != nil {
				return res, err
			}
		}
		if err := r.tuneLO(ctx, lo); err != nil {
			return res, err
		}
		sub, err := run.Sub(name)
		if err != nil {
			return res, err
		}
		m, err := r.measureRejection(ctx, sub)
		if err != nil {
			return res, fmt.Errorf("lo %s: %w", name, err)
		}
		res.PerLO = append(res.PerLO, m)
	}
	res.Archive, err = r.finish(ctx, run)
	return res, err
}

// NoiseRejectionResult is a hot/cold LO noise rejection measurement over
// the whole band.
type NoiseRejectionResult struct {
	IFFreqs        []float64
	RFCold, LOCold []float64
	RFHot, LOHot   []float64
	LNR            []float64
	Archive        string
}

// MeasureNoiseRejection reads both outputs of a calibrated balanced design
// with the correlated noise source off (cold) and then on (hot). The LO
// noise rejection at each channel is the noise the source adds to the LO
// output over what it adds to the RF output.
func (r *Runner) MeasureNoiseRejection(ctx context.Context) (res NoiseRejectionResult, err error) {
	if r.cfg.Model.Mode() != board.ModeBalanced {
		return res, fmt.Errorf("noise rejection needs a balanced design, have %s", r.cfg.Model.Mode())
	}
	run, err := r.newRun(archive.KindBMLNRNoise, 0)
	if err != nil {
		return res, err
	}
	if err := r.start(ctx, false); err != nil {
		return res, err
	}
	defer r.shutdown(ctx)

	_, _, res.IFFreqs = r.channelPlan(r.cfg.Experiment.ChnlStep)
	for _, hot := range []bool{false, true} {
		if err := r.setNoise(ctx, hot); err != nil {
			return res, err
		}
		if err := r.waitSettled(ctx); err != nil {
			return res, fmt.Errorf("noise rejection: %w", err)
		}
		rf, lo, err := r.readOutputs(ctx)
		if err != nil {
			return res, fmt.Errorf("noise rejection: %w", err)
		}
		if hot {
			res.RFHot, res.LOHot = rf, lo
		} else {
			res.RFCold, res.LOCold = rf, lo
		}
	}
	res.LNR = dsp.HotColdRatioDB(res.LOHot, res.LOCold, res.RFHot, res.RFCold)
	r.logger.Info("noise rejection measured", logging.F("min_db", minFinite(res.LNR)))

	data := archive.NewArrays()
	data.Set("if_freqs", res.IFFreqs)
	data.Set("rf_cold", res.RFCold)
	data.Set("lo_cold", res.LOCold)
	data.Set("rf_hot", res.RFHot)
	data.Set("lo_hot", res.LOHot)
	data.Set("lnr", res.LNR)
	if err := run.Save("lnrdata", data); err != nil {
		return res, err
	}
	res.Archive, err = r.finish(ctx, run)
	return res, err
}

func minFinite(v []float64) float64 {
	m := math.Inf(1)
	for _, x := range v {
		if !math.IsNaN(x) && x < m {
			m = x
		}
	}
	return m
}
