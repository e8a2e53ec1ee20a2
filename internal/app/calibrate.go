package app

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"strconv"

	"github.com/FrancoCalan/simulink-models/internal/archive"
	"github.com/FrancoCalan/simulink-models/internal/board"
	"github.com/FrancoCalan/simulink-models/internal/bram"
	"github.com/FrancoCalan/simulink-models/internal/dsp"
	"github.com/FrancoCalan/simulink-models/internal/logging"
	"github.com/FrancoCalan/simulink-models/internal/sweep"
)

// CalData is the archive entry holding calibration arrays.
const CalData = "caldata"

// CrossPoint holds the auto and cross powers at one channel.
type CrossPoint struct {
	A2, B2 float64
	AB     complex128
	scale  func(float64) float64
}

func (p CrossPoint) Summary() map[string]float64 {
	out := map[string]float64{
		"a2":     p.A2,
		"b2":     p.B2,
		"ab_abs": cmplx.Abs(p.AB),
		"ab_deg": cmplx.Phase(p.AB) * 180 / math.Pi,
	}
	if p.scale != nil {
		out["a2_dbfs"] = p.scale(p.A2)
		out["b2_dbfs"] = p.scale(p.B2)
	}
	return out
}

// crossSpectra reads the full auto and cross power vectors.
type crossSpectra struct {
	a2, b2 []float64
	ab     []complex128
}

func (r *Runner) readCross(ctx context.Context) (crossSpectra, error) {
	m := r.cfg.Model
	a2, err := bram.ReadInterleaved(ctx, r.rig.Board, m.A2Layout())
	if err != nil {
		return crossSpectra{}, fmt.Errorf("read a2: %w", err)
	}
	b2, err := bram.ReadInterleaved(ctx, r.rig.Board, m.B2Layout())
	if err != nil {
		return crossSpectra{}, fmt.Errorf("read b2: %w", err)
	}
	ab, err := bram.ReadComplex(ctx, r.rig.Board, m.ABReLayout(), m.ABImLayout())
	if err != nil {
		return crossSpectra{}, fmt.Errorf("read ab: %w", err)
	}
	return crossSpectra{a2: a2, b2: b2, ab: ab}, nil
}

func (s crossSpectra) arrays() *archive.Arrays {
	a := archive.NewArrays()
	a.Set("a2", s.a2)
	a.Set("b2", s.b2)
	a.SetComplex("ab", s.ab)
	return a
}

// crossMeasure returns a measure function picking the powers at the driven
// channel. With raw set, the full spectra of every step go to the run.
func (r *Runner) crossMeasure(run *archive.Run, name string) sweep.MeasureFunc[CrossPoint] {
	return func(ctx context.Context, chnl int) (CrossPoint, error) {
		s, err := r.readCross(ctx)
		if err != nil {
			return CrossPoint{}, err
		}
		if chnl < 0 || chnl >= len(s.ab) {
			return CrossPoint{}, fmt.Errorf("channel %d outside spectrum of %d", chnl, len(s.ab))
		}
		if run != nil && r.cfg.Experiment.SaveRaw {
			if err := run.SaveRaw(name, chnl, s.arrays()); err != nil {
				return CrossPoint{}, err
			}
		}
		return CrossPoint{A2: s.a2[chnl], B2: s.b2[chnl], AB: s.ab[chnl], scale: r.dbfs}, nil
	}
}

// sidebandSweep drives the RF tone through the test channels of one
// sideband and returns the measurement at each.
func sidebandSweep[T any](ctx context.Context, r *Runner, name string, sb sweep.Sideband, chans []int, testIF []float64, measure sweep.MeasureFunc[T]) ([]T, error) {
	rf := sweep.RFFreqs(r.LOFreq(), testIF, sb)
	plan, err := sweep.NewPlan(name, chans, rf, r.settle())
	if err != nil {
		return nil, err
	}
	records, err := sweep.Run(ctx, r.session(), plan, measure)
	if err != nil {
		return nil, err
	}
	return sweep.Values(records), nil
}

// ToneCalResult is the outcome of a tone calibration.
type ToneCalResult struct {
	Kind     archive.Kind
	LOFreq   float64
	Channels []int
	Cal      dsp.ToneCal
	Archive  string
}

func (r *Runner) calKind() archive.Kind {
	if r.cfg.Model.Mode() == board.ModeBalanced {
		return archive.KindBMCalTone
	}
	return archive.KindDSSCal
}

// CalibrateTone sweeps a tone over the upper and then the lower sideband,
// densifies the powers measured at the test channels to every channel and
// archives them as caldata (a2_usb, b2_usb, ab_usb, a2_lsb, b2_lsb, ab_lsb).
func (r *Runner) CalibrateTone(ctx context.Context) (res ToneCalResult, err error) {
	run, err := r.newRun(r.calKind(), r.cfg.Experiment.ChnlStep)
	if err != nil {
		return res, err
	}
	if err := r.start(ctx, true); err != nil {
		return res, err
	}
	defer r.shutdown(ctx)

	if res, err = r.calibrateTone(ctx, run); err != nil {
		return res, err
	}
	res.Archive, err = r.finish(ctx, run)
	return res, err
}

// calibrateTone runs both sideband sweeps at the current LO and saves the
// densified powers to run.
func (r *Runner) calibrateTone(ctx context.Context, run *archive.Run) (res ToneCalResult, err error) {
	chans, testIF, allIF := r.channelPlan(r.cfg.Experiment.ChnlStep)
	if len(chans) == 0 {
		return res, fmt.Errorf("calibrate: no test channels")
	}
	caldata := archive.NewArrays()
	dense := map[sweep.Sideband]crossSpectra{}
	for _, sb := range []sweep.Sideband{sweep.USB, sweep.LSB} {
		name := "tone_" + sb.String()
		points, err := sidebandSweep(ctx, r, name, sb, chans, testIF, r.crossMeasure(run, name))
		if err != nil {
			return res, fmt.Errorf("calibrate %s: %w", sb, err)
		}
		d, err := densifyCross(testIF, allIF, points)
		if err != nil {
			return res, fmt.Errorf("calibrate %s: %w", sb, err)
		}
		dense[sb] = d
		caldata.Set("a2_"+sb.String(), d.a2)
		caldata.Set("b2_"+sb.String(), d.b2)
		caldata.SetComplex("ab_"+sb.String(), d.ab)
	}
	if err := run.Save(CalData, caldata); err != nil {
		return res, err
	}
	usb, lsb := dense[sweep.USB], dense[sweep.LSB]
	return ToneCalResult{
		Kind:     run.Kind,
		LOFreq:   r.LOFreq(),
		Channels: chans,
		Cal: dsp.ToneCal{
			A2USB: usb.a2, B2USB: usb.b2, ABUSB: usb.ab,
			A2LSB: lsb.a2, B2LSB: lsb.b2, ABLSB: lsb.ab,
		},
	}, nil
}

// MultiLOCalResult holds one tone calibration per LO setting, all packed
// into a single archive with a sub directory per LO.
type MultiLOCalResult struct {
	Kind    archive.Kind
	PerLO   []ToneCalResult
	Archive string
}

// CalibrateToneMultiLO repeats the tone calibration at every LO of
// LOFreqs. The caldata of each setting is stored under LOName(lo).
func (r *Runner) CalibrateToneMultiLO(ctx context.Context) (res MultiLOCalResult, err error) {
	kind := r.calKind()
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
		if err := r.tuneLO(ctx, lo); err != nil {
			return res, err
		}
		sub, err := run.Sub(LOName(lo))
		if err != nil {
			return res, err
		}
		cal, err := r.calibrateTone(ctx, sub)
		if err != nil {
			return res, fmt.Errorf("lo %s: %w", LOName(lo), err)
		}
		res.PerLO = append(res.PerLO, cal)
		r.logger.Info("lo calibrated", logging.F("lo_mhz", lo/1e6))
	}
	res.Archive, err = r.finish(ctx, run)
	return res, err
}

// LOName names the sub run of one LO setting, e.g. "lo_8000mhz".
func LOName(hz float64) string {
	return "lo_" + strconv.FormatFloat(hz/1e6, 'f', -1, 64) + "mhz"
}

func densifyCross(testIF, allIF []float64, points []CrossPoint) (crossSpectra, error) {
	a2 := make([]float64, len(points))
	b2 := make([]float64, len(points))
	ab := make([]complex128, len(points))
	for i, p := range points {
		a2[i], b2[i], ab[i] = p.A2, p.B2, p.AB
	}
	var (
		out crossSpectra
		err error
	)
	if out.a2, err = sweep.Densify(testIF, allIF, a2); err != nil {
		return out, err
	}
	if out.b2, err = sweep.Densify(testIF, allIF, b2); err != nil {
		return out, err
	}
	if out.ab, err = sweep.DensifyComplex(testIF, allIF, ab); err != nil {
		return out, err
	}
	return out, nil
}

// NoiseCalResult is the outcome of a wide-band noise calibration.
type NoiseCalResult struct {
	A2, B2  []float64
	AB      []complex128
	Archive string
}

// CalibrateNoise captures the powers of a correlated wide-band source in a
// single read. Only balanced designs are calibrated with noise.
func (r *Runner) CalibrateNoise(ctx context.Context) (res NoiseCalResult, err error) {
	if r.cfg.Model.Mode() != board.ModeBalanced {
		return res, fmt.Errorf("noise calibration needs a balanced design, have %s", r.cfg.Model.Mode())
	}
	run, err := r.newRun(archive.KindBMCalNoise, 0)
	if err != nil {
		return res, err
	}
	if err := r.start(ctx, false); err != nil {
		return res, err
	}
	defer r.shutdown(ctx)
	if err := r.setNoise(ctx, true); err != nil {
		return res, err
	}
	if err := r.waitSettled(ctx); err != nil {
		return res, fmt.Errorf("noise calibration: %w", err)
	}
	s, err := r.readCross(ctx)
	if err != nil {
		return res, fmt.Errorf("noise calibration: %w", err)
	}
	if err := run.Save(CalData, s.arrays()); err != nil {
		return res, err
	}
	res = NoiseCalResult{A2: s.a2, B2: s.b2, AB: s.ab}
	res.Archive, err = r.finish(ctx, run)
	return res, err
}
