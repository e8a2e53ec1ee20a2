package app

import (
	"context"
	"fmt"

	"github.com/FrancoCalan/simulink-models/internal/archive"
	"github.com/FrancoCalan/simulink-models/internal/board"
	"github.com/FrancoCalan/simulink-models/internal/bram"
	"github.com/FrancoCalan/simulink-models/internal/dsp"
	"github.com/FrancoCalan/simulink-models/internal/fixed"
	"github.com/FrancoCalan/simulink-models/internal/logging"
)

// Constants are the two multiplier vectors loaded into the design. For a
// sideband-separating design Mult0 feeds the USB output and Mult1 the LSB
// output. For a balanced design Mult0 feeds the RF output and Mult1 the LO
// output.
type Constants struct {
	Mult0, Mult1 []complex128
}

func toneCal(a *archive.Arrays) (dsp.ToneCal, error) {
	var (
		cal dsp.ToneCal
		err error
	)
	reals := []struct {
		key string
		dst *[]float64
	}{
		{"a2_usb", &cal.A2USB}, {"b2_usb", &cal.B2USB},
		{"a2_lsb", &cal.A2LSB}, {"b2_lsb", &cal.B2LSB},
	}
	for _, r := range reals {
		if *r.dst, err = a.Real(r.key); err != nil {
			return cal, err
		}
	}
	if cal.ABUSB, err = a.Complex("ab_usb"); err != nil {
		return cal, err
	}
	if cal.ABLSB, err = a.Complex("ab_lsb"); err != nil {
		return cal, err
	}
	return cal, nil
}

// ComputeConstants derives the multiplier constants from archived
// calibration arrays. The archive kind must match the design mode.
func ComputeConstants(a *archive.Arrays, kind archive.Kind, mode board.Mode) (Constants, error) {
	want := board.ModeBalanced
	if kind == archive.KindDSSCal {
		want = board.ModeSideband
	}
	switch kind {
	case archive.KindDSSCal, archive.KindBMCalTone, archive.KindBMCalNoise:
	default:
		return Constants{}, fmt.Errorf("%q is not a calibration: %w", kind, archive.ErrUnknownKind)
	}
	if want != mode {
		return Constants{}, fmt.Errorf("%s calibration cannot be loaded into a %s design", kind, mode)
	}

	switch kind {
	case archive.KindDSSCal:
		cal, err := toneCal(a)
		if err != nil {
			return Constants{}, err
		}
		usb, lsb, err := dsp.DSSConstants(cal)
		if err != nil {
			return Constants{}, err
		}
		return Constants{Mult0: usb, Mult1: lsb}, nil
	case archive.KindBMCalTone:
		cal, err := toneCal(a)
		if err != nil {
			return Constants{}, err
		}
		c, err := dsp.BalanceToneConstants(cal)
		if err != nil {
			return Constants{}, err
		}
		return Constants{Mult0: c, Mult1: dsp.Negate(c)}, nil
	default:
		b2, err := a.Real("b2")
		if err != nil {
			return Constants{}, err
		}
		ab, err := a.Complex("ab")
		if err != nil {
			return Constants{}, err
		}
		c, err := dsp.BalanceNoiseConstants(b2, ab)
		if err != nil {
			return Constants{}, err
		}
		return Constants{Mult0: c, Mult1: dsp.Negate(c)}, nil
	}
}

// IdealConstants returns the constants of an ideal front end: v on both
// multipliers for a sideband-separating design, v and −v for a balanced one.
func IdealConstants(mode board.Mode, n int, v complex128) Constants {
	c := dsp.IdealConstants(n, v)
	if mode == board.ModeBalanced {
		return Constants{Mult0: c, Mult1: dsp.Negate(c)}
	}
	return Constants{Mult0: c, Mult1: dsp.IdealConstants(n, v)}
}

// LoadCalibration reads caldata from a run directory or tarball, computes
// the constants and writes them to the board.
func (r *Runner) LoadCalibration(ctx context.Context, source string) (Constants, error) {
	return r.loadCalibration(ctx, source, CalData)
}

// loadCalibration is LoadCalibration for an entry that may sit in a sub
// run, such as "lo_8000mhz/caldata".
func (r *Runner) loadCalibration(ctx context.Context, source, entry string) (Constants, error) {
	a, kind, err := archive.Load(source, entry)
	if err != nil {
		return Constants{}, fmt.Errorf("load calibration %s: %w", source, err)
	}
	c, err := ComputeConstants(a, kind, r.cfg.Model.Mode())
	if err != nil {
		return Constants{}, fmt.Errorf("load calibration %s: %w", source, err)
	}
	r.logger.Info("constants computed", logging.F("source", source), logging.F("entry", entry), logging.F("kind", string(kind)))
	return c, r.WriteConstants(ctx, c)
}

// LoadIdeal writes the ideal constants for the configured design.
func (r *Runner) LoadIdeal(ctx context.Context) (Constants, error) {
	v := r.cfg.IdealFor()
	c := IdealConstants(r.cfg.Model.Mode(), r.cfg.Model.Channels(), v)
	r.logger.Info("loading ideal constants", logging.F("value", fmt.Sprint(v)))
	return c, r.WriteConstants(ctx, c)
}

// WriteConstants encodes both vectors in the configured fixed-point format
// and writes them to the multiplier memories.
func (r *Runner) WriteConstants(ctx context.Context, c Constants) error {
	m := r.cfg.Model
	n := m.Channels()
	if len(c.Mult0) != n || len(c.Mult1) != n {
		return fmt.Errorf("write constants: have %d and %d values for %d channels", len(c.Mult0), len(c.Mult1), n)
	}
	policy, err := fixed.ParsePolicy(r.cfg.Experiment.Overflow)
	if err != nil {
		return err
	}
	banks := []struct {
		name   string
		values []complex128
		re, im []string
	}{
		{"mult0", c.Mult0, m.Const0Re, m.Const0Im},
		{"mult1", c.Mult1, m.Const1Re, m.Const1Im},
	}
	for _, b := range banks {
		if bad := dsp.InvalidChannels(b.values); len(bad) > 0 {
			r.logger.Warn("constants contain NaN or Inf", logging.F("bank", b.name), logging.F("channels", len(bad)), logging.F("first", bad[0]))
		}
		re, im, rep, err := fixed.EncodeComplex(b.values, m.ConstFormat(), policy)
		if err != nil {
			return fmt.Errorf("encode %s: %w", b.name, err)
		}
		if rep.Overflowed() {
			r.logger.Warn("constants overflowed fixed-point range",
				logging.F("bank", b.name), logging.F("format", m.ConstFormat().String()),
				logging.F("policy", policy.String()), logging.F("channels", len(rep.Overflows)))
		}
		if err := bram.WriteInterleaved(ctx, r.rig.Board, b.re, re, m.ConstDataType()); err != nil {
			return fmt.Errorf("write %s real: %w", b.name, err)
		}
		if err := bram.WriteInterleaved(ctx, r.rig.Board, b.im, im, m.ConstDataType()); err != nil {
			return fmt.Errorf("write %s imaginary: %w", b.name, err)
		}
	}
	r.logger.Info("constants loaded", logging.F("channels", n))
	return nil
}
