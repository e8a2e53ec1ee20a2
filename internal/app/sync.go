package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/FrancoCalan/simulink-models/internal/archive"
	"github.com/FrancoCalan/simulink-models/internal/dsp"
	"github.com/FrancoCalan/simulink-models/internal/logging"
	"github.com/FrancoCalan/simulink-models/internal/sweep"
	"github.com/FrancoCalan/simulink-models/internal/telemetry"
)

// ErrNotConverged is returned when the ADCs still disagree after the
// configured number of iterations.
var ErrNotConverged = errors.New("adc synchronization did not converge")

// SyncState is the phase of the synchronization loop.
type SyncState int

const (
	SyncMeasuring SyncState = iota
	SyncCorrecting
	SyncConverged
	SyncDiverged
)

func (s SyncState) String() string {
	switch s {
	case SyncMeasuring:
		return "measuring"
	case SyncCorrecting:
		return "correcting"
	case SyncConverged:
		return "converged"
	case SyncDiverged:
		return "diverged"
	default:
		return "unknown"
	}
}

// SyncStep records one pass of the loop. ADC0Delay and ADC1Delay are the
// register values after any correction.
type SyncStep struct {
	Iteration int
	Delay     int
	Fit       dsp.Fit
	ADC0Delay int64
	ADC1Delay int64
	State     SyncState
}

// Synchronizer aligns the two ADCs by sweeping a tone over the upper
// sideband, fitting the phase slope of b/a and delaying whichever input
// is ahead until the fitted delay is zero.
type Synchronizer struct {
	r       *Runner
	maxIter int
	state   SyncState
	history []SyncStep
}

func (r *Runner) NewSynchronizer() *Synchronizer {
	return &Synchronizer{r: r, maxIter: r.cfg.Experiment.MaxIterations, state: SyncMeasuring}
}

func (s *Synchronizer) State() SyncState { return s.state }

// History returns the iterations run so far.
func (s *Synchronizer) History() []SyncStep {
	return append([]SyncStep(nil), s.history...)
}

// ratioMeasure reads the auto and cross powers and returns b/a at chnl.
func (r *Runner) ratioMeasure() sweep.MeasureFunc[complex128] {
	cross := r.crossMeasure(nil, "")
	return func(ctx context.Context, chnl int) (complex128, error) {
		p, err := cross(ctx, chnl)
		if err != nil {
			return 0, err
		}
		return dsp.ConjRatio([]complex128{p.AB}, []float64{p.A2})[0], nil
	}
}

// Run executes the loop. It returns ErrNotConverged when the iteration limit
// is reached with a non-zero delay.
func (s *Synchronizer) Run(ctx context.Context) ([]SyncStep, error) {
	r := s.r
	log := r.logger.With(logging.F("subsystem", "sync"))
	chans, testIF, _ := r.channelPlan(r.cfg.Experiment.SyncChnlStep)
	if len(chans) < 2 {
		return nil, fmt.Errorf("sync: need at least two channels, have %d", len(chans))
	}
	run, err := r.newRun(archive.KindADCSync, r.cfg.Experiment.SyncChnlStep)
	if err != nil {
		return nil, err
	}
	if err := r.start(ctx, true); err != nil {
		return nil, err
	}
	defer r.shutdown(ctx)

	data := archive.NewArrays()
	data.Set("if_freqs", testIF)
	m := r.cfg.Model
	for it := 1; it <= s.maxIter; it++ {
		s.state = SyncMeasuring
		ratios, err := sidebandSweep(ctx, r, "sync_"+strconv.Itoa(it), sweep.USB, chans, testIF, r.ratioMeasure())
		if err != nil {
			return s.History(), fmt.Errorf("sync iteration %d: %w", it, err)
		}
		data.SetComplex("ratio_"+strconv.Itoa(it), ratios)
		data.Set("mag_db_"+strconv.Itoa(it), dsp.MagnitudeDB(ratios))
		data.Set("angle_deg_"+strconv.Itoa(it), dsp.AngleDeg(ratios))
		delay, fit, err := dsp.EstimateDelay(testIF, ratios, m.Bandwidth())
		if err != nil {
			return s.History(), fmt.Errorf("sync iteration %d: %w", it, err)
		}

		if delay != 0 {
			s.state = SyncCorrecting
			reg, add := m.ADC1Delay, int64(delay)
			if delay < 0 {
				reg, add = m.ADC0Delay, int64(-delay)
			}
			cur, err := r.rig.Board.ReadInt(ctx, reg)
			if err != nil {
				return s.History(), fmt.Errorf("sync: read %s: %w", reg, err)
			}
			if err := r.rig.Board.WriteInt(ctx, reg, cur+add); err != nil {
				return s.History(), fmt.Errorf("sync: write %s: %w", reg, err)
			}
		} else {
			s.state = SyncConverged
		}

		step := SyncStep{Iteration: it, Delay: delay, Fit: fit, State: s.state}
		if step.ADC0Delay, err = r.rig.Board.ReadInt(ctx, m.ADC0Delay); err != nil {
			return s.History(), fmt.Errorf("sync: read %s: %w", m.ADC0Delay, err)
		}
		if step.ADC1Delay, err = r.rig.Board.ReadInt(ctx, m.ADC1Delay); err != nil {
			return s.History(), fmt.Errorf("sync: read %s: %w", m.ADC1Delay, err)
		}
		s.history = append(s.history, step)
		r.rig.Reporter.ReportSync(telemetry.SyncIteration{
			Timestamp: time.Now(),
			Iteration: it,
			Delay:     delay,
			State:     s.state.String(),
			ADC0Delay: step.ADC0Delay,
			ADC1Delay: step.ADC1Delay,
			RSquared:  fit.RSquared,
		})
		log.Info("sync iteration", logging.F("iteration", it), logging.F("delay", delay),
			logging.F("adc0_delay", step.ADC0Delay), logging.F("adc1_delay", step.ADC1Delay))

		if s.state == SyncConverged {
			break
		}
	}

	if err := run.Save("syncdata", data); err != nil {
		return s.History(), err
	}
	if _, err := r.finish(ctx, run); err != nil {
		return s.History(), err
	}
	if s.state != SyncConverged {
		s.state = SyncDiverged
		return s.History(), fmt.Errorf("%d iterations: %w", s.maxIter, ErrNotConverged)
	}
	log.Info("adcs synchronized", logging.F("iterations", len(s.history)))
	return s.History(), nil
}

// SyncADC runs a synchronizer to completion.
func (r *Runner) SyncADC(ctx context.Context) ([]SyncStep, error) {
	return r.NewSynchronizer().Run(ctx)
}
