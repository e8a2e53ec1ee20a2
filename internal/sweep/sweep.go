// Package sweep drives a stimulus across a list of channels, waits for the
// spectrometer to settle after each step and collects one measurement per
// step.
package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/FrancoCalan/simulink-models/internal/logging"
	"github.com/FrancoCalan/simulink-models/internal/telemetry"
)

// Stimulus is the instrument moved during a sweep.
type Stimulus interface {
	SetFrequency(ctx context.Context, hz float64) error
}

// Session carries the live resources of one run. It replaces module-level
// handles; every operation receives it explicitly.
type Session struct {
	Registers Registers
	Stimulus  Stimulus
	Logger    logging.Logger
	Reporter  telemetry.Reporter
}

func (s Session) logger() logging.Logger {
	if s.Logger == nil {
		return logging.Default()
	}
	return s.Logger
}

// Target is one sweep step: the channel to read and the stimulus frequency
// that puts a tone in it.
type Target struct {
	Channel int
	FreqHz  float64
}

// Plan is an ordered list of targets plus the settle policy between them.
type Plan struct {
	Name    string
	Targets []Target
	Settle  SettlePolicy
}

// NewPlan pairs channels with their stimulus frequencies.
func NewPlan(name string, channels []int, freqsHz []float64, settle SettlePolicy) (Plan, error) {
	if len(channels) != len(freqsHz) {
		return Plan{}, fmt.Errorf("plan %s: %d channels for %d frequencies", name, len(channels), len(freqsHz))
	}
	p := Plan{Name: name, Settle: settle, Targets: make([]Target, len(channels))}
	for i := range channels {
		p.Targets[i] = Target{Channel: channels[i], FreqHz: freqsHz[i]}
	}
	return p, nil
}

// MeasureFunc reads the board after the stimulus has settled and extracts
// the value of interest at chnl.
type MeasureFunc[T any] func(ctx context.Context, chnl int) (T, error)

// Summarizer is implemented by measurements that can be reported as scalars.
type Summarizer interface {
	Summary() map[string]float64
}

// Record associates a target with its measurement.
type Record[T any] struct {
	Target
	Value T
}

// Run executes the plan. The first error aborts the sweep; records already
// collected are discarded.
func Run[T any](ctx context.Context, s Session, plan Plan, measure MeasureFunc[T]) ([]Record[T], error) {
	if s.Stimulus == nil {
		return nil, fmt.Errorf("sweep %s: no stimulus", plan.Name)
	}
	log := s.logger().With(logging.Field{Key: "subsystem", Value: "sweep"}, logging.Field{Key: "sweep", Value: plan.Name})
	log.Info("sweep started", logging.Field{Key: "points", Value: len(plan.Targets)})
	started := time.Now()
	fallbackLogged := false

	records := make([]Record[T], 0, len(plan.Targets))
	for i, tgt := range plan.Targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.Stimulus.SetFrequency(ctx, tgt.FreqHz); err != nil {
			return nil, fmt.Errorf("sweep %s step %d: set frequency %.0f Hz: %w", plan.Name, i, tgt.FreqHz, err)
		}
		fellBack, err := plan.Settle.Wait(ctx, s.Registers)
		if err != nil {
			return nil, fmt.Errorf("sweep %s step %d: settle: %w", plan.Name, i, err)
		}
		if fellBack && !fallbackLogged {
			log.Warn("readiness register unavailable, using fixed delay",
				logging.Field{Key: "register", Value: plan.Settle.Register},
				logging.Field{Key: "delay", Value: plan.Settle.Delay.String()})
			fallbackLogged = true
		}
		v, err := measure(ctx, tgt.Channel)
		if err != nil {
			return nil, fmt.Errorf("sweep %s step %d: measure channel %d: %w", plan.Name, i, tgt.Channel, err)
		}
		records = append(records, Record[T]{Target: tgt, Value: v})

		if s.Reporter != nil {
			p := telemetry.Point{
				Timestamp: time.Now(),
				Sweep:     plan.Name,
				Index:     i,
				Total:     len(plan.Targets),
				Channel:   tgt.Channel,
				FreqHz:    tgt.FreqHz,
			}
			if sum, ok := any(v).(Summarizer); ok {
				p.Values = sum.Summary()
			}
			s.Reporter.ReportPoint(p)
		}
		log.Debug("sweep step", logging.Field{Key: "step", Value: i}, logging.Field{Key: "channel", Value: tgt.Channel})
	}
	log.Info("sweep finished", logging.Field{Key: "elapsed_s", Value: time.Since(started).Seconds()})
	return records, nil
}

// Values extracts the measurements of a record list in order.
func Values[T any](records []Record[T]) []T {
	out := make([]T, len(records))
	for i, r := range records {
		out[i] = r.Value
	}
	return out
}
