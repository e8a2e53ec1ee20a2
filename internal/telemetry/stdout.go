package telemetry

import (
	"time"

	"github.com/FrancoCalan/simulink-models/internal/logging"
)

// Point is one sweep step: the stimulus that was driven and the scalars
// measured at the driven channel.
type Point struct {
	Timestamp time.Time          `json:"timestamp"`
	Sweep     string             `json:"sweep"`
	Index     int                `json:"index"`
	Total     int                `json:"total"`
	Channel   int                `json:"channel"`
	FreqHz    float64            `json:"freqHz"`
	Values    map[string]float64 `json:"values,omitempty"`
}

// SyncIteration is one pass of the ADC synchronization loop.
type SyncIteration struct {
	Timestamp time.Time `json:"timestamp"`
	Iteration int       `json:"iteration"`
	Delay     int       `json:"delay"`
	State     string    `json:"state"`
	ADC0Delay int64     `json:"adc0Delay"`
	ADC1Delay int64     `json:"adc1Delay"`
	RSquared  float64   `json:"rSquared"`
}

// Reporter captures telemetry events.
type Reporter interface {
	ReportPoint(p Point)
	ReportSync(it SyncIteration)
}

// StdoutReporter writes progress through the structured logger.
type StdoutReporter struct {
	logger logging.Logger
}

// NewStdoutReporter builds a stdout reporter with the provided logger.
func NewStdoutReporter(logger logging.Logger) StdoutReporter {
	if logger == nil {
		logger = logging.Default()
	}
	return StdoutReporter{logger: logger}
}

func (r StdoutReporter) ReportPoint(p Point) {
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		{Key: "sweep", Value: p.Sweep},
		{Key: "step", Value: p.Index + 1},
		{Key: "of", Value: p.Total},
		{Key: "channel", Value: p.Channel},
		{Key: "freq_hz", Value: p.FreqHz},
	}
	for k, v := range p.Values {
		fields = append(fields, logging.Field{Key: k, Value: v})
	}
	r.logger.Info("sweep point", fields...)
}

func (r StdoutReporter) ReportSync(it SyncIteration) {
	r.logger.Info("adc sync iteration",
		logging.Field{Key: "subsystem", Value: "telemetry"},
		logging.Field{Key: "iteration", Value: it.Iteration},
		logging.Field{Key: "delay", Value: it.Delay},
		logging.Field{Key: "state", Value: it.State},
		logging.Field{Key: "adc0_delay", Value: it.ADC0Delay},
		logging.Field{Key: "adc1_delay", Value: it.ADC1Delay},
	)
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

func (m MultiReporter) ReportPoint(p Point) {
	for _, r := range m {
		if r != nil {
			r.ReportPoint(p)
		}
	}
}

func (m MultiReporter) ReportSync(it SyncIteration) {
	for _, r := range m {
		if r != nil {
			r.ReportSync(it)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) ReportPoint(Point)        {}
func (Discard) ReportSync(SyncIteration) {}
