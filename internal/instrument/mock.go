package instrument

import (
	"context"
	"sync"
)

// MockGenerator records the commanded state. It doubles as the tone source
// of the simulated board.
type MockGenerator struct {
	mu     sync.Mutex
	freq   float64
	power  float64
	on     bool
	closed bool
	cmds   []string
}

func NewMockGenerator() *MockGenerator { return &MockGenerator{power: -100} }

func (g *MockGenerator) SetFrequency(ctx context.Context, hz float64) error {
	if err := g.check(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	g.freq = hz
	g.cmds = append(g.cmds, "freq")
	g.mu.Unlock()
	return nil
}

func (g *MockGenerator) SetPower(ctx context.Context, dbm float64) error {
	if err := g.check(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	g.power = dbm
	g.cmds = append(g.cmds, "power")
	g.mu.Unlock()
	return nil
}

func (g *MockGenerator) SetOutput(ctx context.Context, on bool) error {
	if err := g.check(ctx); err != nil {
		return err
	}
	g.mu.Lock()
	g.on = on
	if on {
		g.cmds = append(g.cmds, "outp on")
	} else {
		g.cmds = append(g.cmds, "outp off")
	}
	g.mu.Unlock()
	return nil
}

func (g *MockGenerator) Close() error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	return nil
}

// Tone reports the current output.
func (g *MockGenerator) Tone() (freqHz, powerDBm float64, on bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.freq, g.power, g.on
}

// Commands returns a copy of the command log.
func (g *MockGenerator) Commands() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cmds...)
}

func (g *MockGenerator) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	return nil
}
