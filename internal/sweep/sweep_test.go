package sweep

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FrancoCalan/simulink-models/internal/board"
	"github.com/FrancoCalan/simulink-models/internal/telemetry"
)

type fakeStimulus struct {
	freqs []float64
	fail  int
}

func (f *fakeStimulus) SetFrequency(_ context.Context, hz float64) error {
	if f.fail > 0 && len(f.freqs) == f.fail {
		return errors.New("instrument unreachable")
	}
	f.freqs = append(f.freqs, hz)
	return nil
}

// counterRegs advances acc_cnt by one on every read.
type counterRegs struct {
	mu    sync.Mutex
	count int64
	reads int
	err   error
}

func (c *counterRegs) ReadInt(_ context.Context, _ string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	c.reads++
	c.count++
	return c.count, nil
}

func (c *counterRegs) WriteInt(context.Context, string, int64) error { return nil }

type point struct{ A2 float64 }

func (p point) Summary() map[string]float64 { return map[string]float64{"a2": p.A2} }

type recorder struct{ points []telemetry.Point }

func (r *recorder) ReportPoint(p telemetry.Point)      { r.points = append(r.points, p) }
func (r *recorder) ReportSync(telemetry.SyncIteration) {}

func TestRunVisitsTargetsInOrder(t *testing.T) {
	stim := &fakeStimulus{}
	rep := &recorder{}
	plan, err := NewPlan("usb", []int{1, 9, 17}, []float64{1e6, 9e6, 17e6}, SettlePolicy{})
	require.NoError(t, err)

	var measured []int
	records, err := Run(context.Background(), Session{Stimulus: stim, Reporter: rep}, plan,
		func(_ context.Context, chnl int) (point, error) {
			measured = append(measured, chnl)
			return point{A2: float64(chnl) * 2}, nil
		})
	require.NoError(t, err)
	assert.Equal(t, []float64{1e6, 9e6, 17e6}, stim.freqs)
	assert.Equal(t, []int{1, 9, 17}, measured)
	require.Len(t, records, 3)
	assert.Equal(t, 34.0, records[2].Value.A2)
	assert.Equal(t, []point{{2}, {18}, {34}}, Values(records))

	require.Len(t, rep.points, 3)
	assert.Equal(t, "usb", rep.points[1].Sweep)
	assert.Equal(t, 3, rep.points[1].Total)
	assert.Equal(t, 18.0, rep.points[1].Values["a2"])
}

func TestRunAbortsOnStimulusError(t *testing.T) {
	stim := &fakeStimulus{fail: 1}
	plan, _ := NewPlan("lsb", []int{1, 2, 3}, []float64{1, 2, 3}, SettlePolicy{})
	records, err := Run(context.Background(), Session{Stimulus: stim}, plan,
		func(context.Context, int) (float64, error) { return 0, nil })
	require.Error(t, err)
	assert.Nil(t, records)
	assert.Contains(t, err.Error(), "instrument unreachable")
}

func TestRunAbortsOnMeasureError(t *testing.T) {
	plan, _ := NewPlan("x", []int{1, 2}, []float64{1, 2}, SettlePolicy{})
	boom := errors.New("short read")
	_, err := Run(context.Background(), Session{Stimulus: &fakeStimulus{}}, plan,
		func(context.Context, int) (float64, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
}

func TestRunHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	plan, _ := NewPlan("x", []int{1, 2, 3}, []float64{1, 2, 3}, SettlePolicy{})
	calls := 0
	_, err := Run(ctx, Session{Stimulus: &fakeStimulus{}}, plan,
		func(context.Context, int) (float64, error) {
			calls++
			cancel()
			return 0, nil
		})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestNewPlanLengthMismatch(t *testing.T) {
	_, err := NewPlan("x", []int{1}, []float64{1, 2}, SettlePolicy{})
	require.Error(t, err)
}

func TestSettlePollsRegister(t *testing.T) {
	regs := &counterRegs{}
	p := SettlePolicy{Register: "acc_cnt", Accumulations: 3, PollInterval: time.Millisecond, Timeout: time.Second}
	fellBack, err := p.Wait(context.Background(), regs)
	require.NoError(t, err)
	assert.False(t, fellBack)
	// one baseline read plus three polls
	assert.Equal(t, 4, regs.reads)
}

func TestSettleFallsBackToDelay(t *testing.T) {
	regs := &counterRegs{err: fmt.Errorf("register acc_cnt: %w", board.ErrNoSuchDevice)}
	p := SettlePolicy{Register: "acc_cnt", Delay: 20 * time.Millisecond}
	start := time.Now()
	fellBack, err := p.Wait(context.Background(), regs)
	require.NoError(t, err)
	assert.True(t, fellBack)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSettleReturnsTransportErrors(t *testing.T) {
	lost := errors.New("?wordread: read: i/o timeout")
	regs := &counterRegs{err: lost}
	p := SettlePolicy{Register: "acc_cnt", Delay: time.Hour}
	fellBack, err := p.Wait(context.Background(), regs)
	require.Error(t, err)
	assert.ErrorIs(t, err, lost)
	assert.False(t, fellBack)
}

type stuckRegs struct{}

func (stuckRegs) ReadInt(context.Context, string) (int64, error) { return 7, nil }
func (stuckRegs) WriteInt(context.Context, string, int64) error  { return nil }

func TestSettleTimesOut(t *testing.T) {
	p := SettlePolicy{Register: "acc_cnt", PollInterval: time.Millisecond, Timeout: 20 * time.Millisecond}
	_, err := p.Wait(context.Background(), stuckRegs{})
	assert.ErrorIs(t, err, ErrSettleTimeout)
}

func TestSettleFixedDelayCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := SettlePolicy{Delay: time.Hour}.Wait(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
