package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/FrancoCalan/simulink-models/internal/board"
)

// ErrSettleTimeout is returned when the readiness register does not advance
// within the policy timeout.
var ErrSettleTimeout = errors.New("accumulator did not settle")

var errNotAdvanced = errors.New("accumulator not advanced")

// Registers reads and writes named 32-bit board registers.
type Registers interface {
	ReadInt(ctx context.Context, name string) (int64, error)
	WriteInt(ctx context.Context, name string, value int64) error
}

// SettlePolicy decides how long to wait after a stimulus change before the
// spectra are read. With Register empty it sleeps Delay. Otherwise it polls
// Register until it has advanced by Accumulations. A design that has no
// such register falls back to Delay; any other read error is returned.
type SettlePolicy struct {
	Delay         time.Duration
	Register      string
	Accumulations int
	PollInterval  time.Duration
	Timeout       time.Duration
}

// Polling reports whether the policy uses a readiness register.
func (p SettlePolicy) Polling() bool { return p.Register != "" }

// Wait blocks until the next measurement is settled or ctx is done.
// It returns true when it fell back to the fixed delay.
func (p SettlePolicy) Wait(ctx context.Context, regs Registers) (fellBack bool, err error) {
	if !p.Polling() || regs == nil {
		return false, sleep(ctx, p.Delay)
	}
	start, err := regs.ReadInt(ctx, p.Register)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, board.ErrNoSuchDevice):
		// design without a readiness counter
		return true, sleep(ctx, p.Delay)
	default:
		return false, fmt.Errorf("settle: read %s: %w", p.Register, err)
	}

	need := int64(p.Accumulations)
	if need <= 0 {
		need = 2
	}
	interval := p.PollInterval
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	poll := &backoff.ExponentialBackOff{
		InitialInterval: interval,
		Multiplier:      1,
		MaxInterval:     interval,
		MaxElapsedTime:  timeout,
		Clock:           backoff.SystemClock,
	}

	var advanced int64
	op := func() error {
		cur, err := regs.ReadInt(ctx, p.Register)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("poll %s: %w", p.Register, err))
		}
		if cur < start {
			// counter was reset underneath us
			start = cur
		}
		if advanced = cur - start; advanced < need {
			return errNotAdvanced
		}
		return nil
	}
	err = backoff.Retry(op, backoff.WithContext(poll, ctx))
	switch {
	case err == nil:
		return false, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, errNotAdvanced):
		return false, fmt.Errorf("%s advanced %d of %d in %s: %w", p.Register, advanced, need, timeout, ErrSettleTimeout)
	default:
		return false, err
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
