// Package board talks to the FPGA: named 32-bit registers, byte-addressed
// block memories and bitstream programming.
package board

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected is returned when a request is made on a closed client.
	ErrNotConnected = errors.New("board not connected")
	// ErrNoSuchDevice is returned for unknown register or memory names.
	ErrNoSuchDevice = errors.New("no such device")
)

// Board captures the operations the calibration code needs from an FPGA.
type Board interface {
	ReadInt(ctx context.Context, name string) (int64, error)
	WriteInt(ctx context.Context, name string, value int64) error
	Read(ctx context.Context, name string, size, offset int) ([]byte, error)
	Write(ctx context.Context, name string, data []byte, offset int) error
	Program(ctx context.Context, boffile string) error
	ListDevices(ctx context.Context) ([]string, error)
	Close() error
}

// ClockRegister counts FPGA clock cycles.
const ClockRegister = "sys_clkcounter"

// EstimateClock samples the free-running clock counter twice, interval
// apart, and returns the FPGA clock in MHz. The 32-bit counter may wrap once.
func EstimateClock(ctx context.Context, b Board, interval time.Duration) (float64, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	first, err := b.ReadInt(ctx, ClockRegister)
	if err != nil {
		return 0, fmt.Errorf("estimate clock: %w", err)
	}
	start := time.Now()
	t := time.NewTimer(interval)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-t.C:
	}
	second, err := b.ReadInt(ctx, ClockRegister)
	if err != nil {
		return 0, fmt.Errorf("estimate clock: %w", err)
	}
	elapsed := time.Since(start).Seconds()
	diff := uint32(second) - uint32(first)
	return float64(diff) / elapsed / 1e6, nil
}

// PulseRegister writes 1 then 0, the reset convention of the accumulators.
func PulseRegister(ctx context.Context, b Board, name string) error {
	if err := b.WriteInt(ctx, name, 1); err != nil {
		return fmt.Errorf("pulse %s: %w", name, err)
	}
	if err := b.WriteInt(ctx, name, 0); err != nil {
		return fmt.Errorf("pulse %s: %w", name, err)
	}
	return nil
}
