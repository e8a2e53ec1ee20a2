// Package instrument drives the RF signal generators used as stimulus and
// local oscillators over raw-socket SCPI.
package instrument

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/FrancoCalan/simulink-models/internal/logging"
)

// DefaultPort is the LXI raw-socket SCPI port.
const DefaultPort = 5025

// ErrClosed is returned for commands on a closed instrument.
var ErrClosed = errors.New("instrument closed")

// Generator is a CW signal source.
type Generator interface {
	SetFrequency(ctx context.Context, hz float64) error
	SetPower(ctx context.Context, dbm float64) error
	SetOutput(ctx context.Context, on bool) error
	Close() error
}

// SCPIConfig controls how a generator is reached.
type SCPIConfig struct {
	Addr        string // host or host:port
	Timeout     time.Duration
	DialRetries uint64
	Logger      logging.Logger
}

// SCPI is a generator reached over a raw TCP socket.
type SCPI struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
	logger  logging.Logger
	id      string
}

// DialSCPI connects, retrying with exponential backoff, and identifies the
// instrument with *IDN?.
func DialSCPI(ctx context.Context, cfg SCPIConfig) (*SCPI, error) {
	addr := cfg.Addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.DialRetries == 0 {
		cfg.DialRetries = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With(logging.F("subsystem", "scpi"), logging.F("addr", addr))

	var conn net.Conn
	op := func() error {
		d := net.Dialer{Timeout: cfg.Timeout}
		c, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			logger.Warn("dial failed", logging.F("error", err.Error()))
			return err
		}
		conn = c
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.DialRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}

	s := NewSCPI(conn, cfg.Timeout, logger)
	id, err := s.Ask(ctx, "*IDN?")
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("identify %s: %w", addr, err)
	}
	s.id = id
	logger.Info("instrument connected", logging.F("idn", id))
	return s, nil
}

// NewSCPI wraps an established connection.
func NewSCPI(conn net.Conn, timeout time.Duration, logger logging.Logger) *SCPI {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &SCPI{conn: conn, reader: bufio.NewReader(conn), timeout: timeout, logger: logger}
}

// ID returns the *IDN? answer obtained at connect time.
func (s *SCPI) ID() string { return s.id }

func (s *SCPI) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(s.timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

func (s *SCPI) send(ctx context.Context, cmd string) error {
	if s.conn == nil {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = s.conn.SetDeadline(s.deadline(ctx))
	if _, err := s.conn.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("scpi %q: %w", cmd, err)
	}
	s.logger.Debug("scpi write", logging.F("cmd", cmd))
	return nil
}

// Write sends a command that has no response.
func (s *SCPI) Write(ctx context.Context, cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(ctx, cmd)
}

// Ask sends a query and returns the trimmed response line.
func (s *SCPI) Ask(ctx context.Context, query string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.send(ctx, query); err != nil {
		return "", err
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("scpi %q: read: %w", query, err)
	}
	return strings.TrimSpace(line), nil
}

// SetFrequency sets the CW frequency in Hz and waits for the operation to
// complete.
func (s *SCPI) SetFrequency(ctx context.Context, hz float64) error {
	resp, err := s.Ask(ctx, "freq "+strconv.FormatFloat(hz, 'f', -1, 64)+";*opc?")
	if err != nil {
		return err
	}
	if resp != "1" {
		return fmt.Errorf("set frequency %g Hz: unexpected *opc? answer %q", hz, resp)
	}
	return nil
}

func (s *SCPI) SetPower(ctx context.Context, dbm float64) error {
	return s.Write(ctx, "power "+strconv.FormatFloat(dbm, 'f', -1, 64))
}

func (s *SCPI) SetOutput(ctx context.Context, on bool) error {
	if on {
		return s.Write(ctx, "outp on")
	}
	return s.Write(ctx, "outp off")
}

// SetMultiplier configures the frequency multiplier of sources that drive
// an external multiplier chain.
func (s *SCPI) SetMultiplier(ctx context.Context, n int) error {
	if n < 1 {
		return fmt.Errorf("frequency multiplier must be >= 1, got %d", n)
	}
	return s.Write(ctx, "freq:mult "+strconv.Itoa(n))
}

func (s *SCPI) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// TurnOff switches off every generator's output, continuing past failures.
// Runs call it on exit, including after an error.
func TurnOff(ctx context.Context, logger logging.Logger, gens ...Generator) error {
	var errs []error
	for _, g := range gens {
		if g == nil {
			continue
		}
		if err := g.SetOutput(ctx, false); err != nil {
			logger.Warn("could not turn off instrument output", logging.F("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
