package board

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/FrancoCalan/simulink-models/internal/logging"
)

// DefaultPort is the KATCP port of tcpborphserver.
const DefaultPort = 7147

// KATCPConfig controls how the client connects.
type KATCPConfig struct {
	Addr        string // host or host:port
	Timeout     time.Duration
	DialRetries uint64
	Logger      logging.Logger
}

// KATCP is a client for the line-based KATCP protocol spoken by ROACH boards.
// Requests are serialized; one request is in flight at a time. A request
// that fails on the wire drops the connection, since a late reply would
// otherwise answer the next request. Clients built by DialKATCP redial on
// the following request.
type KATCP struct {
	mu      sync.Mutex
	conn    net.Conn
	reader  *bufio.Reader
	writer  *bufio.Writer
	timeout time.Duration
	logger  logging.Logger
	redial  func(ctx context.Context) (net.Conn, error)
	closed  bool
}

// DialKATCP connects to a board, retrying with exponential backoff.
func DialKATCP(ctx context.Context, cfg KATCPConfig) (*KATCP, error) {
	addr := cfg.Addr
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.DialRetries == 0 {
		cfg.DialRetries = 4
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	logger = logger.With(logging.Field{Key: "subsystem", Value: "katcp"}, logging.Field{Key: "addr", Value: addr})

	dial := func(ctx context.Context) (net.Conn, error) {
		d := net.Dialer{Timeout: cfg.Timeout}
		return d.DialContext(ctx, "tcp", addr)
	}
	var conn net.Conn
	attempt := 0
	op := func() error {
		attempt++
		c, err := dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			logger.Warn("dial failed", logging.Field{Key: "attempt", Value: attempt}, logging.Field{Key: "error", Value: err.Error()})
			return err
		}
		conn = c
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.DialRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}
	logger.Info("connected")
	k := NewKATCP(conn, cfg.Timeout, logger)
	k.redial = dial
	return k, nil
}

// NewKATCP wraps an established connection.
func NewKATCP(conn net.Conn, timeout time.Duration, logger logging.Logger) *KATCP {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &KATCP{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		writer:  bufio.NewWriter(conn),
		timeout: timeout,
		logger:  logger,
	}
}

// Close closes the connection.
func (k *KATCP) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed = true
	if k.conn == nil {
		return nil
	}
	err := k.conn.Close()
	k.conn = nil
	return err
}

// reply is a parsed "!name status args..." line plus the informs that preceded it.
type reply struct {
	name    string
	args    []string
	informs [][]string
}

func (r reply) ok() bool { return len(r.args) > 0 && r.args[0] == "ok" }

func (r reply) failure() error {
	msg := strings.Join(r.args, " ")
	if strings.Contains(msg, "not found") || strings.Contains(msg, "no such") {
		return fmt.Errorf("?%s: %s: %w", r.name, msg, ErrNoSuchDevice)
	}
	return fmt.Errorf("?%s: %s", r.name, msg)
}

// drop discards the connection after a wire error.
func (k *KATCP) drop(cause error) {
	if k.conn == nil {
		return
	}
	k.logger.Warn("dropping connection", logging.Field{Key: "error", Value: cause.Error()})
	_ = k.conn.Close()
	k.conn, k.reader, k.writer = nil, nil, nil
}

func (k *KATCP) ensureConn(ctx context.Context) error {
	if k.conn != nil {
		return nil
	}
	if k.closed || k.redial == nil {
		return ErrNotConnected
	}
	conn, err := k.redial(ctx)
	if err != nil {
		return fmt.Errorf("reconnect: %v: %w", err, ErrNotConnected)
	}
	k.logger.Info("reconnected")
	k.conn = conn
	k.reader = bufio.NewReader(conn)
	k.writer = bufio.NewWriter(conn)
	return nil
}

func (k *KATCP) request(ctx context.Context, name string, args ...string) (reply, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.ensureConn(ctx); err != nil {
		return reply{}, err
	}
	r, err := k.exchange(ctx, name, args)
	if err != nil {
		k.drop(err)
	}
	return r, err
}

// exchange sends one request and reads up to its reply. Any error leaves
// the stream in an unknown state.
func (k *KATCP) exchange(ctx context.Context, name string, args []string) (reply, error) {
	conn := k.conn

	deadline := time.Now().Add(k.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	var sb strings.Builder
	sb.WriteString("?")
	sb.WriteString(name)
	for _, a := range args {
		sb.WriteByte(' ')
		sb.WriteString(escape(a))
	}
	sb.WriteByte('\n')
	if _, err := k.writer.WriteString(sb.String()); err != nil {
		return reply{}, fmt.Errorf("?%s: write: %w", name, err)
	}
	if err := k.writer.Flush(); err != nil {
		return reply{}, fmt.Errorf("?%s: write: %w", name, err)
	}

	var informs [][]string
	for {
		if err := ctx.Err(); err != nil {
			return reply{}, err
		}
		line, err := k.reader.ReadString('\n')
		if err != nil {
			return reply{}, fmt.Errorf("?%s: read: %w", name, err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		fields := strings.Split(line, " ")
		head, rest := fields[0], unescapeAll(fields[1:])
		switch {
		case head == "#"+name:
			informs = append(informs, rest)
		case strings.HasPrefix(head, "#"):
			// asynchronous informs (#version, #log, ...) are not ours
			k.logger.Debug("inform", logging.Field{Key: "line", Value: line})
		case head == "!"+name:
			return reply{name: name, args: rest, informs: informs}, nil
		default:
			k.logger.Debug("unexpected line", logging.Field{Key: "line", Value: line})
		}
	}
}

// ReadInt reads a 32-bit register. The value is returned as signed.
func (k *KATCP) ReadInt(ctx context.Context, name string) (int64, error) {
	r, err := k.request(ctx, "wordread", name, "0")
	if err != nil {
		return 0, err
	}
	if !r.ok() || len(r.args) < 2 {
		return 0, r.failure()
	}
	v, err := strconv.ParseUint(r.args[1], 0, 32)
	if err != nil {
		return 0, fmt.Errorf("wordread %s: parse %q: %w", name, r.args[1], err)
	}
	return int64(int32(uint32(v))), nil
}

// WriteInt writes a 32-bit register.
func (k *KATCP) WriteInt(ctx context.Context, name string, value int64) error {
	r, err := k.request(ctx, "wordwrite", name, "0", fmt.Sprintf("0x%x", uint32(value)))
	if err != nil {
		return err
	}
	if !r.ok() {
		return r.failure()
	}
	return nil
}

// Read reads size bytes of a named memory starting at offset.
func (k *KATCP) Read(ctx context.Context, name string, size, offset int) ([]byte, error) {
	r, err := k.request(ctx, "read", name, strconv.Itoa(offset), strconv.Itoa(size))
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, r.failure()
	}
	if len(r.args) < 2 {
		return []byte{}, nil
	}
	return []byte(r.args[1]), nil
}

// Write writes data into a named memory at offset.
func (k *KATCP) Write(ctx context.Context, name string, data []byte, offset int) error {
	r, err := k.request(ctx, "write", name, strconv.Itoa(offset), string(data))
	if err != nil {
		return err
	}
	if !r.ok() {
		return r.failure()
	}
	return nil
}

// Program loads a bitstream already present on the board.
func (k *KATCP) Program(ctx context.Context, boffile string) error {
	r, err := k.request(ctx, "progdev", boffile)
	if err != nil {
		return err
	}
	if !r.ok() {
		return r.failure()
	}
	return nil
}

// ListDevices returns the register and memory names of the running design.
func (k *KATCP) ListDevices(ctx context.Context) ([]string, error) {
	r, err := k.request(ctx, "listdev")
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, r.failure()
	}
	out := make([]string, 0, len(r.informs))
	for _, inf := range r.informs {
		if len(inf) > 0 {
			out = append(out, inf[0])
		}
	}
	sort.Strings(out)
	return out, nil
}

var errBadEscape = errors.New("bad katcp escape")

func escape(s string) string {
	if s == "" {
		return `\@`
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			sb.WriteString(`\\`)
		case ' ':
			sb.WriteString(`\_`)
		case 0:
			sb.WriteString(`\0`)
		case '\n':
			sb.WriteString(`\n`)
		case '\r':
			sb.WriteString(`\r`)
		case 0x1b:
			sb.WriteString(`\e`)
		case '\t':
			sb.WriteString(`\t`)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

func unescape(s string) (string, error) {
	if s == `\@` {
		return "", nil
	}
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			sb.WriteByte(s[i])
			continue
		}
		i++
		if i >= len(s) {
			return "", errBadEscape
		}
		switch s[i] {
		case '\\':
			sb.WriteByte('\\')
		case '_':
			sb.WriteByte(' ')
		case '0':
			sb.WriteByte(0)
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 'e':
			sb.WriteByte(0x1b)
		case 't':
			sb.WriteByte('\t')
		case '@':
		default:
			return "", errBadEscape
		}
	}
	return sb.String(), nil
}

func unescapeAll(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		u, err := unescape(a)
		if err != nil {
			u = a
		}
		out[i] = u
	}
	return out
}
