package instrument

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FrancoCalan/simulink-models/internal/logging"
)

// startSCPIMockServer answers every line that ends in '?' with the next
// entry of answers and records all received lines.
func startSCPIMockServer(t *testing.T, answers []string) (string, chan []string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	got := make(chan []string, 1)
	go func() {
		defer listener.Close()
		conn, err := listener.Accept()
		if err != nil {
			got <- nil
			return
		}
		defer conn.Close()

		var lines []string
		reader := bufio.NewReader(conn)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				got <- lines
				return
			}
			line = strings.TrimSpace(line)
			lines = append(lines, line)
			if strings.HasSuffix(line, "?") && len(answers) > 0 {
				fmt.Fprintf(conn, "%s\n", answers[0])
				answers = answers[1:]
			}
		}
	}()
	return listener.Addr().String(), got
}

func TestSCPIGenerator(t *testing.T) {
	addr, got := startSCPIMockServer(t, []string{"Agilent Technologies, E8257D,MY123,C.06.10", "1"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	g, err := DialSCPI(ctx, SCPIConfig{Addr: addr, Timeout: time.Second, Logger: logging.New(logging.Error, logging.Text, nil)})
	require.NoError(t, err)
	assert.Contains(t, g.ID(), "E8257D")

	require.NoError(t, g.SetPower(ctx, -10))
	require.NoError(t, g.SetFrequency(ctx, 8.5e9))
	require.NoError(t, g.SetMultiplier(ctx, 3))
	require.Error(t, g.SetMultiplier(ctx, 0))
	require.NoError(t, g.SetOutput(ctx, true))
	require.NoError(t, g.SetOutput(ctx, false))
	require.NoError(t, g.Close())

	assert.Equal(t, []string{
		"*IDN?",
		"power -10",
		"freq 8500000000;*opc?",
		"freq:mult 3",
		"outp on",
		"outp off",
	}, <-got)

	assert.True(t, errors.Is(g.SetOutput(ctx, true), ErrClosed))
}

func TestSCPIFrequencyNeedsCompletion(t *testing.T) {
	addr, _ := startSCPIMockServer(t, []string{"ID", "0"})
	ctx := context.Background()
	g, err := DialSCPI(ctx, SCPIConfig{Addr: addr, Timeout: time.Second, Logger: logging.New(logging.Error, logging.Text, nil)})
	require.NoError(t, err)
	defer g.Close()
	require.Error(t, g.SetFrequency(ctx, 1e9))
}

func TestTurnOffContinuesPastFailures(t *testing.T) {
	ctx := context.Background()
	a, b := NewMockGenerator(), NewMockGenerator()
	require.NoError(t, a.SetOutput(ctx, true))
	require.NoError(t, b.SetOutput(ctx, true))
	require.NoError(t, a.Close())

	err := TurnOff(ctx, logging.New(logging.Error, logging.Text, nil), a, nil, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClosed))
	_, _, on := b.Tone()
	assert.False(t, on)
}

func TestMockGeneratorTone(t *testing.T) {
	ctx := context.Background()
	g := NewMockGenerator()
	require.NoError(t, g.SetFrequency(ctx, 8e9))
	require.NoError(t, g.SetPower(ctx, -3))
	require.NoError(t, g.SetOutput(ctx, true))
	f, p, on := g.Tone()
	assert.Equal(t, 8e9, f)
	assert.Equal(t, -3.0, p)
	assert.True(t, on)
	assert.Equal(t, []string{"freq", "power", "outp on"}, g.Commands())

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, g.SetFrequency(cctx, 1))
}

func TestHostFromEntry(t *testing.T) {
	e := zeroconf.NewServiceEntry(`Agilent\ E8257D`, ServiceSCPI, "local.")
	e.HostName = "a-e8257d.local."
	e.Port = 5025
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.31")}
	e.Text = []string{"Manufacturer=Agilent"}

	h := hostFromEntry(e)
	assert.Equal(t, "Agilent E8257D", h.Instance)
	assert.Equal(t, "192.168.1.31:5025", h.Addr())

	h.Addresses = nil
	assert.Equal(t, "a-e8257d.local:5025", h.Addr())
}
