package visa

import (
	"context"
	"errors"
	"io"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func newOpenSimulator(t *testing.T) *Simulator {
	t.Helper()

	sim := NewSimulator()
	require.NoError(t, sim.Open(context.Background()))
	t.Cleanup(func() { _ = sim.Close() })

	return sim
}

func roundTrip(t *testing.T, sim *Simulator, cmd string, expectReply bool) string {
	t.Helper()

	resp, err := sim.RoundTrip(context.Background(), []byte(cmd+"\n"), expectReply)
	require.NoError(t, err)

	return string(resp)
}

func TestSimulatorIdentify(t *testing.T) {
	sim := newOpenSimulator(t)

	id := roundTrip(t, sim, "*IDN?", true)
	require.Contains(t, id, "Model 2612")
}

func TestSimulatorClosedFails(t *testing.T) {
	sim := NewSimulator()

	_, err := sim.RoundTrip(context.Background(), []byte("*IDN?\n"), true)
	require.ErrorIs(t, err, ErrClosed)
}

func TestSimulatorSourceLevel(t *testing.T) {
	sim := newOpenSimulator(t)

	roundTrip(t, sim, "smua.source.output = smua.OUTPUT_ON", false)
	roundTrip(t, sim, "smua.source.levelv = +2.500000e+00", false)
	require.Equal(t, 2.5, sim.ChannelLevel("smua"))
	require.True(t, sim.ChannelOutput("smua"))

	// Channels are independent.
	require.Equal(t, 0.0, sim.ChannelLevel("smub"))
	require.False(t, sim.ChannelOutput("smub"))
}

func TestSimulatorMeasurement(t *testing.T) {
	sim := newOpenSimulator(t)

	t.Run("output off reads zero", func(t *testing.T) {
		roundTrip(t, sim, "smua.source.levelv = +1.000000e+00", false)
		v := roundTrip(t, sim, "print(smua.measure.v())", true)
		f, err := strconv.ParseFloat(v, 64)
		require.NoError(t, err)
		require.Zero(t, f)
	})

	t.Run("output on tracks level", func(t *testing.T) {
		roundTrip(t, sim, "smua.source.output = smua.OUTPUT_ON", false)
		v := roundTrip(t, sim, "print(smua.measure.v())", true)
		f, err := strconv.ParseFloat(v, 64)
		require.NoError(t, err)
		require.InDelta(t, 1.0, f, 1e-9)
	})

	t.Run("noise stays within amplitude", func(t *testing.T) {
		sim.SetNoise(0.01, 42)
		for i := 0; i < 10; i++ {
			v := roundTrip(t, sim, "print(smua.measure.v())", true)
			f, err := strconv.ParseFloat(v, 64)
			require.NoError(t, err)
			require.InDelta(t, 1.0, f, 0.011)
		}
	})
}

func TestSimulatorCompliance(t *testing.T) {
	sim := newOpenSimulator(t)

	require.Equal(t, "false", roundTrip(t, sim, "print(smua.source.compliance)", true))

	sim.SetCompliance("smua", true)
	require.Equal(t, "true", roundTrip(t, sim, "print(smua.source.compliance)", true))

	// Clamped at the current limit while in compliance.
	roundTrip(t, sim, "smua.source.limiti = +1.000000e-02", false)
	i := roundTrip(t, sim, "print(smua.measure.i())", true)
	f, err := strconv.ParseFloat(i, 64)
	require.NoError(t, err)
	require.InDelta(t, 0.01, f, 1e-12)
}

func TestSimulatorErrorQueue(t *testing.T) {
	sim := newOpenSimulator(t)

	drain := "local code, msg, severity, node = errorqueue.next() " +
		"if code then print(string.format('%d|%s|%d|%d', code, msg, severity, node)) end"

	require.Empty(t, roundTrip(t, sim, drain, true))

	sim.PushError(-285, "TSP Syntax error at line 1", 1, 1)
	sim.PushError(-420, "Query UNTERMINATED", 1, 1)

	require.Equal(t, "-285|TSP Syntax error at line 1|1|1", roundTrip(t, sim, drain, true))
	require.Equal(t, "-420|Query UNTERMINATED|1|1", roundTrip(t, sim, drain, true))
	require.Empty(t, roundTrip(t, sim, drain, true))
}

func TestSimulatorBadNumberQueuesError(t *testing.T) {
	sim := newOpenSimulator(t)

	_, err := sim.RoundTrip(context.Background(), []byte("smua.source.levelv = bogus\n"), false)
	require.ErrorIs(t, err, ErrUnsupported)

	drain := "local code, msg, severity, node = errorqueue.next() " +
		"if code then print(string.format('%d|%s|%d|%d', code, msg, severity, node)) end"
	entry := roundTrip(t, sim, drain, true)
	require.Contains(t, entry, "-285")
}

func TestSimulatorReset(t *testing.T) {
	sim := newOpenSimulator(t)

	roundTrip(t, sim, "smua.source.output = smua.OUTPUT_ON", false)
	roundTrip(t, sim, "smua.source.levelv = +5.000000e+00", false)

	t.Run("channel reset", func(t *testing.T) {
		roundTrip(t, sim, "smua.reset()", false)
		require.False(t, sim.ChannelOutput("smua"))
		require.Zero(t, sim.ChannelLevel("smua"))
	})

	t.Run("instrument reset", func(t *testing.T) {
		roundTrip(t, sim, "smub.source.limiti = +2.000000e-01", false)
		roundTrip(t, sim, "*RST", false)
		require.Equal(t, 1e-3, sim.ChannelLimit("smub"))
	})
}

func TestSimulatorBeeperAndDisplay(t *testing.T) {
	sim := newOpenSimulator(t)

	roundTrip(t, sim, "beeper.enable = 1", false)
	require.True(t, sim.BeeperEnabled())

	roundTrip(t, sim, "beeper.beep(0.15, 1200)", false)
	require.Equal(t, "beeper.beep(0.15, 1200)", sim.LastBeep())

	roundTrip(t, sim, "beeper.enable = 0", false)
	require.False(t, sim.BeeperEnabled())

	roundTrip(t, sim, "display.screen = display.SMUB", false)
	require.Equal(t, "SMUB", sim.DisplayScreen())
}

func TestSimulatorFailOn(t *testing.T) {
	sim := newOpenSimulator(t)

	sim.FailOn("levelv", io.ErrUnexpectedEOF)

	_, err := sim.RoundTrip(context.Background(), []byte("smua.source.levelv = +1.000000e+00\n"), false)
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF))

	// One-shot: the retried command succeeds.
	_, err = sim.RoundTrip(context.Background(), []byte("smua.source.levelv = +1.000000e+00\n"), false)
	require.NoError(t, err)
	require.Equal(t, 1.0, sim.ChannelLevel("smua"))
}

func TestSimulatorUnknownCommand(t *testing.T) {
	sim := newOpenSimulator(t)

	_, err := sim.RoundTrip(context.Background(), []byte("node.cleanup()\n"), false)
	require.ErrorIs(t, err, ErrUnsupported)
}
