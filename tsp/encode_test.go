package tsp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeSourceCommands(t *testing.T) {
	tests := []struct {
		name     string
		intent   Intent
		expected string
	}{
		{
			name:     "set voltage level channel a",
			intent:   SetSourceLevel{Channel: ChannelA, Func: SourceVoltage, Value: 3},
			expected: "smua.source.levelv = +3.000000e+00\n",
		},
		{
			name:     "set current level channel b",
			intent:   SetSourceLevel{Channel: ChannelB, Func: SourceCurrent, Value: -0.0015},
			expected: "smub.source.leveli = -1.500000e-03\n",
		},
		{
			name:     "compliance limit for voltage source is current",
			intent:   SetCompliance{Channel: ChannelA, Func: SourceVoltage, Value: 0.1},
			expected: "smua.source.limiti = +1.000000e-01\n",
		},
		{
			name:     "compliance limit for current source is voltage",
			intent:   SetCompliance{Channel: ChannelB, Func: SourceCurrent, Value: 20},
			expected: "smub.source.limitv = +2.000000e+01\n",
		},
		{
			name:     "source function voltage",
			intent:   SetSourceFunc{Channel: ChannelA, Func: SourceVoltage},
			expected: "smua.source.func = smua.OUTPUT_DCVOLTS\n",
		},
		{
			name:     "source function current",
			intent:   SetSourceFunc{Channel: ChannelB, Func: SourceCurrent},
			expected: "smub.source.func = smub.OUTPUT_DCAMPS\n",
		},
		{
			name:     "autorange on",
			intent:   SetAutorange{Channel: ChannelA, Func: SourceVoltage, On: true},
			expected: "smua.source.autorangev = smua.AUTORANGE_ON\n",
		},
		{
			name:     "autorange off",
			intent:   SetAutorange{Channel: ChannelB, Func: SourceCurrent, On: false},
			expected: "smub.source.autorangei = smub.AUTORANGE_OFF\n",
		},
		{
			name:     "output on",
			intent:   EnableOutput{Channel: ChannelA, On: true},
			expected: "smua.source.output = smua.OUTPUT_ON\n",
		},
		{
			name:     "output off",
			intent:   EnableOutput{Channel: ChannelB, On: false},
			expected: "smub.source.output = smub.OUTPUT_OFF\n",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cmd, err := Encode(test.intent)
			require.NoError(t, err)
			require.Equal(t, test.expected, string(cmd))
		})
	}
}

func TestEncodeQueryCommands(t *testing.T) {
	tests := []struct {
		name     string
		intent   Intent
		expected string
	}{
		{
			name:     "measure voltage",
			intent:   Measure{Channel: ChannelA, Func: SourceVoltage},
			expected: "print(smua.measure.v())\n",
		},
		{
			name:     "measure current",
			intent:   Measure{Channel: ChannelB, Func: SourceCurrent},
			expected: "print(smub.measure.i())\n",
		},
		{
			name:     "read compliance",
			intent:   ReadCompliance{Channel: ChannelA},
			expected: "print(smua.source.compliance)\n",
		},
		{
			name:     "identify",
			intent:   Identify{},
			expected: "*IDN?\n",
		},
		{
			name:   "drain error queue",
			intent: QueryError{},
			expected: "local code, msg, severity, node = errorqueue.next() " +
				"if code then print(string.format('%d|%s|%d|%d', code, msg, severity, node)) end\n",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cmd, err := Encode(test.intent)
			require.NoError(t, err)
			require.Equal(t, test.expected, string(cmd))
		})
	}
}

func TestEncodeUtilityCommands(t *testing.T) {
	tests := []struct {
		name     string
		intent   Intent
		expected string
	}{
		{name: "reset instrument", intent: Reset{}, expected: "*RST\n"},
		{name: "reset channel", intent: ResetChannel{Channel: ChannelB}, expected: "smub.reset()\n"},
		{name: "beeper on", intent: SetBeeper{On: true}, expected: "beeper.enable = 1\n"},
		{name: "beeper off", intent: SetBeeper{On: false}, expected: "beeper.enable = 0\n"},
		{
			name:     "beep",
			intent:   Beep{Duration: 0.15, Frequency: 1200},
			expected: "beeper.beep(0.15, 1200)\n",
		},
		{
			name:     "display screen",
			intent:   SetDisplayScreen{Channel: ChannelA},
			expected: "display.screen = display.SMUA\n",
		},
		{
			name:     "display measure func",
			intent:   SetDisplayMeasure{Channel: ChannelA, Func: SourceVoltage},
			expected: "smua.display.measure.func = smua.MEASURE_DCVOLTS\n",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cmd, err := Encode(test.intent)
			require.NoError(t, err)
			require.Equal(t, test.expected, string(cmd))
		})
	}
}

func TestEncodeRejectsInvalidValues(t *testing.T) {
	t.Run("nan level", func(t *testing.T) {
		_, err := Encode(SetSourceLevel{Channel: ChannelA, Func: SourceVoltage, Value: math.NaN()})
		require.ErrorIs(t, err, ErrInvalidValue)
	})

	t.Run("infinite compliance", func(t *testing.T) {
		_, err := Encode(SetCompliance{Channel: ChannelA, Func: SourceVoltage, Value: math.Inf(1)})
		require.ErrorIs(t, err, ErrInvalidValue)
	})

	t.Run("negative beep duration", func(t *testing.T) {
		_, err := Encode(Beep{Duration: -1, Frequency: 1200})
		require.ErrorIs(t, err, ErrInvalidValue)
	})

	t.Run("invalid channel", func(t *testing.T) {
		_, err := Encode(SetSourceLevel{Channel: Channel(7), Func: SourceVoltage, Value: 1})
		require.ErrorIs(t, err, ErrInvalidChannel)
	})
}

func TestIntentIdempotence(t *testing.T) {
	idempotent := []Intent{
		SetSourceLevel{}, SetCompliance{}, SetSourceFunc{}, SetAutorange{},
		Measure{}, ReadCompliance{}, QueryError{}, Identify{}, Reset{},
		ResetChannel{}, SetBeeper{}, SetDisplayScreen{}, SetDisplayMeasure{},
	}
	for _, intent := range idempotent {
		require.True(t, intent.Idempotent(), "%T should be idempotent", intent)
	}

	require.False(t, EnableOutput{}.Idempotent())
	require.False(t, Beep{}.Idempotent())
}
