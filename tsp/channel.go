package tsp

import "fmt"

// Channel identifies one of the two SMU channels of the 2612.
type Channel uint8

const (
	// ChannelA is the first SMU channel, addressed as smua.
	ChannelA Channel = iota
	// ChannelB is the second SMU channel, addressed as smub.
	ChannelB
)

// Alias returns the TSP node alias of the channel ("smua" or "smub").
func (c Channel) Alias() string {
	if c == ChannelB {
		return "smub"
	}
	return "smua"
}

// String returns the short human-readable channel name.
func (c Channel) String() string {
	if c == ChannelB {
		return "B"
	}
	return "A"
}

// Valid reports whether the channel is one of the two defined channels.
func (c Channel) Valid() bool {
	return c == ChannelA || c == ChannelB
}

// ParseChannel parses a channel from its short name or TSP alias.
// It accepts "A", "a", "smua" and the channel-B equivalents.
func ParseChannel(s string) (Channel, error) {
	switch s {
	case "A", "a", "smua", "SMUA":
		return ChannelA, nil
	case "B", "b", "smub", "SMUB":
		return ChannelB, nil
	default:
		return ChannelA, fmt.Errorf("%w: %q", ErrInvalidChannel, s)
	}
}

// SourceFunc identifies the quantity a channel sources (the instrument
// measures the complementary quantity).
type SourceFunc uint8

const (
	// SourceVoltage sources DC volts and limits/measures current.
	SourceVoltage SourceFunc = iota
	// SourceCurrent sources DC amps and limits/measures voltage.
	SourceCurrent
)

// String returns the human-readable name of the source function.
func (f SourceFunc) String() string {
	if f == SourceCurrent {
		return "current"
	}
	return "voltage"
}

// outputFunc returns the TSP source.func constant name for f.
func (f SourceFunc) outputFunc() string {
	if f == SourceCurrent {
		return "OUTPUT_DCAMPS"
	}
	return "OUTPUT_DCVOLTS"
}

// measureFunc returns the TSP display.measure.func constant name for f.
func (f SourceFunc) measureFunc() string {
	if f == SourceCurrent {
		return "MEASURE_DCAMPS"
	}
	return "MEASURE_DCVOLTS"
}

// levelAttr returns the source level attribute name for f ("levelv"/"leveli").
func (f SourceFunc) levelAttr() string {
	if f == SourceCurrent {
		return "leveli"
	}
	return "levelv"
}

// limitAttr returns the compliance limit attribute name for f. The limit
// applies to the complementary quantity: a voltage source limits current and
// vice versa.
func (f SourceFunc) limitAttr() string {
	if f == SourceCurrent {
		return "limitv"
	}
	return "limiti"
}

// autorangeAttr returns the source autorange attribute name for f.
func (f SourceFunc) autorangeAttr() string {
	if f == SourceCurrent {
		return "autorangei"
	}
	return "autorangev"
}

// measureExpr returns the measurement function call for f ("v()"/"i()").
func (f SourceFunc) measureExpr() string {
	if f == SourceCurrent {
		return "i()"
	}
	return "v()"
}
