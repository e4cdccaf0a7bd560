package tsp

// ReplyKind describes the reply shape the instrument produces for a command.
type ReplyKind uint8

const (
	// ReplyNone means the command produces no reply line.
	ReplyNone ReplyKind = iota
	// ReplyNumeric means the reply is a single floating-point number.
	ReplyNumeric
	// ReplyFlag means the reply is a boolean flag (0/1 or true/false).
	ReplyFlag
	// ReplyIdentity means the reply is a free-form identification string.
	ReplyIdentity
	// ReplyErrorEntry means the reply is one error-queue entry, or an empty
	// line when the queue is empty.
	ReplyErrorEntry
)

// String returns the reply kind name.
func (k ReplyKind) String() string {
	switch k {
	case ReplyNone:
		return "none"
	case ReplyNumeric:
		return "numeric"
	case ReplyFlag:
		return "flag"
	case ReplyIdentity:
		return "identity"
	case ReplyErrorEntry:
		return "error-entry"
	default:
		return "unknown"
	}
}

// Intent is a typed instrument command before encoding. The set of intents is
// closed; every variant is defined in this package.
//
// Idempotent classifies whether a transport layer may blindly resend the
// encoded command once after an I/O fault: reads and pure setpoint writes
// are safe to repeat, while commands with cumulative or observable side
// effects (output toggles, resets with sequencing implications, beeps) are
// not.
type Intent interface {
	// ReplyKind reports the reply shape the instrument produces for the
	// encoded command.
	ReplyKind() ReplyKind
	// Idempotent reports whether the encoded command is safe to resend
	// blindly after a transport fault.
	Idempotent() bool

	encode(e *encoder)
}

// SetSourceLevel sets the source level of a channel for the given source
// function.
type SetSourceLevel struct {
	Channel Channel
	Func    SourceFunc
	Value   float64
}

func (SetSourceLevel) ReplyKind() ReplyKind { return ReplyNone }
func (SetSourceLevel) Idempotent() bool     { return true }

// SetCompliance sets the hardware compliance limit of a channel. Func is the
// channel's source function; the limit applies to the complementary quantity.
type SetCompliance struct {
	Channel Channel
	Func    SourceFunc
	Value   float64
}

func (SetCompliance) ReplyKind() ReplyKind { return ReplyNone }
func (SetCompliance) Idempotent() bool     { return true }

// SetSourceFunc selects the source function of a channel.
type SetSourceFunc struct {
	Channel Channel
	Func    SourceFunc
}

func (SetSourceFunc) ReplyKind() ReplyKind { return ReplyNone }
func (SetSourceFunc) Idempotent() bool     { return true }

// SetAutorange enables or disables source autoranging for a channel.
type SetAutorange struct {
	Channel Channel
	Func    SourceFunc
	On      bool
}

func (SetAutorange) ReplyKind() ReplyKind { return ReplyNone }
func (SetAutorange) Idempotent() bool     { return true }

// EnableOutput switches a channel's output relay on or off.
type EnableOutput struct {
	Channel Channel
	On      bool
}

func (EnableOutput) ReplyKind() ReplyKind { return ReplyNone }

// Idempotent is false: energizing is never resent blindly.
func (EnableOutput) Idempotent() bool { return false }

// Measure reads the measured value of a channel. Func is the channel's source
// function; the instrument measures that quantity's display reading.
type Measure struct {
	Channel Channel
	Func    SourceFunc
}

func (Measure) ReplyKind() ReplyKind { return ReplyNumeric }
func (Measure) Idempotent() bool     { return true }

// ReadCompliance queries whether a channel's output is clamped at its
// hardware compliance limit.
type ReadCompliance struct {
	Channel Channel
}

func (ReadCompliance) ReplyKind() ReplyKind { return ReplyFlag }
func (ReadCompliance) Idempotent() bool     { return true }

// QueryError pops one entry from the instrument error queue.
type QueryError struct{}

func (QueryError) ReplyKind() ReplyKind { return ReplyErrorEntry }
func (QueryError) Idempotent() bool     { return true }

// Identify requests the instrument identification string.
type Identify struct{}

func (Identify) ReplyKind() ReplyKind { return ReplyIdentity }
func (Identify) Idempotent() bool     { return true }

// Reset restores the whole instrument to its power-on defaults.
type Reset struct{}

func (Reset) ReplyKind() ReplyKind { return ReplyNone }
func (Reset) Idempotent() bool     { return true }

// ResetChannel restores a single channel to its power-on defaults.
type ResetChannel struct {
	Channel Channel
}

func (ResetChannel) ReplyKind() ReplyKind { return ReplyNone }
func (ResetChannel) Idempotent() bool     { return true }

// SetBeeper enables or disables the instrument beeper.
type SetBeeper struct {
	On bool
}

func (SetBeeper) ReplyKind() ReplyKind { return ReplyNone }
func (SetBeeper) Idempotent() bool     { return true }

// Beep sounds the beeper for Duration seconds at Frequency hertz.
type Beep struct {
	Duration  float64
	Frequency int
}

func (Beep) ReplyKind() ReplyKind { return ReplyNone }
func (Beep) Idempotent() bool     { return false }

// SetDisplayScreen brings a channel's panel to the front display.
type SetDisplayScreen struct {
	Channel Channel
}

func (SetDisplayScreen) ReplyKind() ReplyKind { return ReplyNone }
func (SetDisplayScreen) Idempotent() bool     { return true }

// SetDisplayMeasure selects the quantity shown on a channel's display.
type SetDisplayMeasure struct {
	Channel Channel
	Func    SourceFunc
}

func (SetDisplayMeasure) ReplyKind() ReplyKind { return ReplyNone }
func (SetDisplayMeasure) Idempotent() bool     { return true }

// IntentChannel returns the channel an intent addresses, if any.
func IntentChannel(intent Intent) (Channel, bool) {
	switch in := intent.(type) {
	case SetSourceLevel:
		return in.Channel, true
	case SetCompliance:
		return in.Channel, true
	case SetSourceFunc:
		return in.Channel, true
	case SetAutorange:
		return in.Channel, true
	case EnableOutput:
		return in.Channel, true
	case Measure:
		return in.Channel, true
	case ReadCompliance:
		return in.Channel, true
	case ResetChannel:
		return in.Channel, true
	case SetDisplayScreen:
		return in.Channel, true
	case SetDisplayMeasure:
		return in.Channel, true
	default:
		return ChannelA, false
	}
}
