package tsp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// errorQueueNext is the drain command for the instrument error queue. The
// reply is "code|message|severity|node" for one entry, or an empty line when
// the queue is empty. The grammar is a fixed firmware contract.
const errorQueueNext = "local code, msg, severity, node = errorqueue.next() " +
	"if code then print(string.format('%d|%s|%d|%d', code, msg, severity, node)) end"

// terminator ends every command line on the wire.
const terminator = "\n"

// Encode translates an intent into the exact command bytes for the
// instrument, including the line terminator.
//
// Numeric values are formatted with an explicit sign and six-digit scientific
// precision; NaN and infinite values fail with ErrInvalidValue before any
// bytes are produced.
func Encode(intent Intent) ([]byte, error) {
	if ch, ok := IntentChannel(intent); ok && !ch.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidChannel, uint8(ch))
	}

	e := &encoder{}
	intent.encode(e)
	if e.err != nil {
		return nil, e.err
	}

	e.sb.WriteString(terminator)

	return []byte(e.sb.String()), nil
}

// encoder builds one command line with sticky error semantics.
type encoder struct {
	sb  strings.Builder
	err error
}

func (e *encoder) str(parts ...string) {
	if e.err != nil {
		return
	}
	for _, p := range parts {
		e.sb.WriteString(p)
	}
}

// num appends a numeric value in the instrument's fixed format.
func (e *encoder) num(v float64) {
	if e.err != nil {
		return
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		e.err = fmt.Errorf("%w: %v", ErrInvalidValue, v)
		return
	}
	e.sb.WriteString(fmt.Sprintf("%+.6e", v))
}

func (in SetSourceLevel) encode(e *encoder) {
	e.str(in.Channel.Alias(), ".source.", in.Func.levelAttr(), " = ")
	e.num(in.Value)
}

func (in SetCompliance) encode(e *encoder) {
	e.str(in.Channel.Alias(), ".source.", in.Func.limitAttr(), " = ")
	e.num(in.Value)
}

func (in SetSourceFunc) encode(e *encoder) {
	alias := in.Channel.Alias()
	e.str(alias, ".source.func = ", alias, ".", in.Func.outputFunc())
}

func (in SetAutorange) encode(e *encoder) {
	alias := in.Channel.Alias()
	state := "AUTORANGE_OFF"
	if in.On {
		state = "AUTORANGE_ON"
	}
	e.str(alias, ".source.", in.Func.autorangeAttr(), " = ", alias, ".", state)
}

func (in EnableOutput) encode(e *encoder) {
	alias := in.Channel.Alias()
	state := "OUTPUT_OFF"
	if in.On {
		state = "OUTPUT_ON"
	}
	e.str(alias, ".source.output = ", alias, ".", state)
}

func (in Measure) encode(e *encoder) {
	e.str("print(", in.Channel.Alias(), ".measure.", in.Func.measureExpr(), ")")
}

func (in ReadCompliance) encode(e *encoder) {
	e.str("print(", in.Channel.Alias(), ".source.compliance)")
}

func (QueryError) encode(e *encoder) {
	e.str(errorQueueNext)
}

func (Identify) encode(e *encoder) {
	e.str("*IDN?")
}

func (Reset) encode(e *encoder) {
	e.str("*RST")
}

func (in ResetChannel) encode(e *encoder) {
	e.str(in.Channel.Alias(), ".reset()")
}

func (in SetBeeper) encode(e *encoder) {
	if in.On {
		e.str("beeper.enable = 1")
	} else {
		e.str("beeper.enable = 0")
	}
}

func (in Beep) encode(e *encoder) {
	if math.IsNaN(in.Duration) || math.IsInf(in.Duration, 0) || in.Duration < 0 {
		e.err = fmt.Errorf("%w: beep duration %v", ErrInvalidValue, in.Duration)
		return
	}
	e.str("beeper.beep(", strconv.FormatFloat(in.Duration, 'g', -1, 64),
		", ", strconv.Itoa(in.Frequency), ")")
}

func (in SetDisplayScreen) encode(e *encoder) {
	e.str("display.screen = display.", strings.ToUpper(in.Channel.Alias()))
}

func (in SetDisplayMeasure) encode(e *encoder) {
	alias := in.Channel.Alias()
	e.str(alias, ".display.measure.func = ", alias, ".", in.Func.measureFunc())
}
