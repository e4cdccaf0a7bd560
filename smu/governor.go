package smu

import (
	"math"

	"github.com/smulab/go-smu/tsp"
)

// Validate checks an intent against the channel's configured soft limits and
// the session operating mode. It is a pure function with no side effects,
// called before every encode; there is no path to the transport that skips
// it.
//
// Energizing intents (setpoints, output enable) require Active mode and
// configured limits; a magnitude beyond the soft limit fails with a
// LimitError matching ErrLimitExceeded. Disabling an output is always
// permitted. Configuration and read intents are valid in either mode.
func Validate(intent tsp.Intent, limits SafetyLimits, mode OperatingMode) error {
	switch in := intent.(type) {
	case tsp.SetSourceLevel:
		if mode != Active {
			return ErrNotActive
		}
		if !limits.Configured() {
			return ErrLimitsUnset
		}
		return checkMagnitude(in.Channel, in.Func, in.Value, limits)

	case tsp.EnableOutput:
		if !in.On {
			return nil // de-energizing is always permitted
		}
		if mode != Active {
			return ErrNotActive
		}
		if !limits.Configured() {
			return ErrLimitsUnset
		}
		return nil

	case tsp.SetCompliance:
		if !limits.Configured() {
			return nil
		}
		// The compliance limit bounds the complementary quantity.
		complementary := tsp.SourceCurrent
		if in.Func == tsp.SourceCurrent {
			complementary = tsp.SourceVoltage
		}
		return checkMagnitude(in.Channel, complementary, in.Value, limits)

	default:
		return nil
	}
}

func checkMagnitude(ch tsp.Channel, quantity tsp.SourceFunc, value float64, limits SafetyLimits) error {
	limit := limits.MaxVoltage
	if quantity == tsp.SourceCurrent {
		limit = limits.MaxCurrent
	}

	if math.Abs(value) > limit {
		return &LimitError{Channel: ch, Quantity: quantity, Value: value, Limit: limit}
	}

	return nil
}
