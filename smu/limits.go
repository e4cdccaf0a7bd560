package smu

import (
	"fmt"
	"math"
)

// SafetyLimits are the per-channel soft limits enforced by the governor
// before any command reaches the transport, independent of the instrument's
// own hardware compliance limit.
//
// A zero limit means the corresponding quantity may not be driven at all.
// Limits are configured per channel while the session is in Standby and are
// immutable while the session is active.
type SafetyLimits struct {
	// MaxVoltage bounds the magnitude of any voltage setpoint, in volts.
	MaxVoltage float64
	// MaxCurrent bounds the magnitude of any current setpoint and of any
	// compliance limit, in amps.
	MaxCurrent float64
}

// Configured reports whether any limit has been set for the channel.
func (l SafetyLimits) Configured() bool {
	return l.MaxVoltage > 0 || l.MaxCurrent > 0
}

func (l SafetyLimits) validate() error {
	for _, v := range []float64{l.MaxVoltage, l.MaxCurrent} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %+v", ErrInvalidLimits, l)
		}
	}
	if !l.Configured() {
		return fmt.Errorf("%w: at least one limit must be positive", ErrInvalidLimits)
	}

	return nil
}

// OperatingMode is the session-wide operating mode.
type OperatingMode uint32

const (
	// Standby is the safe, non-energized mode and the fail-safe target.
	// Entering Standby forces every channel's output off atomically.
	Standby OperatingMode = iota
	// Active permits energizing intents; entry requires configured safety
	// limits on every driven channel.
	Active
)

// String returns the mode name.
func (m OperatingMode) String() string {
	if m == Active {
		return "active"
	}
	return "standby"
}
