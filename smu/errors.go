package smu

import (
	"errors"
	"fmt"

	"github.com/smulab/go-smu/tsp"
)

var (
	// ErrLimitExceeded indicates an intent whose magnitude would exceed a
	// channel's configured soft limit. Never retried or overridden.
	ErrLimitExceeded = errors.New("smu: safety limit exceeded")

	// ErrNotActive indicates an energizing intent issued while the session
	// is in Standby.
	ErrNotActive = errors.New("smu: session is in standby")

	// ErrLimitsUnset indicates an attempt to drive, or enter Active mode
	// for, a channel without configured safety limits.
	ErrLimitsUnset = errors.New("smu: safety limits not configured")

	// ErrNotStandby indicates a safety-limit mutation while the session is
	// active; limits are mutable only in Standby.
	ErrNotStandby = errors.New("smu: safety limits are immutable while active")

	// ErrInvalidLimits indicates a safety-limit value that is negative or
	// not finite.
	ErrInvalidLimits = errors.New("smu: invalid safety limits")

	// ErrChannelDisabled indicates a source-level mutation on a channel
	// whose output is disabled without an explicit enable request.
	ErrChannelDisabled = errors.New("smu: channel output is disabled")

	// ErrRunActive indicates a new automation run requested on a channel
	// that already has a non-terminal run. Runs never queue or preempt.
	ErrRunActive = errors.New("smu: automation run already active on channel")

	// ErrNoRun indicates a run operation on a channel with no run.
	ErrNoRun = errors.New("smu: no automation run on channel")

	// ErrInvalidRunTransition indicates a pause/resume request that is not
	// valid for the run's current status.
	ErrInvalidRunTransition = errors.New("smu: invalid run state transition")

	// ErrInvalidRunParams indicates malformed ramp or sweep parameters.
	ErrInvalidRunParams = errors.New("smu: invalid run parameters")

	// ErrSessionClosed indicates an operation on a closed session.
	ErrSessionClosed = errors.New("smu: session closed")
)

// LimitError reports a rejected intent with enough context to diagnose it
// without raw instrument logs. It matches ErrLimitExceeded via errors.Is.
type LimitError struct {
	Channel  tsp.Channel
	Quantity tsp.SourceFunc
	Value    float64
	Limit    float64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("smu: channel %s: %s magnitude %g exceeds soft limit %g",
		e.Channel, e.Quantity, e.Value, e.Limit)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrLimitExceeded
}
