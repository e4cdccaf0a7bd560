package smu

import (
	"fmt"

	"github.com/smulab/go-smu/tsp"
)

// ChannelState is the pure in-memory model of one SMU channel: source mode,
// setpoint, compliance status, and last-known measurement. It performs no
// I/O; the Session mutates it only from the serialized command path after the
// instrument acknowledged the corresponding command.
type ChannelState struct {
	ch tsp.Channel

	sourceFunc      tsp.SourceFunc
	level           float64
	complianceLimit float64

	measured    float64
	hasMeasured bool

	inCompliance bool
	outputOn     bool
}

func newChannelState(ch tsp.Channel) *ChannelState {
	return &ChannelState{ch: ch}
}

// ApplySourceLevel records an acknowledged setpoint. It fails with
// ErrChannelDisabled while the output is off: a level change must be
// preceded by an explicit output enable, which prevents accidental
// energizing.
func (s *ChannelState) ApplySourceLevel(fn tsp.SourceFunc, value float64) error {
	if !s.outputOn {
		return fmt.Errorf("%w: channel %s", ErrChannelDisabled, s.ch)
	}

	s.sourceFunc = fn
	s.level = value

	return nil
}

// ApplyMeasurement records a fresh measurement and its compliance flag.
// The compliance latch is set by a tripped measurement and cleared only by a
// fresh measurement below the threshold; changing the setpoint does not
// clear it.
func (s *ChannelState) ApplyMeasurement(value float64, compliance bool) {
	s.measured = value
	s.hasMeasured = true
	s.inCompliance = compliance
}

// ApplyCompliance latches the compliance flag from a standalone compliance
// read. The latch clears only through ApplyMeasurement with a fresh in-range
// reading.
func (s *ChannelState) ApplyCompliance(tripped bool) {
	if tripped {
		s.inCompliance = true
	}
}

// SetSourceFunc records an acknowledged source function change.
func (s *ChannelState) SetSourceFunc(fn tsp.SourceFunc) {
	s.sourceFunc = fn
}

// SetComplianceLimit records an acknowledged hardware compliance limit.
func (s *ChannelState) SetComplianceLimit(value float64) {
	s.complianceLimit = value
}

// SetOutput records an acknowledged output relay change.
func (s *ChannelState) SetOutput(on bool) {
	s.outputOn = on
}

// Disable forces the channel's output off. Used on every transition to
// Standby, regardless of prior state.
func (s *ChannelState) Disable() {
	s.outputOn = false
}

// OutputEnabled reports the output relay state.
func (s *ChannelState) OutputEnabled() bool { return s.outputOn }

// Level returns the last acknowledged source level.
func (s *ChannelState) Level() float64 { return s.level }

// SourceFunc returns the channel's source function.
func (s *ChannelState) SourceFunc() tsp.SourceFunc { return s.sourceFunc }

// Snapshot returns a read-only copy of the channel state.
func (s *ChannelState) Snapshot() Snapshot {
	snap := Snapshot{
		Channel:         s.ch,
		SourceFunc:      s.sourceFunc,
		Level:           s.level,
		ComplianceLimit: s.complianceLimit,
		InCompliance:    s.inCompliance,
		OutputEnabled:   s.outputOn,
	}
	if s.hasMeasured {
		v := s.measured
		snap.Measured = &v
	}

	return snap
}

// Snapshot is a read-only view of a channel's state, safe to hand to
// subscribers outside the session.
type Snapshot struct {
	Channel         tsp.Channel
	SourceFunc      tsp.SourceFunc
	Level           float64
	ComplianceLimit float64
	// Measured is the last measurement, nil before the first one.
	Measured      *float64
	InCompliance  bool
	OutputEnabled bool
}
