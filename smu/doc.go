// Package smu implements the instrument session and safety-limited
// automation engine for a dual-channel source-measure unit.
//
// A Session owns the only connection to the instrument and composes the
// per-channel state models, the safety governor, and the automation engine.
// Every intent, whether issued directly by an operator or by a running ramp
// or sweep, flows through one serialized command path:
//
//	intent → Validate (safety governor) → tsp.Encode → visa.Conn.Exchange →
//	tsp.Decode → ChannelState update → subscriber notification
//
// The governor is the single enforcement chokepoint: an intent that violates
// the configured soft limits or the session operating mode is rejected
// before any bytes reach the transport. Any transport or reply-parsing fault
// forces the session back to Standby, the fail-safe target, before the error
// is surfaced.
package smu
