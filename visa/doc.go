// Package visa provides the byte-oriented transport layer between the SMU
// session and a physical or simulated instrument.
//
// A Transport is a plain request/response channel selected from a resource
// identifier: GPIB-style VISA resource strings ("GPIB0::26::INSTR") map to a
// TCP connection through a GPIB-LAN gateway, while simulator identifiers
// ("sim://2612") map to an in-process Simulator that accepts the same command
// strings and produces syntactically identical responses.
//
// Conn wraps a Transport with the policies the bus itself cannot provide:
// a connection state machine with change notification, bounded exponential
// backoff on connect, a single-flight discipline so exactly one command is
// outstanding at a time, per-command timeouts, and an at-most-once blind
// retry restricted to idempotent-classified commands.
package visa
