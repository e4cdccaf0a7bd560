// Package tsp implements the command codec for the Keithley 2612 TSP
// (Test Script Processor) command language.
//
// The 2612 speaks a line-oriented, whitespace-sensitive textual protocol:
// each command is a single Lua-flavored statement terminated by a newline,
// and queries are expressed as print() statements whose reply is a single
// line of text. The codec translates typed intents into exact command bytes
// and parses typed replies back out of raw response bytes, so everything
// above it is transport-agnostic.
//
// # Command Grammar
//
// Source configuration and control address a channel through its alias
// (smua or smub):
//
//	smua.source.func = smua.OUTPUT_DCVOLTS
//	smua.source.levelv = +3.000000e+00
//	smua.source.limiti = +1.000000e-03
//	smua.source.output = smua.OUTPUT_ON
//
// Queries wrap an expression in print():
//
//	print(smua.measure.v())
//	print(smua.source.compliance)
//
// Instrument-queue errors are drained one entry at a time; each reply line is
// a pipe-separated tuple of code, message, severity and node, or an empty
// line when the queue is empty.
//
// Numeric values are always emitted with an explicit sign and fixed
// six-digit scientific precision. Non-finite values are rejected before any
// bytes are produced.
package tsp
