package tsp

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidChannel indicates that a channel name could not be parsed or
	// an intent referenced a channel outside {A, B}.
	ErrInvalidChannel = errors.New("tsp: invalid channel")

	// ErrInvalidValue indicates that an intent carried a numeric value that
	// cannot be formatted for the instrument (NaN or infinite).
	ErrInvalidValue = errors.New("tsp: invalid numeric value")

	// ErrMalformedReply indicates that a reply did not match the shape
	// expected for the issued command.
	ErrMalformedReply = errors.New("tsp: malformed reply")

	// ErrUnexpectedReply indicates that the instrument replied to a command
	// that should not produce a reply.
	ErrUnexpectedReply = errors.New("tsp: unexpected reply")
)

// ErrorEntry is one entry drained from the instrument's error queue.
type ErrorEntry struct {
	// Code is the instrument-defined error code, negative for errors.
	Code int
	// Message is the instrument-supplied error description.
	Message string
	// Severity is the instrument-defined severity class.
	Severity int
	// Node identifies the TSP node that raised the error.
	Node int
}

// String returns the entry in the same pipe-separated form the instrument
// reports it.
func (e ErrorEntry) String() string {
	return fmt.Sprintf("%d|%s|%d|%d", e.Code, e.Message, e.Severity, e.Node)
}

// InstrumentError is an error reported by the instrument itself, either as a
// decoded error-queue entry or as a reply-shape fault attributed to firmware.
type InstrumentError struct {
	Entry ErrorEntry
}

func (e *InstrumentError) Error() string {
	return fmt.Sprintf("tsp: instrument error %d (severity %d): %s",
		e.Entry.Code, e.Entry.Severity, e.Entry.Message)
}
