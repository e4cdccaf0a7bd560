package visa

import "errors"

var (
	// ErrInvalidResource indicates a resource identifier that is neither a
	// simulator identifier nor a GPIB-style VISA resource string.
	ErrInvalidResource = errors.New("visa: invalid resource identifier")

	// ErrUnreachable indicates that the connect retry budget was exhausted
	// without establishing a connection.
	ErrUnreachable = errors.New("visa: resource unreachable")

	// ErrClosed indicates an operation on a closed connection or transport.
	ErrClosed = errors.New("visa: connection closed")

	// ErrTransport indicates an in-flight I/O fault (timeout, short read,
	// malformed bytes) during a command round trip.
	ErrTransport = errors.New("visa: transport fault")

	// ErrUnsupported indicates a command the simulator cannot model.
	ErrUnsupported = errors.New("visa: simulator does not support command")
)
