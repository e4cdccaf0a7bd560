package visa

import (
	"fmt"
	"strconv"
	"strings"
)

// ResourceID names a transport endpoint: either an in-process simulator
// ("sim://<name>") or a GPIB instrument behind a VISA-style resource string
// ("GPIB<bus>::<address>::INSTR"). A ResourceID is immutable once a
// connection is opened on it.
type ResourceID struct {
	raw  string
	sim  bool
	name string // simulator name
	bus  int    // GPIB bus number
	addr int    // GPIB primary address
}

// ParseResource parses and validates a resource identifier string.
func ParseResource(s string) (ResourceID, error) {
	trimmed := strings.TrimSpace(s)

	if name, ok := strings.CutPrefix(strings.ToLower(trimmed), "sim://"); ok {
		if name == "" {
			return ResourceID{}, fmt.Errorf("%w: empty simulator name in %q", ErrInvalidResource, s)
		}
		return ResourceID{raw: trimmed, sim: true, name: name}, nil
	}

	parts := strings.Split(trimmed, "::")
	if len(parts) != 3 || !strings.EqualFold(parts[2], "INSTR") {
		return ResourceID{}, fmt.Errorf("%w: %q", ErrInvalidResource, s)
	}

	busStr, ok := strings.CutPrefix(strings.ToUpper(parts[0]), "GPIB")
	if !ok {
		return ResourceID{}, fmt.Errorf("%w: %q is not a GPIB resource", ErrInvalidResource, s)
	}
	bus, err := strconv.Atoi(busStr)
	if err != nil || bus < 0 {
		return ResourceID{}, fmt.Errorf("%w: bad bus number in %q", ErrInvalidResource, s)
	}

	addr, err := strconv.Atoi(parts[1])
	if err != nil || addr < 0 || addr > 30 {
		return ResourceID{}, fmt.Errorf("%w: bad GPIB address in %q", ErrInvalidResource, s)
	}

	return ResourceID{raw: trimmed, bus: bus, addr: addr}, nil
}

// IsSimulated reports whether the resource names the in-process simulator.
func (r ResourceID) IsSimulated() bool { return r.sim }

// SimName returns the simulator name for simulator resources.
func (r ResourceID) SimName() string { return r.name }

// Bus returns the GPIB bus number for hardware resources.
func (r ResourceID) Bus() int { return r.bus }

// Addr returns the GPIB primary address for hardware resources.
func (r ResourceID) Addr() int { return r.addr }

// String returns the resource identifier as given.
func (r ResourceID) String() string { return r.raw }
