package tsp

import (
	"fmt"
	"strconv"
	"strings"
)

// Reply is a decoded instrument response. Exactly the fields implied by Kind
// are meaningful.
type Reply struct {
	Kind ReplyKind

	// Value holds the reading for ReplyNumeric.
	Value float64
	// Flag holds the boolean for ReplyFlag.
	Flag bool
	// Identity holds the identification string for ReplyIdentity.
	Identity string
	// Entry holds the decoded queue entry for ReplyErrorEntry; nil means the
	// queue was empty.
	Entry *ErrorEntry
}

// Decode validates raw response bytes against the expected reply kind and
// returns the typed reply. A shape mismatch fails with ErrMalformedReply
// (or ErrUnexpectedReply for commands that must not produce output); it is
// never silently defaulted.
func Decode(resp []byte, kind ReplyKind) (Reply, error) {
	s := strings.TrimRight(string(resp), "\r\n")
	s = strings.TrimSpace(s)

	reply := Reply{Kind: kind}

	switch kind {
	case ReplyNone:
		if s != "" {
			return reply, fmt.Errorf("%w: %q", ErrUnexpectedReply, s)
		}

	case ReplyNumeric:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return reply, fmt.Errorf("%w: not numeric: %q", ErrMalformedReply, s)
		}
		reply.Value = v

	case ReplyFlag:
		switch s {
		case "1", "true", "True":
			reply.Flag = true
		case "0", "false", "False":
			reply.Flag = false
		default:
			return reply, fmt.Errorf("%w: not a flag: %q", ErrMalformedReply, s)
		}

	case ReplyIdentity:
		if s == "" {
			return reply, fmt.Errorf("%w: empty identity", ErrMalformedReply)
		}
		reply.Identity = s

	case ReplyErrorEntry:
		if s == "" {
			return reply, nil // queue empty
		}
		entry, err := parseErrorEntry(s)
		if err != nil {
			return reply, err
		}
		reply.Entry = entry

	default:
		return reply, fmt.Errorf("%w: unknown reply kind %d", ErrMalformedReply, kind)
	}

	return reply, nil
}

// parseErrorEntry parses "code|message|severity|node". The message may itself
// contain pipes, so the code is taken from the front and severity/node from
// the back.
func parseErrorEntry(s string) (*ErrorEntry, error) {
	head, rest, ok := strings.Cut(s, "|")
	if !ok {
		return nil, fmt.Errorf("%w: error entry %q", ErrMalformedReply, s)
	}

	code, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil {
		return nil, fmt.Errorf("%w: error code in %q", ErrMalformedReply, s)
	}

	nodeIdx := strings.LastIndex(rest, "|")
	if nodeIdx < 0 {
		return nil, fmt.Errorf("%w: error entry %q", ErrMalformedReply, s)
	}
	node, err := strconv.Atoi(strings.TrimSpace(rest[nodeIdx+1:]))
	if err != nil {
		return nil, fmt.Errorf("%w: error node in %q", ErrMalformedReply, s)
	}

	rest = rest[:nodeIdx]
	sevIdx := strings.LastIndex(rest, "|")
	if sevIdx < 0 {
		return nil, fmt.Errorf("%w: error entry %q", ErrMalformedReply, s)
	}
	severity, err := strconv.Atoi(strings.TrimSpace(rest[sevIdx+1:]))
	if err != nil {
		return nil, fmt.Errorf("%w: error severity in %q", ErrMalformedReply, s)
	}

	return &ErrorEntry{
		Code:     code,
		Message:  rest[:sevIdx],
		Severity: severity,
		Node:     node,
	}, nil
}
