package visa

import (
	"context"
	"fmt"
	"time"
)

// Transport is the byte-oriented request/response channel to an instrument.
//
// RoundTrip sends one command line and, when expectReply is set, reads one
// reply line. The GPIB-style bus has no concept of interleaved replies, so
// callers must never have more than one RoundTrip in flight per transport;
// Conn enforces that discipline.
type Transport interface {
	// Open establishes the underlying connection. A single attempt; retry
	// policy lives in Conn.
	Open(ctx context.Context) error
	// RoundTrip sends cmd and returns the reply line when expectReply is
	// set, or nil for write-only commands.
	RoundTrip(ctx context.Context, cmd []byte, expectReply bool) ([]byte, error)
	// Close releases the underlying connection. Safe to call more than once.
	Close() error
}

// RetryPolicy bounds the transport retry behavior. It is passed into Conn
// explicitly rather than hardcoded at call sites.
type RetryPolicy struct {
	// MaxConnectAttempts bounds connection establishment attempts.
	MaxConnectAttempts uint
	// BaseDelay is the initial backoff delay between connect attempts.
	BaseDelay time.Duration
	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration
	// CommandTimeout bounds one command round trip when the caller's context
	// carries no deadline.
	CommandTimeout time.Duration
	// RetryIdempotent allows one blind resend of an idempotent-classified
	// command after an I/O fault. Commands classified unsafe are never
	// resent regardless.
	RetryIdempotent bool
}

// DefaultRetryPolicy returns the documented defaults: 3 connect attempts
// with 200ms base delay capped at 2s, a 5s command timeout, and one blind
// retry for idempotent commands.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxConnectAttempts: 3,
		BaseDelay:          200 * time.Millisecond,
		MaxDelay:           2 * time.Second,
		CommandTimeout:     5 * time.Second,
		RetryIdempotent:    true,
	}
}

func (p RetryPolicy) validate() error {
	if p.MaxConnectAttempts == 0 {
		return fmt.Errorf("retry policy: max connect attempts must be at least 1")
	}
	if p.BaseDelay <= 0 || p.MaxDelay < p.BaseDelay {
		return fmt.Errorf("retry policy: invalid backoff delays")
	}
	return nil
}

// NewTransport selects the transport variant for a resource: the in-process
// Simulator for sim:// resources, or a gateway-backed transport for GPIB
// resources.
func NewTransport(res ResourceID, opts ...TransportOption) (Transport, error) {
	var cfg transportConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if res.IsSimulated() {
		return NewSimulator(), nil
	}

	return newGatewayTransport(res, cfg), nil
}

type transportConfig struct {
	gatewayAddr string
	dialTimeout time.Duration
}

// TransportOption customizes transport construction.
type TransportOption func(*transportConfig)

// WithGatewayAddr sets the TCP address of the GPIB-LAN gateway used for
// hardware resources. Defaults to 127.0.0.1:1234.
func WithGatewayAddr(addr string) TransportOption {
	return func(cfg *transportConfig) { cfg.gatewayAddr = addr }
}

// WithDialTimeout sets the TCP dial timeout for the gateway transport.
func WithDialTimeout(d time.Duration) TransportOption {
	return func(cfg *transportConfig) { cfg.dialTimeout = d }
}
