package visa

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cenkalti/backoff/v5"

	"github.com/smulab/go-smu/logger"
)

// ConnState represents the lifecycle stage of a connection.
type ConnState uint32

const (
	// Disconnected indicates no transport connection exists.
	Disconnected ConnState = iota
	// Connecting indicates connection establishment is in progress.
	Connecting
	// Connected indicates the transport is ready for command exchange.
	Connected
	// Faulted indicates the last exchange failed at the transport level; the
	// connection may recover on a later successful exchange.
	Faulted
)

// String returns the string representation of the state.
func (cs ConnState) String() string {
	switch cs {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// IsConnected reports whether commands can be exchanged in this state.
func (cs ConnState) IsConnected() bool { return cs == Connected || cs == Faulted }

// StateChangeHandler is invoked on connection state changes.
//
// Note: handlers are invoked in blocking mode. Take care with long-running
// implementations.
type StateChangeHandler func(prev ConnState, next ConnState)

// Conn wraps a Transport with the connection state machine, bounded connect
// backoff, per-command timeouts, a single-flight discipline, and the
// idempotent-only blind retry policy.
type Conn struct {
	res    ResourceID
	tr     Transport
	policy RetryPolicy
	logger logger.Logger

	// mu serializes round trips: the bus has exactly one command/response
	// pair in flight.
	mu sync.Mutex

	state  atomic.Uint32
	closed atomic.Bool

	handlerMu sync.Mutex
	handlers  []StateChangeHandler

	metrics ConnMetrics
}

// Dial opens a connection to the transport, retrying with bounded
// exponential backoff per the policy. After exhausting the attempt budget it
// fails with ErrUnreachable; no partially opened connection remains.
func Dial(ctx context.Context, res ResourceID, tr Transport, policy RetryPolicy, log logger.Logger) (*Conn, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.GetLogger()
	}

	c := &Conn{
		res:    res,
		tr:     tr,
		policy: policy,
		logger: log.With("resource", res.String()),
	}
	c.setState(Connecting)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.BaseDelay
	bo.MaxInterval = policy.MaxDelay

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if attempt > 0 {
			c.metrics.incConnRetryGauge()
			c.logger.Warn("reconnect attempt", "attempt", attempt+1)
		}
		attempt++

		return struct{}{}, c.tr.Open(ctx)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(policy.MaxConnectAttempts))
	if err != nil {
		c.setState(Disconnected)
		return nil, fmt.Errorf("%w: %s after %d attempts: %w", ErrUnreachable, res, attempt, err)
	}

	c.setState(Connected)
	c.logger.Info("connection established", "attempts", attempt)

	return c, nil
}

// State returns the current connection state.
func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

// Resource returns the resource identifier the connection was opened on.
func (c *Conn) Resource() ResourceID { return c.res }

// Metrics returns the connection metrics.
func (c *Conn) Metrics() *ConnMetrics { return &c.metrics }

// OnStateChange registers a handler invoked on every state change.
func (c *Conn) OnStateChange(h StateChangeHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	c.handlers = append(c.handlers, h)
}

// WaitState blocks until the connection reaches the wanted state or ctx is
// done.
func (c *Conn) WaitState(ctx context.Context, want ConnState) error {
	reached := make(chan struct{}, 1)
	c.OnStateChange(func(_, next ConnState) {
		if next == want {
			select {
			case reached <- struct{}{}:
			default:
			}
		}
	})

	if c.State() == want {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-reached:
		return nil
	}
}

// Exchange performs one command round trip. Exactly one exchange is in
// flight at a time; concurrent callers are serialized.
//
// On a transport fault the command is resent at most once, and only when the
// caller classified it idempotent and the policy allows blind retries. A
// fault that survives the retry transitions the connection to Faulted and is
// surfaced wrapped in ErrTransport; a later successful exchange recovers the
// connection to Connected.
func (c *Conn) Exchange(ctx context.Context, cmd []byte, expectReply, idempotent bool) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if !c.State().IsConnected() {
		return nil, fmt.Errorf("%w: state %s", ErrClosed, c.State())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Each attempt gets its own timeout budget: a resend after a timed-out
	// first attempt must not inherit the expired deadline.
	attempt := func() ([]byte, error) {
		callCtx := ctx
		if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.policy.CommandTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.policy.CommandTimeout)
			defer cancel()
		}

		c.metrics.incCommandSendCount()

		return c.tr.RoundTrip(callCtx, cmd, expectReply)
	}

	resp, err := attempt()

	if err != nil && ctx.Err() == nil && idempotent && c.policy.RetryIdempotent {
		c.logger.Warn("resending idempotent command after transport fault",
			"cmd", string(cmd), "error", err)
		c.metrics.incRetrySendCount()
		resp, err = attempt()
	}

	if err != nil {
		if ctx.Err() != nil {
			// Caller cancellation, not a bus fault.
			return nil, ctx.Err()
		}
		c.metrics.incFaultCount()
		c.setState(Faulted)

		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if c.State() == Faulted {
		c.setState(Connected)
	}
	if expectReply {
		c.metrics.incReplyRecvCount()
	}

	return resp, nil
}

// Close closes the underlying transport and transitions to Disconnected.
// Safe to call more than once.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	err := c.tr.Close()
	c.setState(Disconnected)
	c.logger.Info("connection closed")

	return err
}

func (c *Conn) setState(next ConnState) {
	prev := ConnState(c.state.Swap(uint32(next)))
	if prev == next {
		return
	}

	c.handlerMu.Lock()
	handlers := make([]StateChangeHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.handlerMu.Unlock()

	for _, h := range handlers {
		if h != nil {
			h(prev, next)
		}
	}
}
