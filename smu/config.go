package smu

import (
	"errors"

	"github.com/smulab/go-smu/logger"
	"github.com/smulab/go-smu/tsp"
	"github.com/smulab/go-smu/visa"
)

// Config carries session construction parameters. Use the WithXXX options to
// customize it; zero values fall back to documented defaults.
type Config struct {
	logger          logger.Logger
	retryPolicy     visa.RetryPolicy
	transport       visa.Transport
	transportOpts   []visa.TransportOption
	drainErrorQueue bool
	defaultLimits   map[tsp.Channel]SafetyLimits
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		logger:        logger.GetLogger(),
		retryPolicy:   visa.DefaultRetryPolicy(),
		defaultLimits: make(map[tsp.Channel]SafetyLimits),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Option represents a functional option for configuring a session.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithLogger sets the logger used by the session and its connection.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("smu: logger is nil")
		}
		cfg.logger = l
		return nil
	})
}

// WithRetryPolicy overrides the transport retry policy.
func WithRetryPolicy(p visa.RetryPolicy) Option {
	return optFunc(func(cfg *Config) error {
		cfg.retryPolicy = p
		return nil
	})
}

// WithTransport injects a transport instead of deriving one from the
// resource identifier. Used by tests and custom gateway setups.
func WithTransport(t visa.Transport) Option {
	return optFunc(func(cfg *Config) error {
		if t == nil {
			return errors.New("smu: transport is nil")
		}
		cfg.transport = t
		return nil
	})
}

// WithTransportOptions forwards options to the transport factory.
func WithTransportOptions(opts ...visa.TransportOption) Option {
	return optFunc(func(cfg *Config) error {
		cfg.transportOpts = append(cfg.transportOpts, opts...)
		return nil
	})
}

// WithErrorQueuePoll drains the instrument error queue after every command;
// a non-empty queue surfaces as an InstrumentError even when the command
// nominally succeeded.
func WithErrorQueuePoll(enabled bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.drainErrorQueue = enabled
		return nil
	})
}

// WithDefaultLimits seeds a channel's safety limits at construction, for
// collaborators that persist limits between sessions. The session still
// starts in Standby.
func WithDefaultLimits(ch tsp.Channel, limits SafetyLimits) Option {
	return optFunc(func(cfg *Config) error {
		if !ch.Valid() {
			return tsp.ErrInvalidChannel
		}
		if err := limits.validate(); err != nil {
			return err
		}
		cfg.defaultLimits[ch] = limits
		return nil
	})
}
