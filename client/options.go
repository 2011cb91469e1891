// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"log/slog"

	"github.com/absmach/redpub/ratelimit"
	"github.com/absmach/redpub/transport"
	"github.com/absmach/redpub/transport/breaker"
	"github.com/absmach/redpub/transport/redis"
)

// Default values.
const (
	DefaultHost        = "127.0.0.1"
	DefaultPort        = 6379
	DefaultMaxChannels = 100
)

// Options configures the pub/sub client.
type Options struct {
	// Transport
	Dialer  transport.Dialer  // Session factory (nil = Redis dialer built from Redis)
	Redis   redis.Options     // Used only when Dialer is nil
	Breaker *breaker.Settings // Circuit breaker around writes (nil = disabled)

	// Limits
	MaxChannels  int              // Maximum subscribed channels (0 = unlimited)
	PublishLimit ratelimit.Config // Per-channel publish rate

	// Callbacks
	OnConnect        func()      // Called on successful connection
	OnConnectionLost func(error) // Called when the receive loop loses the connection

	// Observability
	Logger   *slog.Logger // nil = slog.Default()
	Observer Observer     // nil = no-op
}

// NewOptions creates Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		MaxChannels:  DefaultMaxChannels,
		PublishLimit: ratelimit.DefaultConfig(),
	}
}

// SetDialer sets the transport dialer.
func (o *Options) SetDialer(d transport.Dialer) *Options {
	o.Dialer = d
	return o
}

// SetRedis sets the options of the default Redis dialer.
func (o *Options) SetRedis(opts redis.Options) *Options {
	o.Redis = opts
	return o
}

// SetBreaker enables the circuit breaker around transport writes.
func (o *Options) SetBreaker(s breaker.Settings) *Options {
	o.Breaker = &s
	return o
}

// SetMaxChannels sets the maximum number of subscribed channels.
func (o *Options) SetMaxChannels(n int) *Options {
	o.MaxChannels = n
	return o
}

// SetPublishLimit sets the per-channel publish rate limit.
func (o *Options) SetPublishLimit(cfg ratelimit.Config) *Options {
	o.PublishLimit = cfg
	return o
}

// SetOnConnect sets the connection callback.
func (o *Options) SetOnConnect(fn func()) *Options {
	o.OnConnect = fn
	return o
}

// SetOnConnectionLost sets the connection lost callback.
func (o *Options) SetOnConnectionLost(fn func(error)) *Options {
	o.OnConnectionLost = fn
	return o
}

// SetLogger sets the logger.
func (o *Options) SetLogger(l *slog.Logger) *Options {
	o.Logger = l
	return o
}

// SetObserver sets the lifecycle and traffic observer.
func (o *Options) SetObserver(obs Observer) *Options {
	o.Observer = obs
	return o
}

// Validate checks the options for errors.
func (o *Options) Validate() error {
	if o.MaxChannels < 0 {
		return ErrInvalidLimits
	}
	if o.PublishLimit.Enabled && (o.PublishLimit.Rate <= 0 || o.PublishLimit.Burst <= 0) {
		return ErrInvalidRateLimit
	}
	return nil
}

func (o *Options) dialer(logger *slog.Logger) transport.Dialer {
	d := o.Dialer
	if d == nil {
		ro := o.Redis
		if ro.Logger == nil {
			ro.Logger = logger
		}
		d = redis.NewDialer(ro)
	}
	if o.Breaker != nil {
		s := *o.Breaker
		if s.Logger == nil {
			s.Logger = logger
		}
		d = breaker.WrapDialer(d, s)
	}
	return d
}
