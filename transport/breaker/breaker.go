// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package breaker wraps transport sessions with a circuit breaker so a
// failing broker is not hammered with writes.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/absmach/redpub/transport"
	"github.com/sony/gobreaker"
)

// Default values.
const (
	DefaultFailureThreshold = 5
	DefaultResetTimeout     = 30 * time.Second
)

// Settings configures the breaker.
type Settings struct {
	Name             string
	FailureThreshold int           // consecutive failures that open the breaker
	ResetTimeout     time.Duration // time spent open before a trial request
	Logger           *slog.Logger
}

func (s Settings) withDefaults() Settings {
	if s.Name == "" {
		s.Name = "redpub"
	}
	if s.FailureThreshold < 1 {
		s.FailureThreshold = DefaultFailureThreshold
	}
	if s.ResetTimeout <= 0 {
		s.ResetTimeout = DefaultResetTimeout
	}
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	return s
}

func newCircuitBreaker(s Settings) *gobreaker.CircuitBreaker {
	threshold := uint32(s.FailureThreshold)
	logger := s.Logger
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     s.ResetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation says nothing about broker health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("transport circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}

// Conn is a transport.Conn whose writes go through a circuit breaker.
// Receive and Close are passed straight through.
type Conn struct {
	transport.Conn
	cb *gobreaker.CircuitBreaker
}

var _ transport.Conn = (*Conn)(nil)

// Wrap returns conn guarded by a new breaker.
func Wrap(conn transport.Conn, s Settings) *Conn {
	return &Conn{
		Conn: conn,
		cb:   newCircuitBreaker(s.withDefaults()),
	}
}

// State returns the breaker state.
func (c *Conn) State() gobreaker.State {
	return c.cb.State()
}

func (c *Conn) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	res, err := c.cb.Execute(func() (interface{}, error) {
		return c.Conn.Publish(ctx, channel, payload)
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

func (c *Conn) Subscribe(ctx context.Context, channel string) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.Conn.Subscribe(ctx, channel)
	})
	return err
}

func (c *Conn) Unsubscribe(ctx context.Context, channel string) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, c.Conn.Unsubscribe(ctx, channel)
	})
	return err
}

// WrapDialer returns a Dialer whose sessions are each wrapped with their own
// breaker.
func WrapDialer(d transport.Dialer, s Settings) transport.Dialer {
	s = s.withDefaults()
	return transport.DialerFunc(func(ctx context.Context, addr string) (transport.Conn, error) {
		conn, err := d.Dial(ctx, addr)
		if err != nil {
			return nil, err
		}
		return Wrap(conn, s), nil
	})
}
