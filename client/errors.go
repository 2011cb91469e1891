// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"errors"
	"fmt"
)

// Client errors.
var (
	// Configuration errors.
	ErrNilOptions       = errors.New("options cannot be nil")
	ErrInvalidLimits    = errors.New("max channels cannot be negative")
	ErrInvalidRateLimit = errors.New("publish rate and burst must be positive")

	// Connection errors.
	ErrInvalidAddress   = errors.New("invalid broker address")
	ErrNotConnected     = errors.New("client not connected")
	ErrAlreadyConnected = errors.New("client already connected")
	ErrConnectFailed    = errors.New("connection failed")
	ErrConnectionLost   = errors.New("connection lost")
	ErrClientClosed     = errors.New("client has been closed")

	// Subscription errors.
	ErrInvalidChannel  = errors.New("invalid channel")
	ErrNilHandler      = errors.New("handler cannot be nil")
	ErrNotSubscribed   = errors.New("channel not subscribed")
	ErrTooManyChannels = errors.New("maximum subscribed channels exceeded")

	// Publish errors.
	ErrRateLimited = errors.New("publish rate limit exceeded")

	// ErrTransport matches every *TransportError via errors.Is.
	ErrTransport = errors.New("transport failure")
)

// TransportError is an I/O failure reported by the transport.
type TransportError struct {
	Op  string // publish, subscribe, unsubscribe, receive, close
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrTransport) true for any TransportError.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// ConnectionError is returned by Connect and Disconnect.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("connection: %v", e.Err)
	}
	return fmt.Sprintf("connection to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SubscribeError is returned by Subscribe and Unsubscribe.
type SubscribeError struct {
	Channel string
	Err     error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscription %q: %v", e.Channel, e.Err)
}

func (e *SubscribeError) Unwrap() error { return e.Err }

// PublishError is returned by Publish.
type PublishError struct {
	Channel string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %q: %v", e.Channel, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }
