// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the boundary between the pub/sub client core and
// the broker wire protocol. Implementations live in the sub-packages.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by a Conn after Close has been called.
var ErrClosed = errors.New("transport: connection closed")

// Message is a single inbound published message.
type Message struct {
	Channel string
	Payload []byte
}

// Conn is one session with the broker.
//
// Publish, Subscribe and Unsubscribe may be called concurrently with a
// blocked Receive. Receive must return once ctx is done.
type Conn interface {
	// Publish sends payload to channel and returns the number of receivers
	// reported by the broker.
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)

	// Subscribe asks the broker to start delivering messages for channel.
	Subscribe(ctx context.Context, channel string) error

	// Unsubscribe asks the broker to stop delivering messages for channel.
	Unsubscribe(ctx context.Context, channel string) error

	// Receive blocks until the next inbound message arrives.
	Receive(ctx context.Context) (Message, error)

	// Close tears the session down. Calling it more than once is a no-op.
	Close() error
}

// Dialer opens sessions to a broker address (host:port).
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// DialerFunc adapts a plain function to the Dialer interface.
type DialerFunc func(ctx context.Context, addr string) (Conn, error)

// Dial calls f(ctx, addr).
func (f DialerFunc) Dial(ctx context.Context, addr string) (Conn, error) {
	return f(ctx, addr)
}
