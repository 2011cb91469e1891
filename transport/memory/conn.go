// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"

	"github.com/absmach/redpub/transport"
)

var _ transport.Conn = (*Conn)(nil)

// Conn is a session with a Broker. Inbound messages are queued without bound
// so publishers never wait for slow receivers.
type Conn struct {
	id     string
	broker *Broker

	mu       sync.Mutex
	channels map[string]struct{}
	queue    []transport.Message
	err      error
	closed   bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// ID returns the connection identifier assigned by the broker.
func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if err := c.check(ctx); err != nil {
		return 0, err
	}
	return c.broker.publish(channel, payload), nil
}

func (c *Conn) Subscribe(ctx context.Context, channel string) error {
	if err := c.check(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()

	c.broker.subscribe(c, channel)
	return nil
}

func (c *Conn) Unsubscribe(ctx context.Context, channel string) error {
	if err := c.check(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()

	c.broker.unsubscribe(c, channel)
	return nil
}

func (c *Conn) Receive(ctx context.Context) (transport.Message, error) {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return transport.Message{}, transport.ErrClosed
		}
		if c.err != nil {
			err := c.err
			c.mu.Unlock()
			return transport.Message{}, err
		}
		if len(c.queue) > 0 {
			msg := c.queue[0]
			c.queue[0] = transport.Message{}
			c.queue = c.queue[1:]
			c.mu.Unlock()
			return msg, nil
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return transport.Message{}, ctx.Err()
		case <-c.done:
		case <-c.notify:
		}
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		channels := make([]string, 0, len(c.channels))
		for ch := range c.channels {
			channels = append(channels, ch)
		}
		c.channels = make(map[string]struct{})
		c.queue = nil
		c.mu.Unlock()

		c.broker.remove(c, channels)
		close(c.done)
	})
	return nil
}

func (c *Conn) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	return c.err
}

func (c *Conn) enqueue(msg transport.Message) {
	c.mu.Lock()
	if c.closed || c.err != nil {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *Conn) fail(err error) {
	c.mu.Lock()
	if c.closed || c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}
