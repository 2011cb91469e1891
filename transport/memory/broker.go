// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package memory provides an in-process broker that speaks the transport
// contract. It is used by tests and by applications that want pub/sub
// semantics without a Redis server.
package memory

import (
	"context"
	"sync"

	"github.com/absmach/redpub/transport"
	"github.com/google/uuid"
)

var _ transport.Dialer = (*Broker)(nil)

// Broker routes published messages to every connection subscribed to the
// channel, the way a Redis server does.
type Broker struct {
	mu     sync.RWMutex
	conns  map[string]*Conn
	subs   map[string]map[string]*Conn
	refuse error
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		conns: make(map[string]*Conn),
		subs:  make(map[string]map[string]*Conn),
	}
}

// Dial opens a new connection to the broker. The address is ignored.
func (b *Broker) Dial(ctx context.Context, _ string) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refuse != nil {
		return nil, b.refuse
	}

	c := &Conn{
		id:       uuid.NewString(),
		broker:   b,
		channels: make(map[string]struct{}),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	b.conns[c.id] = c
	return c, nil
}

// Dialer returns the broker as a transport.Dialer.
func (b *Broker) Dialer() transport.Dialer {
	return b
}

// Refuse makes every following Dial fail with err. A nil err accepts dials
// again.
func (b *Broker) Refuse(err error) {
	b.mu.Lock()
	b.refuse = err
	b.mu.Unlock()
}

// Sever breaks every live connection: their next Receive returns err.
func (b *Broker) Sever(err error) {
	if err == nil {
		err = transport.ErrClosed
	}

	b.mu.Lock()
	conns := make([]*Conn, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		c.fail(err)
	}
}

// Conns returns the number of live connections.
func (b *Broker) Conns() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.conns)
}

// Subscribers returns how many connections listen on channel.
func (b *Broker) Subscribers(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

func (b *Broker) publish(channel string, payload []byte) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var n int64
	for _, c := range b.subs[channel] {
		c.enqueue(transport.Message{
			Channel: channel,
			Payload: append([]byte(nil), payload...),
		})
		n++
	}
	return n
}

func (b *Broker) subscribe(c *Conn, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subs[channel]
	if !ok {
		subs = make(map[string]*Conn)
		b.subs[channel] = subs
	}
	subs[c.id] = c
}

func (b *Broker) unsubscribe(c *Conn, channel string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeLocked(c, channel)
}

func (b *Broker) unsubscribeLocked(c *Conn, channel string) {
	subs, ok := b.subs[channel]
	if !ok {
		return
	}
	delete(subs, c.id)
	if len(subs) == 0 {
		delete(b.subs, channel)
	}
}

func (b *Broker) remove(c *Conn, channels []string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range channels {
		b.unsubscribeLocked(c, ch)
	}
	delete(b.conns, c.id)
}
