// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package client implements an embeddable publish/subscribe client. A Client
// owns one broker session, multiplexes any number of channel subscriptions
// over it and delivers inbound messages to per-channel handlers from a
// single background receive loop.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"

	"github.com/absmach/redpub/ratelimit"
	"github.com/absmach/redpub/transport"
)

// Client is a thread-safe pub/sub client.
//
// Lock order: lifeMu, then subMu, then connMu or the handler registry.
// The receive loop never takes lifeMu.
type Client struct {
	opts     *Options
	dialer   transport.Dialer
	logger   *slog.Logger
	observer Observer
	limiter  *ratelimit.ChannelLimiter

	// State management
	state *stateManager

	// Lifecycle: serializes Connect, Disconnect and Close
	lifeMu sync.Mutex

	// Serializes Subscribe and Unsubscribe so registry and broker agree
	subMu sync.Mutex

	// Connection
	conn   transport.Conn
	loop   *receiveLoop
	addr   string
	connMu sync.RWMutex

	handlers *handlerRegistry
}

// New creates a new client with the given options.
func New(opts *Options) (*Client, error) {
	if opts == nil {
		return nil, ErrNilOptions
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = noopObserver{}
	}

	return &Client{
		opts:     opts,
		dialer:   opts.dialer(logger),
		logger:   logger,
		observer: observer,
		limiter:  ratelimit.New(opts.PublishLimit),
		state:    newStateManager(),
		handlers: newHandlerRegistry(),
	}, nil
}

// Connect establishes a session with the broker at host:port.
func (c *Client) Connect(ctx context.Context, host string, port int) error {
	if c.state.isClosed() {
		return ErrClientClosed
	}

	addr, err := joinAddr(host, port)
	if err != nil {
		return &ConnectionError{Addr: addr, Err: err}
	}

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.state.isClosed() {
		return ErrClientClosed
	}
	if !c.state.transitionFrom(StateConnecting, StateDisconnected, StateLost) {
		return &ConnectionError{Addr: addr, Err: ErrAlreadyConnected}
	}

	// A lost session may still be unwinding its receive loop.
	c.connMu.Lock()
	prev := c.loop
	c.loop = nil
	c.connMu.Unlock()
	if prev != nil {
		prev.stop()
	}

	conn, err := c.dialer.Dial(ctx, addr)
	if err != nil {
		c.state.set(StateDisconnected)
		c.logger.Warn("connect failed",
			slog.String("addr", addr),
			slog.String("error", err.Error()))
		return &ConnectionError{Addr: addr, Err: fmt.Errorf("%w: %w", ErrConnectFailed, err)}
	}

	c.connMu.Lock()
	c.conn = conn
	c.loop = newReceiveLoop()
	c.addr = addr
	c.connMu.Unlock()

	c.state.set(StateConnected)

	c.logger.Info("connected", slog.String("addr", addr))
	c.observer.Connected(addr)

	if c.opts.OnConnect != nil {
		go c.opts.OnConnect()
	}

	return nil
}

// Disconnect stops the receive loop, waits for it to exit, releases the
// session and clears every subscription. The client always ends up
// disconnected, even when releasing the session fails.
//
// Disconnect must not be called from a message handler.
func (c *Client) Disconnect() error {
	if c.state.isClosed() {
		return ErrClientClosed
	}

	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	return c.disconnect()
}

func (c *Client) disconnect() error {
	wasConnected := c.state.transition(StateConnected, StateDisconnecting)
	if !wasConnected && !c.state.transition(StateLost, StateDisconnecting) {
		return nil
	}

	c.connMu.RLock()
	loop := c.loop
	c.connMu.RUnlock()
	if loop != nil {
		loop.stop()
	}

	c.subMu.Lock()
	c.connMu.Lock()
	conn := c.conn
	addr := c.addr
	c.conn = nil
	c.loop = nil
	c.connMu.Unlock()

	var closeErr error
	if conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, transport.ErrClosed) {
			closeErr = err
		}
	}
	c.clearHandlers()
	c.subMu.Unlock()

	c.state.set(StateDisconnected)
	if wasConnected {
		// A lost session was already reported through ConnectionLost.
		c.observer.Disconnected(addr)
	}

	if closeErr != nil {
		c.logger.Warn("disconnect: failed to close session",
			slog.String("addr", addr),
			slog.String("error", closeErr.Error()))
		return &ConnectionError{Addr: addr, Err: &TransportError{Op: "close", Err: closeErr}}
	}

	c.logger.Info("disconnected", slog.String("addr", addr))
	return nil
}

// Close disconnects and permanently shuts the client down.
// Every later operation returns ErrClientClosed.
func (c *Client) Close() error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if c.state.isClosed() {
		return nil
	}

	err := c.disconnect()
	c.state.set(StateClosed)
	c.limiter.Stop()

	return err
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	return c.state.isConnected()
}

// State returns the current client state.
func (c *Client) State() State {
	return c.state.get()
}

// Addr returns the host:port of the current or last session.
func (c *Client) Addr() string {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.addr
}

func (c *Client) currentConn() (transport.Conn, *receiveLoop) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn, c.loop
}

// clearHandlers empties the registry. Callers hold subMu.
func (c *Client) clearHandlers() {
	for _, ch := range c.handlers.clear() {
		c.observer.Unsubscribed(ch)
	}
}

func joinAddr(host string, port int) (string, error) {
	if host == "" || port < 1 || port > 65535 {
		return net.JoinHostPort(host, strconv.Itoa(port)), ErrInvalidAddress
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
