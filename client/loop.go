// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/redpub/transport"
)

type loopState uint8

const (
	loopNotStarted loopState = iota
	loopRunning
	loopStopped
)

func (s loopState) String() string {
	switch s {
	case loopNotStarted:
		return "not_started"
	case loopRunning:
		return "running"
	case loopStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// receiveLoop owns the single goroutine reading one connection.
// It is started at most once and never restarted.
type receiveLoop struct {
	mu     sync.Mutex
	state  loopState
	cancel context.CancelFunc
	done   chan struct{}
}

func newReceiveLoop() *receiveLoop {
	return &receiveLoop{done: make(chan struct{})}
}

func (l *receiveLoop) get() loopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// start runs fn in a new goroutine unless the loop already ran or was stopped.
func (l *receiveLoop) start(fn func(ctx context.Context)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != loopNotStarted {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.state = loopRunning

	go func() {
		defer close(l.done)
		fn(ctx)
	}()

	return true
}

// stop cancels the loop and waits for its goroutine to exit.
// Calling it from the loop goroutine itself deadlocks.
func (l *receiveLoop) stop() {
	l.mu.Lock()
	prev := l.state
	l.state = loopStopped
	cancel := l.cancel
	l.mu.Unlock()

	if prev != loopRunning {
		return
	}
	cancel()
	<-l.done
}

// receive reads conn until ctx is cancelled or the connection fails.
func (c *Client) receive(ctx context.Context, conn transport.Conn) {
	for {
		msg, err := conn.Receive(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.handleConnectionLost(conn, err)
			return
		}
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg transport.Message) {
	h, ok := c.handlers.get(msg.Channel)
	if !ok {
		c.logger.Debug("dropping message for unsubscribed channel",
			slog.String("channel", msg.Channel),
			slog.Int("size", len(msg.Payload)))
		c.observer.Dropped(msg.Channel)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("message handler panicked",
				slog.String("channel", msg.Channel),
				slog.Any("panic", r))
			c.observer.HandlerPanicked(msg.Channel)
		}
	}()

	start := time.Now()
	h(msg.Channel, msg.Payload)
	c.observer.Delivered(msg.Channel, len(msg.Payload), time.Since(start))
}

func (c *Client) handleConnectionLost(conn transport.Conn, err error) {
	if !c.state.transition(StateConnected, StateLost) {
		return
	}

	c.subMu.Lock()
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	addr := c.addr
	c.connMu.Unlock()

	if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, transport.ErrClosed) {
		c.logger.Debug("failed to release lost connection", slog.String("error", cerr.Error()))
	}
	c.clearHandlers()
	c.subMu.Unlock()

	c.logger.Warn("connection lost",
		slog.String("addr", addr),
		slog.String("error", err.Error()))
	c.observer.ConnectionLost(addr, err)

	if c.opts.OnConnectionLost != nil {
		go c.opts.OnConnectionLost(fmt.Errorf("%w: %w", ErrConnectionLost, &TransportError{Op: "receive", Err: err}))
	}
}
