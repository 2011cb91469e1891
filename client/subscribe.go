// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"log/slog"
	"time"
)

// Subscribe registers h for channel and asks the broker to deliver its
// messages. Subscribing to an already subscribed channel replaces the
// handler. The first subscription on a session starts the receive loop.
func (c *Client) Subscribe(ctx context.Context, channel string, h Handler) error {
	if c.state.isClosed() {
		return ErrClientClosed
	}
	if channel == "" {
		return &SubscribeError{Channel: channel, Err: ErrInvalidChannel}
	}
	if h == nil {
		return &SubscribeError{Channel: channel, Err: ErrNilHandler}
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	if !c.state.isConnected() {
		return &SubscribeError{Channel: channel, Err: ErrNotConnected}
	}
	conn, loop := c.currentConn()
	if conn == nil {
		return &SubscribeError{Channel: channel, Err: ErrNotConnected}
	}

	_, existed := c.handlers.get(channel)
	if !existed && c.opts.MaxChannels > 0 && c.handlers.len() >= c.opts.MaxChannels {
		return &SubscribeError{Channel: channel, Err: ErrTooManyChannels}
	}

	prev, replaced := c.handlers.set(channel, h)
	if err := conn.Subscribe(ctx, channel); err != nil {
		if replaced {
			c.handlers.set(channel, prev)
		} else {
			c.handlers.remove(channel)
		}
		c.logger.Warn("subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
		return &SubscribeError{Channel: channel, Err: &TransportError{Op: "subscribe", Err: err}}
	}

	if !replaced {
		c.observer.Subscribed(channel)
	}
	if loop.start(func(ctx context.Context) { c.receive(ctx, conn) }) {
		c.logger.Debug("receive loop started", slog.String("addr", c.Addr()))
	}
	c.logger.Debug("subscribed",
		slog.String("channel", channel),
		slog.Bool("replaced", replaced))

	return nil
}

// Unsubscribe removes the handler for channel and asks the broker to stop
// delivering its messages. When the last channel is removed the receive
// loop stays parked on the session until new subscriptions arrive.
func (c *Client) Unsubscribe(ctx context.Context, channel string) error {
	if c.state.isClosed() {
		return ErrClientClosed
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	h, ok := c.handlers.get(channel)
	if !ok {
		return &SubscribeError{Channel: channel, Err: ErrNotSubscribed}
	}
	if !c.state.isConnected() {
		return &SubscribeError{Channel: channel, Err: ErrNotConnected}
	}
	conn, _ := c.currentConn()
	if conn == nil {
		return &SubscribeError{Channel: channel, Err: ErrNotConnected}
	}

	c.handlers.remove(channel)
	if err := conn.Unsubscribe(ctx, channel); err != nil {
		c.handlers.set(channel, h)
		c.logger.Warn("unsubscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
		return &SubscribeError{Channel: channel, Err: &TransportError{Op: "unsubscribe", Err: err}}
	}

	c.observer.Unsubscribed(channel)
	c.logger.Debug("unsubscribed", slog.String("channel", channel))

	return nil
}

// Publish sends payload to channel and returns the number of receivers the
// broker delivered it to. Local subscriptions play no part in the count.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if c.state.isClosed() {
		return 0, ErrClientClosed
	}
	if channel == "" {
		return 0, &PublishError{Channel: channel, Err: ErrInvalidChannel}
	}
	if !c.state.isConnected() {
		return 0, &PublishError{Channel: channel, Err: ErrNotConnected}
	}
	conn, _ := c.currentConn()
	if conn == nil {
		return 0, &PublishError{Channel: channel, Err: ErrNotConnected}
	}
	if !c.limiter.Allow(channel) {
		return 0, &PublishError{Channel: channel, Err: ErrRateLimited}
	}

	start := time.Now()
	n, err := conn.Publish(ctx, channel, payload)
	c.observer.Published(channel, len(payload), n, time.Since(start), err)
	if err != nil {
		return 0, &PublishError{Channel: channel, Err: &TransportError{Op: "publish", Err: err}}
	}

	return n, nil
}

// Channels returns the subscribed channels in ascending order.
func (c *Client) Channels() []string {
	return c.handlers.channels()
}
