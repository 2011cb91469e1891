// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package redis implements the transport contract on top of go-redis.
//
// Each Conn holds two sessions, as the native client it replaces did: a
// command client for PUBLISH and a dedicated PubSub session that owns
// SUBSCRIBE/UNSUBSCRIBE and the inbound message stream.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/redpub/transport"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Default values.
const (
	DefaultDialTimeout   = 5 * time.Second
	DefaultReadTimeout   = 3 * time.Second
	DefaultWriteTimeout  = 3 * time.Second
	DefaultPoolSize      = 10
	DefaultReceiveBuffer = 256
)

// Options configures the Redis sessions opened by Dialer.
type Options struct {
	Username      string
	Password      string
	DB            int
	ClientName    string // CLIENT SETNAME value; generated when empty
	DialTimeout   time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	PoolSize      int
	ReceiveBuffer int // inbound messages buffered between the reader and Receive
	TLSConfig     *tls.Config
	Logger        *slog.Logger
}

// Dialer opens Redis-backed transport sessions.
type Dialer struct {
	opts Options
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer creates a Dialer, filling unset options with defaults.
func NewDialer(opts Options) *Dialer {
	if opts.ClientName == "" {
		opts.ClientName = "redpub-" + uuid.NewString()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = DefaultReadTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.ReceiveBuffer <= 0 {
		opts.ReceiveBuffer = DefaultReceiveBuffer
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dialer{opts: opts}
}

// Options returns the effective options.
func (d *Dialer) Options() Options {
	return d.opts
}

// Dial connects to the Redis server at addr (host:port). Both sessions are
// pinged so an unreachable or refusing server fails here.
func (d *Dialer) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     d.opts.Username,
		Password:     d.opts.Password,
		DB:           d.opts.DB,
		ClientName:   d.opts.ClientName,
		DialTimeout:  d.opts.DialTimeout,
		ReadTimeout:  d.opts.ReadTimeout,
		WriteTimeout: d.opts.WriteTimeout,
		PoolSize:     d.opts.PoolSize,
		PoolTimeout:  d.opts.DialTimeout,
		TLSConfig:    d.opts.TLSConfig,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", addr, err)
	}

	pubsub := client.Subscribe(ctx)
	if err := pubsub.Ping(ctx); err != nil {
		_ = pubsub.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to open subscriber session at %s: %w", addr, err)
	}

	c := &conn{
		client:  client,
		pubsub:  pubsub,
		logger:  d.opts.Logger.With(slog.String("addr", addr)),
		inbound: make(chan transport.Message, d.opts.ReceiveBuffer),
		failed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.pump()

	return c, nil
}

type conn struct {
	client *redis.Client
	pubsub *redis.PubSub
	logger *slog.Logger

	inbound chan transport.Message

	failed   chan struct{}
	failErr  error
	failOnce sync.Once

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func (c *conn) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	if c.isClosed() {
		return 0, transport.ErrClosed
	}
	n, err := c.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish to redis: %w", c.mapErr(err))
	}
	return n, nil
}

func (c *conn) Subscribe(ctx context.Context, channel string) error {
	if c.isClosed() {
		return transport.ErrClosed
	}
	if err := c.pubsub.Subscribe(ctx, channel); err != nil {
		return fmt.Errorf("failed to subscribe to redis channel: %w", c.mapErr(err))
	}
	return nil
}

func (c *conn) Unsubscribe(ctx context.Context, channel string) error {
	if c.isClosed() {
		return transport.ErrClosed
	}
	if err := c.pubsub.Unsubscribe(ctx, channel); err != nil {
		return fmt.Errorf("failed to unsubscribe from redis channel: %w", c.mapErr(err))
	}
	return nil
}

func (c *conn) Receive(ctx context.Context) (transport.Message, error) {
	// Drain buffered messages before reporting a failure.
	select {
	case msg := <-c.inbound:
		return msg, nil
	default:
	}

	select {
	case msg := <-c.inbound:
		return msg, nil
	case <-c.failed:
		return transport.Message{}, c.failErr
	case <-c.done:
		return transport.Message{}, transport.ErrClosed
	case <-ctx.Done():
		return transport.Message{}, ctx.Err()
	}
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = errors.Join(c.pubsub.Close(), c.client.Close())
	})
	return c.closeErr
}

// pump moves messages from the PubSub session into the inbound buffer. Any
// read error ends it; the error is reported by Receive unless the conn was
// closed on purpose.
func (c *conn) pump() {
	for {
		msg, err := c.pubsub.ReceiveMessage(context.Background())
		if err != nil {
			if c.isClosed() {
				return
			}
			c.failOnce.Do(func() {
				c.failErr = fmt.Errorf("redis subscriber session failed: %w", err)
				close(c.failed)
			})
			c.logger.Debug("redis subscriber read failed", slog.String("error", err.Error()))
			return
		}

		payload := []byte(msg.Payload)
		select {
		case c.inbound <- transport.Message{Channel: msg.Channel, Payload: payload}:
		case <-c.done:
			return
		}
	}
}

func (c *conn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *conn) mapErr(err error) error {
	if errors.Is(err, redis.ErrClosed) {
		return transport.ErrClosed
	}
	return err
}
