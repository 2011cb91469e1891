// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/absmach/redpub/transport"
	"github.com/absmach/redpub/transport/memory"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errWrite = errors.New("write failed")

type flakyConn struct {
	transport.Conn
	fail  bool
	calls int
}

func (c *flakyConn) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	c.calls++
	if c.fail {
		return 0, errWrite
	}
	return c.Conn.Publish(ctx, channel, payload)
}

func (c *flakyConn) Subscribe(ctx context.Context, channel string) error {
	c.calls++
	if c.fail {
		return errWrite
	}
	return c.Conn.Subscribe(ctx, channel)
}

func newFlaky(t *testing.T) *flakyConn {
	t.Helper()
	b := memory.NewBroker()
	inner, err := b.Dial(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = inner.Close() })
	return &flakyConn{Conn: inner}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	flaky := newFlaky(t)
	c := Wrap(flaky, Settings{FailureThreshold: 2, ResetTimeout: time.Hour})
	ctx := context.Background()

	flaky.fail = true
	for i := 0; i < 2; i++ {
		_, err := c.Publish(ctx, "ch", []byte("x"))
		assert.ErrorIs(t, err, errWrite)
	}
	assert.Equal(t, gobreaker.StateOpen, c.State())

	_, err := c.Publish(ctx, "ch", []byte("x"))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, flaky.calls, "open breaker must not reach the transport")

	err = c.Subscribe(ctx, "ch")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestBreakerHalfOpenRecovers(t *testing.T) {
	flaky := newFlaky(t)
	c := Wrap(flaky, Settings{FailureThreshold: 1, ResetTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	flaky.fail = true
	_, err := c.Publish(ctx, "ch", nil)
	require.ErrorIs(t, err, errWrite)
	require.Equal(t, gobreaker.StateOpen, c.State())

	time.Sleep(40 * time.Millisecond)
	flaky.fail = false

	n, err := c.Publish(ctx, "ch", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, gobreaker.StateClosed, c.State())
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	flaky := newFlaky(t)
	c := Wrap(flaky, Settings{FailureThreshold: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Publish(ctx, "ch", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, gobreaker.StateClosed, c.State())
}

func TestWrapDialer(t *testing.T) {
	b := memory.NewBroker()
	d := WrapDialer(b, Settings{})

	conn, err := d.Dial(context.Background(), "")
	require.NoError(t, err)
	defer conn.Close()

	_, ok := conn.(*Conn)
	assert.True(t, ok)

	b.Refuse(errWrite)
	_, err = d.Dial(context.Background(), "")
	assert.ErrorIs(t, err, errWrite)
}
