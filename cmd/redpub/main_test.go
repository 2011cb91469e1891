// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/absmach/redpub/client"
	"github.com/absmach/redpub/codec"
	"github.com/absmach/redpub/config"
	"github.com/absmach/redpub/transport/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Redis.Password = "secret"
	cfg.Redis.DB = 4
	cfg.Client.MaxChannels = 7
	cfg.Breaker.Enabled = true
	cfg.RateLimit.Enabled = true

	opts, err := clientOptions(cfg, slog.Default())
	require.NoError(t, err)

	assert.Equal(t, "secret", opts.Redis.Password)
	assert.Equal(t, 4, opts.Redis.DB)
	assert.Nil(t, opts.Redis.TLSConfig)
	assert.Equal(t, 7, opts.MaxChannels)
	require.NotNil(t, opts.Breaker)
	assert.Equal(t, cfg.Breaker.FailureThreshold, opts.Breaker.FailureThreshold)
	assert.True(t, opts.PublishLimit.Enabled)
}

func TestRedisOptionsTLS(t *testing.T) {
	cfg := config.Default().Redis
	cfg.TLSEnabled = true
	cfg.TLS.ServerName = "cache.internal"

	opts, err := redisOptions(cfg, slog.Default())
	require.NoError(t, err)
	require.NotNil(t, opts.TLSConfig)
	assert.Equal(t, "cache.internal", opts.TLSConfig.ServerName)

	cfg.TLS.ServerCAFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err = redisOptions(cfg, slog.Default())
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o644))
	cfg.TLS.ServerCAFile = bad
	_, err = redisOptions(cfg, slog.Default())
	assert.Error(t, err)
}

func newMemoryClient(t *testing.T, broker *memory.Broker) *client.Client {
	t.Helper()
	cli, err := client.New(client.NewOptions().SetDialer(broker))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })
	require.NoError(t, cli.Connect(context.Background(), client.DefaultHost, client.DefaultPort))
	return cli
}

func TestCheckAndPublish(t *testing.T) {
	broker := memory.NewBroker()
	pub := newMemoryClient(t, broker)
	sub := newMemoryClient(t, broker)
	ctx := context.Background()

	require.NoError(t, check(ctx, pub, time.Second))

	got := make(chan string, 3)
	require.NoError(t, sub.Subscribe(ctx, "alerts", codec.Decoding(codec.S2{}, func(_ string, p []byte) {
		got <- string(p)
	}, nil)))

	require.NoError(t, publish(ctx, pub, codec.S2{}, time.Second, "alerts", "fire", 3, time.Millisecond))

	for _, want := range []string{"fire #1", "fire #2", "fire #3"} {
		select {
		case p := <-got:
			assert.Equal(t, want, p)
		case <-time.After(time.Second):
			t.Fatalf("did not receive %q", want)
		}
	}
}

func TestSubscribeStopsOnCancel(t *testing.T) {
	broker := memory.NewBroker()
	cli := newMemoryClient(t, broker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- subscribe(ctx, cli, codec.Raw{}, []string{"a", " b ", ""}, nil) }()

	require.Eventually(t, func() bool {
		return len(cli.Channels()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, cli.Channels())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
}

func TestSubscribeReturnsOnLoss(t *testing.T) {
	lost := make(chan error, 1)
	broker := memory.NewBroker()
	cli, err := client.New(client.NewOptions().
		SetDialer(broker).
		SetOnConnectionLost(func(err error) { lost <- err }))
	require.NoError(t, err)
	defer cli.Close()
	require.NoError(t, cli.Connect(context.Background(), client.DefaultHost, client.DefaultPort))

	done := make(chan error, 1)
	go func() { done <- subscribe(context.Background(), cli, codec.Raw{}, []string{"a"}, lost) }()

	require.Eventually(t, func() bool {
		return len(cli.Channels()) == 1
	}, time.Second, 5*time.Millisecond)
	broker.Sever(nil)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, client.ErrConnectionLost)
	case <-time.After(time.Second):
		t.Fatal("subscribe did not return after connection loss")
	}
}

func TestRunRejectsArguments(t *testing.T) {
	cfg := config.Default()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := run(cfg, logger, modePub, "c", "m", 0, time.Millisecond, codec.NameRaw)
	assert.ErrorContains(t, err, "count must be at least 1")

	err = run(cfg, logger, modePub, "c", "m", 1, 0, codec.NameRaw)
	assert.ErrorContains(t, err, "interval must be positive")

	err = run(cfg, logger, modeCheck, "c", "m", 1, time.Millisecond, "lz4")
	assert.ErrorIs(t, err, codec.ErrUnknownCodec)
}

func TestRunCheckAgainstRedis(t *testing.T) {
	s := miniredis.RunT(t)
	port, err := strconv.Atoi(s.Port())
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Redis.Host = s.Host()
	cfg.Redis.Port = port
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, run(cfg, logger, modeCheck, "", "", 1, 0, codec.NameZstd))
	require.NoError(t, run(cfg, logger, modePub, "alerts", "fire", 2, time.Millisecond, codec.NameS2))
}

func TestOpenCodec(t *testing.T) {
	c, release, err := openCodec(codec.NameZstd)
	require.NoError(t, err)
	require.NotNil(t, release)
	_, ok := c.(*codec.Zstd)
	assert.True(t, ok)
	release()

	c, release, err = openCodec("")
	require.NoError(t, err)
	assert.Equal(t, codec.NameRaw, c.Name())
	assert.NotPanics(t, release)

	_, _, err = openCodec("lz4")
	assert.ErrorIs(t, err, codec.ErrUnknownCodec)
}
