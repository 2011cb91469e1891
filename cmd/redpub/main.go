// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/absmach/redpub/client"
	"github.com/absmach/redpub/codec"
	"github.com/absmach/redpub/config"
	"github.com/absmach/redpub/otel"
	"github.com/absmach/redpub/transport/redis"
	"github.com/google/uuid"
)

const (
	modeCheck = "check"
	modePub   = "pub"
	modeSub   = "sub"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	mode := flag.String("mode", modeCheck, "Mode: check, pub or sub")
	channel := flag.String("channel", "test_channel", "Channel to publish to, or comma-separated channels to subscribe to")
	message := flag.String("message", "Hello from redpub", "Message to publish")
	count := flag.Int("count", 1, "Number of messages to publish in pub mode")
	interval := flag.Duration("interval", time.Second, "Delay between published messages")
	codecName := flag.String("codec", codec.NameRaw, "Payload codec: raw, s2 or zstd")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := run(cfg, logger, *mode, *channel, *message, *count, *interval, *codecName); err != nil {
		slog.Error("redpub failed", "mode", *mode, "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, mode, channel, message string, count int, interval time.Duration, codecName string) error {
	if mode == modePub {
		if count < 1 {
			return fmt.Errorf("count must be at least 1, got %d", count)
		}
		if interval <= 0 {
			return fmt.Errorf("interval must be positive, got %s", interval)
		}
	}

	c, release, err := openCodec(codecName)
	if err != nil {
		return err
	}
	defer release()

	opts, err := clientOptions(cfg, logger)
	if err != nil {
		return fmt.Errorf("invalid client options: %w", err)
	}

	instanceID := uuid.NewString()
	if opts.Redis.ClientName == "" {
		opts.Redis.ClientName = "redpub-" + instanceID
	}

	if cfg.Telemetry.Enabled() {
		addr := net.JoinHostPort(cfg.Redis.Host, strconv.Itoa(cfg.Redis.Port))
		provider, err := otel.InitProvider(context.Background(), cfg.Telemetry, instanceID,
			otel.ClientAttributes(addr, opts.Redis.ClientName)...)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(ctx); err != nil {
				slog.Warn("Telemetry shutdown failed", "error", err)
			}
		}()

		if cfg.Telemetry.MetricsEnabled {
			metrics, err := otel.NewMetrics(provider.MeterProvider())
			if err != nil {
				return err
			}
			opts.SetObserver(metrics)
		}
		if cfg.Telemetry.TracesEnabled {
			opts.SetDialer(otel.WrapDialer(redis.NewDialer(opts.Redis), provider.TracerProvider()))
		}
	}

	lost := make(chan error, 1)
	opts.SetOnConnectionLost(func(err error) {
		select {
		case lost <- err:
		default:
		}
	})

	cli, err := client.New(opts)
	if err != nil {
		return err
	}
	defer cli.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := withTimeout(ctx, cfg.Client.ConnectTimeout)
	err = cli.Connect(connectCtx, cfg.Redis.Host, cfg.Redis.Port)
	cancel()
	if err != nil {
		return err
	}

	slog.Info("Connected to Redis", "addr", cli.Addr(), "mode", mode, "codec", c.Name())

	switch mode {
	case modeCheck:
		return check(ctx, cli, cfg.Client.PublishTimeout)
	case modePub:
		return publish(ctx, cli, c, cfg.Client.PublishTimeout, channel, message, count, interval)
	case modeSub:
		return subscribe(ctx, cli, c, strings.Split(channel, ","), lost)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

// check publishes a probe message and reports how many subscribers got it.
func check(ctx context.Context, cli *client.Client, timeout time.Duration) error {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	n, err := cli.Publish(ctx, "redpub:healthcheck", []byte("ping"))
	if err != nil {
		return err
	}
	slog.Info("Connectivity check passed", "receivers", n)
	return nil
}

func publish(ctx context.Context, cli *client.Client, c codec.Codec, timeout time.Duration, channel, message string, count int, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 1; i <= count; i++ {
		payload := message
		if count > 1 {
			payload = fmt.Sprintf("%s #%d", message, i)
		}

		pctx, cancel := withTimeout(ctx, timeout)
		n, err := codec.Publish(pctx, cli, c, channel, []byte(payload))
		cancel()
		if err != nil {
			return err
		}
		slog.Info("Published message", "channel", channel, "seq", i, "receivers", n)

		if i == count {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func subscribe(ctx context.Context, cli *client.Client, c codec.Codec, channels []string, lost <-chan error) error {
	onErr := func(channel string, err error) {
		slog.Warn("Failed to decode message", "channel", channel, "error", err)
	}
	handler := codec.Decoding(c, codec.Text(func(channel, msg string) {
		slog.Info("Received message", "channel", channel, "message", msg)
	}, onErr), onErr)

	for _, ch := range channels {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		if err := cli.Subscribe(ctx, ch, handler); err != nil {
			return err
		}
	}
	slog.Info("Listening", "channels", cli.Channels())

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
		return nil
	case err := <-lost:
		return err
	}
}

// openCodec resolves name. The returned release func frees codecs that hold
// encoder state and is a no-op for the others.
func openCodec(name string) (codec.Codec, func(), error) {
	c, err := codec.ByName(name)
	if err != nil {
		return nil, nil, err
	}
	if closer, ok := c.(io.Closer); ok {
		return c, func() {
			if err := closer.Close(); err != nil {
				slog.Debug("Failed to release codec", "codec", c.Name(), "error", err)
			}
		}, nil
	}
	return c, func() {}, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
