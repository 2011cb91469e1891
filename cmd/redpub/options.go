// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/absmach/redpub/client"
	"github.com/absmach/redpub/config"
	mtls "github.com/absmach/redpub/pkg/tls"
	"github.com/absmach/redpub/transport/breaker"
	"github.com/absmach/redpub/transport/redis"
)

func newLogger(cfg config.LogConfig) *slog.Logger {
	logLevel := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

func redisOptions(cfg config.RedisConfig, logger *slog.Logger) (redis.Options, error) {
	opts := redis.Options{
		Username:      cfg.Username,
		Password:      cfg.Password,
		DB:            cfg.DB,
		ClientName:    cfg.ClientName,
		DialTimeout:   cfg.DialTimeout,
		ReadTimeout:   cfg.ReadTimeout,
		WriteTimeout:  cfg.WriteTimeout,
		PoolSize:      cfg.PoolSize,
		ReceiveBuffer: cfg.ReceiveBuffer,
		Logger:        logger,
	}

	if cfg.TLSEnabled {
		tlsConfig, err := mtls.LoadClientConfig(&cfg.TLS)
		if err != nil {
			return redis.Options{}, fmt.Errorf("failed to load redis TLS config: %w", err)
		}
		opts.TLSConfig = tlsConfig
	}
	logger.Debug("Redis transport security", "status", mtls.SecurityStatus(opts.TLSConfig))

	return opts, nil
}

// clientOptions maps the file configuration onto client options. The dialer
// is left for the caller to decide.
func clientOptions(cfg *config.Config, logger *slog.Logger) (*client.Options, error) {
	ro, err := redisOptions(cfg.Redis, logger)
	if err != nil {
		return nil, err
	}

	opts := client.NewOptions().
		SetRedis(ro).
		SetMaxChannels(cfg.Client.MaxChannels).
		SetPublishLimit(cfg.RateLimit).
		SetLogger(logger)

	if cfg.Breaker.Enabled {
		opts.SetBreaker(breaker.Settings{
			Name:             "redis",
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Breaker.ResetTimeout,
			Logger:           logger,
		})
	}

	return opts, opts.Validate()
}
