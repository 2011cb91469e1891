// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	mtls "github.com/absmach/redpub/pkg/tls"
	"github.com/absmach/redpub/ratelimit"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a redpub client process.
type Config struct {
	Redis     RedisConfig          `yaml:"redis"`
	Client    ClientConfig         `yaml:"client"`
	Breaker   CircuitBreakerConfig `yaml:"breaker"`
	RateLimit ratelimit.Config     `yaml:"ratelimit"`
	Log       LogConfig            `yaml:"log"`
	Telemetry TelemetryConfig      `yaml:"telemetry"`
}

// RedisConfig holds the broker address and session settings.
type RedisConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Username      string        `yaml:"username"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	ClientName    string        `yaml:"client_name"` // generated when empty
	DialTimeout   time.Duration `yaml:"dial_timeout"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	PoolSize      int           `yaml:"pool_size"`
	ReceiveBuffer int           `yaml:"receive_buffer"`

	TLSEnabled bool        `yaml:"tls_enabled"`
	TLS        mtls.Config `yaml:"tls"`
}

// ClientConfig holds pub/sub client limits.
type ClientConfig struct {
	MaxChannels    int           `yaml:"max_channels"` // 0 = unlimited
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// CircuitBreakerConfig holds circuit breaker configuration for broker writes.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Endpoint        string  `yaml:"endpoint"` // OTLP gRPC endpoint
	ServiceName     string  `yaml:"service_name"`
	ServiceVersion  string  `yaml:"service_version"`
	MetricsEnabled  bool    `yaml:"metrics_enabled"`
	TracesEnabled   bool    `yaml:"traces_enabled"`
	TraceSampleRate float64 `yaml:"trace_sample_rate"` // 0.0 to 1.0

	// Collector connection
	Insecure       bool              `yaml:"insecure"` // plaintext gRPC, TLS is ignored
	TLS            mtls.Config       `yaml:"tls"`
	Headers        map[string]string `yaml:"headers"`
	ExportInterval time.Duration     `yaml:"export_interval"` // metric push period
	ExportTimeout  time.Duration     `yaml:"export_timeout"`
}

// Enabled reports whether any telemetry signal is exported.
func (t TelemetryConfig) Enabled() bool {
	return t.MetricsEnabled || t.TracesEnabled
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Redis: RedisConfig{
			Host:          "127.0.0.1",
			Port:          6379,
			DialTimeout:   5 * time.Second,
			ReadTimeout:   3 * time.Second,
			WriteTimeout:  3 * time.Second,
			PoolSize:      10,
			ReceiveBuffer: 256,
		},
		Client: ClientConfig{
			MaxChannels:    100,
			ConnectTimeout: 10 * time.Second,
			PublishTimeout: 5 * time.Second,
		},
		Breaker: CircuitBreakerConfig{
			Enabled:          false,
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		RateLimit: ratelimit.DefaultConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Endpoint:        "localhost:4317",
			ServiceName:     "redpub",
			ServiceVersion:  "1.0.0",
			MetricsEnabled:  false,
			TracesEnabled:   false,
			TraceSampleRate: 0.1,
			Insecure:        true,
			ExportInterval:  10 * time.Second,
			ExportTimeout:   30 * time.Second,
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("redis.host cannot be empty")
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return fmt.Errorf("redis.port must be between 1 and 65535")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db cannot be negative")
	}
	if c.Redis.DialTimeout < 0 || c.Redis.ReadTimeout < -1 || c.Redis.WriteTimeout < -1 {
		return fmt.Errorf("redis timeouts cannot be negative")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size cannot be negative")
	}
	if !c.Redis.TLSEnabled && (c.Redis.TLS.ServerCAFile != "" || c.Redis.TLS.CertFile != "") {
		return fmt.Errorf("redis.tls requires redis.tls_enabled")
	}
	if (c.Redis.TLS.CertFile == "") != (c.Redis.TLS.KeyFile == "") {
		return fmt.Errorf("redis.tls.cert_file and redis.tls.key_file must be set together")
	}

	if c.Client.MaxChannels < 0 {
		return fmt.Errorf("client.max_channels cannot be negative")
	}
	if c.Client.PublishTimeout < 0 || c.Client.ConnectTimeout < 0 {
		return fmt.Errorf("client timeouts cannot be negative")
	}

	if c.Breaker.Enabled {
		if c.Breaker.FailureThreshold < 1 {
			return fmt.Errorf("breaker.failure_threshold must be at least 1")
		}
		if c.Breaker.ResetTimeout < time.Second {
			return fmt.Errorf("breaker.reset_timeout must be at least 1 second")
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("ratelimit.rate must be positive")
		}
		if c.RateLimit.Burst < 1 {
			return fmt.Errorf("ratelimit.burst must be at least 1")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	// OpenTelemetry validation (only if telemetry enabled)
	if c.Telemetry.Enabled() {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint cannot be empty when telemetry is enabled")
		}
		if c.Telemetry.ServiceName == "" {
			return fmt.Errorf("telemetry.service_name cannot be empty when telemetry is enabled")
		}
		if c.Telemetry.TraceSampleRate < 0.0 || c.Telemetry.TraceSampleRate > 1.0 {
			return fmt.Errorf("telemetry.trace_sample_rate must be between 0.0 and 1.0")
		}
		if c.Telemetry.ExportInterval <= 0 || c.Telemetry.ExportTimeout <= 0 {
			return fmt.Errorf("telemetry export interval and timeout must be positive")
		}
		if !c.Telemetry.Insecure && (c.Telemetry.TLS.CertFile == "") != (c.Telemetry.TLS.KeyFile == "") {
			return fmt.Errorf("telemetry.tls.cert_file and telemetry.tls.key_file must be set together")
		}
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
