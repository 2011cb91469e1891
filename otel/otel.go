// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package otel exports client metrics and traces through OpenTelemetry.
package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/absmach/redpub/config"
	mtls "github.com/absmach/redpub/pkg/tls"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials"
)

const attrClientName = attribute.Key("redpub.client.name")

// Used when the config leaves the export period or timeout unset.
const (
	defaultExportInterval = 10 * time.Second
	defaultExportTimeout  = 30 * time.Second
)

// ClientAttributes describes the Redis session a process reports for.
func ClientAttributes(addr, clientName string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attrSystem.String("redis"),
		attrPeer.String(addr),
		attrClientName.String(clientName),
	}
}

// Provider holds the tracer and meter providers built from a
// TelemetryConfig. A disabled signal gets a noop provider, so callers can
// always hand both to NewMetrics and WrapDialer.
type Provider struct {
	res      *resource.Resource
	tracer   trace.TracerProvider
	meter    metric.MeterProvider
	shutdown []func(context.Context) error
}

// InitProvider builds the OTLP gRPC exporters enabled in cfg and registers
// the resulting providers globally. attrs are added to the resource next to
// the service name, version and instanceID.
func InitProvider(ctx context.Context, cfg config.TelemetryConfig, instanceID string, attrs ...attribute.KeyValue) (*Provider, error) {
	kv := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
		semconv.ServiceInstanceIDKey.String(instanceID),
	}
	res, err := resource.New(ctx, resource.WithAttributes(append(kv, attrs...)...))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p := &Provider{
		res:    res,
		tracer: tracenoop.NewTracerProvider(),
		meter:  metricnoop.NewMeterProvider(),
	}

	var creds credentials.TransportCredentials
	if cfg.Enabled() && !cfg.Insecure {
		tlsConfig, err := mtls.LoadClientConfig(&cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load collector TLS config: %w", err)
		}
		creds = credentials.NewTLS(tlsConfig)
	}

	if cfg.TracesEnabled {
		if err := p.initTracer(ctx, cfg, creds); err != nil {
			return nil, fmt.Errorf("failed to initialize tracer provider: %w", err)
		}
	}
	if cfg.MetricsEnabled {
		if err := p.initMeter(ctx, cfg, creds); err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("failed to initialize meter provider: %w", err)
		}
	}

	otel.SetTracerProvider(p.tracer)
	otel.SetMeterProvider(p.meter)

	return p, nil
}

// TracerProvider returns the configured tracer provider.
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.tracer
}

// MeterProvider returns the configured meter provider.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.meter
}

// Resource returns the resource attached to every exported signal.
func (p *Provider) Resource() *resource.Resource {
	return p.res
}

// Shutdown flushes and stops the exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdown = nil
	return errors.Join(errs...)
}

func (p *Provider) initTracer(ctx context.Context, cfg config.TelemetryConfig, creds credentials.TransportCredentials) error {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(orDefault(cfg.ExportTimeout, defaultExportTimeout)),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	if creds == nil {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(creds))
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(p.res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.TraceSampleRate))),
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(128),
			sdktrace.WithBatchTimeout(orDefault(cfg.ExportInterval, defaultExportInterval)/2),
		),
	)

	p.tracer = tp
	p.shutdown = append(p.shutdown, tp.Shutdown)
	return nil
}

func (p *Provider) initMeter(ctx context.Context, cfg config.TelemetryConfig, creds credentials.TransportCredentials) error {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithTimeout(orDefault(cfg.ExportTimeout, defaultExportTimeout)),
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.Headers))
	}
	if creds == nil {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	} else {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(creds))
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(p.res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(orDefault(cfg.ExportInterval, defaultExportInterval)),
		)),
	)

	p.meter = mp
	p.shutdown = append(p.shutdown, mp.Shutdown)
	return nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
