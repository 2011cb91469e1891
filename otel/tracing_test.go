// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/absmach/redpub/config"
	"github.com/absmach/redpub/transport/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestWrapDialerSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	broker := memory.NewBroker()
	d := WrapDialer(broker, tp)
	ctx := context.Background()

	conn, err := d.Dial(ctx, "127.0.0.1:6379")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Subscribe(ctx, "alerts"))
	n, err := conn.Publish(ctx, "alerts", []byte("fire"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, conn.Unsubscribe(ctx, "alerts"))

	spans := sr.Ended()
	require.Len(t, spans, 4)

	names := make([]string, 0, len(spans))
	for _, s := range spans {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"redis.dial", "subscribe alerts", "publish alerts", "unsubscribe alerts"}, names)

	var receivers int64 = -1
	for _, kv := range spans[2].Attributes() {
		if kv.Key == attrReceivers {
			receivers = kv.Value.AsInt64()
		}
	}
	assert.Equal(t, int64(1), receivers)
}

func TestWrapDialerRecordsErrors(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(context.Background())

	refused := errors.New("connection refused")
	broker := memory.NewBroker()
	broker.Refuse(refused)

	_, err := WrapDialer(broker, tp).Dial(context.Background(), "127.0.0.1:6379")
	require.ErrorIs(t, err, refused)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Len(t, spans[0].Events(), 1, "error should be recorded as a span event")
}

func TestInitProviderDisabled(t *testing.T) {
	cfg := config.Default().Telemetry
	ctx := context.Background()

	p, err := InitProvider(ctx, cfg, "test-instance", ClientAttributes("127.0.0.1:6379", "redpub-test")...)
	require.NoError(t, err)
	defer p.Shutdown(ctx)

	_, ok := p.TracerProvider().(tracenoop.TracerProvider)
	assert.True(t, ok, "disabled traces should use the noop tracer provider")
	_, ok = p.MeterProvider().(metricnoop.MeterProvider)
	assert.True(t, ok, "disabled metrics should use the noop meter provider")

	attrs := map[attribute.Key]string{}
	for _, kv := range p.Resource().Attributes() {
		attrs[kv.Key] = kv.Value.Emit()
	}
	assert.Equal(t, "redpub", attrs["service.name"])
	assert.Equal(t, "test-instance", attrs["service.instance.id"])
	assert.Equal(t, "redis", attrs[attrSystem])
	assert.Equal(t, "127.0.0.1:6379", attrs[attrPeer])
	assert.Equal(t, "redpub-test", attrs[attrClientName])

	assert.NoError(t, p.Shutdown(ctx))
	assert.NoError(t, p.Shutdown(ctx))
}

func TestInitProviderTraces(t *testing.T) {
	cfg := config.Default().Telemetry
	cfg.Endpoint = "127.0.0.1:1"
	cfg.TracesEnabled = true
	cfg.Headers = map[string]string{"x-tenant": "redpub"}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	p, err := InitProvider(ctx, cfg, "test-instance")
	require.NoError(t, err)
	defer p.Shutdown(ctx)

	_, ok := p.TracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok, "enabled traces should use the SDK tracer provider")
	_, ok = p.MeterProvider().(metricnoop.MeterProvider)
	assert.True(t, ok, "metrics stay noop when only traces are enabled")
}

func TestInitProviderCollectorTLS(t *testing.T) {
	cfg := config.Default().Telemetry
	cfg.TracesEnabled = true
	cfg.Insecure = false
	cfg.TLS.CertFile = "client.crt"

	_, err := InitProvider(context.Background(), cfg, "test-instance")
	assert.Error(t, err, "a certificate without a key must be rejected")

	cfg.TracesEnabled = false
	p, err := InitProvider(context.Background(), cfg, "test-instance")
	require.NoError(t, err, "TLS settings are ignored while telemetry is disabled")
	assert.NoError(t, p.Shutdown(context.Background()))
}
