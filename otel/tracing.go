// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"

	"github.com/absmach/redpub/transport"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	attrSystem      = attribute.Key("messaging.system")
	attrDestination = attribute.Key("messaging.destination.name")
	attrBodySize    = attribute.Key("messaging.message.body.size")
	attrReceivers   = attribute.Key("redpub.receivers")
	attrPeer        = attribute.Key("net.peer.name")
)

// WrapDialer returns a dialer whose sessions run Publish, Subscribe and
// Unsubscribe inside spans. Receive and Close are not traced. A nil
// provider uses the global tracer provider.
func WrapDialer(d transport.Dialer, provider trace.TracerProvider) transport.Dialer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	tracer := provider.Tracer(instrumentationName)

	return transport.DialerFunc(func(ctx context.Context, addr string) (transport.Conn, error) {
		ctx, span := tracer.Start(ctx, "redis.dial",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attrSystem.String("redis"), attrPeer.String(addr)))
		defer span.End()

		conn, err := d.Dial(ctx, addr)
		if err != nil {
			fail(span, err)
			return nil, err
		}
		return &tracedConn{Conn: conn, tracer: tracer}, nil
	})
}

type tracedConn struct {
	transport.Conn
	tracer trace.Tracer
}

func (c *tracedConn) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	ctx, span := c.tracer.Start(ctx, "publish "+channel,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attrSystem.String("redis"),
			attrDestination.String(channel),
			attrBodySize.Int(len(payload)),
		))
	defer span.End()

	n, err := c.Conn.Publish(ctx, channel, payload)
	if err != nil {
		fail(span, err)
		return n, err
	}
	span.SetAttributes(attrReceivers.Int64(n))
	return n, nil
}

func (c *tracedConn) Subscribe(ctx context.Context, channel string) error {
	return c.command(ctx, "subscribe", channel, c.Conn.Subscribe)
}

func (c *tracedConn) Unsubscribe(ctx context.Context, channel string) error {
	return c.command(ctx, "unsubscribe", channel, c.Conn.Unsubscribe)
}

func (c *tracedConn) command(ctx context.Context, op, channel string, fn func(context.Context, string) error) error {
	ctx, span := c.tracer.Start(ctx, op+" "+channel,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrSystem.String("redis"), attrDestination.String(channel)))
	defer span.End()

	if err := fn(ctx, channel); err != nil {
		fail(span, err)
		return err
	}
	return nil
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
