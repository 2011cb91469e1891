// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"
	"time"

	"github.com/absmach/redpub/client"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/absmach/redpub"

var _ client.Observer = (*Metrics)(nil)

// Metrics holds OpenTelemetry metric instruments for a pub/sub client.
// It implements client.Observer.
type Metrics struct {
	meter metric.Meter

	// Counters
	connectionsTotal    metric.Int64Counter
	disconnectionsTotal metric.Int64Counter
	connectionLosses    metric.Int64Counter
	messagesPublished   metric.Int64Counter
	bytesPublished      metric.Int64Counter
	messagesDelivered   metric.Int64Counter
	bytesDelivered      metric.Int64Counter
	messagesDropped     metric.Int64Counter
	handlerPanics       metric.Int64Counter
	errorsTotal         metric.Int64Counter

	// UpDownCounters (Gauges)
	connectionsCurrent  metric.Int64UpDownCounter
	subscriptionsActive metric.Int64UpDownCounter

	// Histograms
	publishReceivers metric.Int64Histogram
	publishDuration  metric.Float64Histogram
	handlerDuration  metric.Float64Histogram
}

// NewMetrics creates a new Metrics instance with all instruments initialized.
// A nil provider uses the global meter provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	m := &Metrics{
		meter: provider.Meter(instrumentationName),
	}

	var err error

	// Initialize counters
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.connectionsTotal, "redpub.connections.total", "Total number of broker connections"},
		{&m.disconnectionsTotal, "redpub.disconnections.total", "Total number of client-initiated disconnections"},
		{&m.connectionLosses, "redpub.connection.losses.total", "Total number of connections lost by the receive loop"},
		{&m.messagesPublished, "redpub.messages.published.total", "Total messages published"},
		{&m.bytesPublished, "redpub.bytes.published.total", "Total payload bytes published"},
		{&m.messagesDelivered, "redpub.messages.delivered.total", "Total messages delivered to handlers"},
		{&m.bytesDelivered, "redpub.bytes.delivered.total", "Total payload bytes delivered to handlers"},
		{&m.messagesDropped, "redpub.messages.dropped.total", "Messages received for channels without a handler"},
		{&m.handlerPanics, "redpub.handler.panics.total", "Handler invocations that panicked"},
		{&m.errorsTotal, "redpub.errors.total", "Total errors by type"},
	}
	for _, c := range counters {
		*c.dst, err = m.meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	// Initialize up/down counters (gauges)
	m.connectionsCurrent, err = m.meter.Int64UpDownCounter(
		"redpub.connections.current",
		metric.WithDescription("Current number of live broker connections"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectionsCurrent gauge: %w", err)
	}

	m.subscriptionsActive, err = m.meter.Int64UpDownCounter(
		"redpub.subscriptions.active",
		metric.WithDescription("Number of subscribed channels"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscriptionsActive gauge: %w", err)
	}

	// Initialize histograms
	m.publishReceivers, err = m.meter.Int64Histogram(
		"redpub.publish.receivers",
		metric.WithDescription("Receivers reported by the broker per publish"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publishReceivers histogram: %w", err)
	}

	m.publishDuration, err = m.meter.Float64Histogram(
		"redpub.publish.duration.ms",
		metric.WithDescription("Publish round trip duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create publishDuration histogram: %w", err)
	}

	m.handlerDuration, err = m.meter.Float64Histogram(
		"redpub.handler.duration.ms",
		metric.WithDescription("Message handler duration in milliseconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create handlerDuration histogram: %w", err)
	}

	return m, nil
}

// Connected records a new connection.
func (m *Metrics) Connected(string) {
	ctx := context.Background()
	m.connectionsTotal.Add(ctx, 1)
	m.connectionsCurrent.Add(ctx, 1)
}

// Disconnected records a client-initiated disconnection.
func (m *Metrics) Disconnected(string) {
	ctx := context.Background()
	m.disconnectionsTotal.Add(ctx, 1)
	m.connectionsCurrent.Add(ctx, -1)
}

// ConnectionLost records a connection dropped underneath the client.
// The client does not report a later Disconnect of a lost session.
func (m *Metrics) ConnectionLost(string, error) {
	ctx := context.Background()
	m.connectionLosses.Add(ctx, 1)
	m.connectionsCurrent.Add(ctx, -1)
	m.RecordError("connection_lost")
}

// Subscribed records a new subscription.
func (m *Metrics) Subscribed(string) {
	m.subscriptionsActive.Add(context.Background(), 1)
}

// Unsubscribed records a subscription removal.
func (m *Metrics) Unsubscribed(string) {
	m.subscriptionsActive.Add(context.Background(), -1)
}

// Published records a publish attempt.
func (m *Metrics) Published(_ string, size int, receivers int64, latency time.Duration, err error) {
	ctx := context.Background()
	if err != nil {
		m.RecordError("publish")
		return
	}
	m.messagesPublished.Add(ctx, 1)
	m.bytesPublished.Add(ctx, int64(size))
	m.publishReceivers.Record(ctx, receivers)
	m.publishDuration.Record(ctx, durationMs(latency))
}

// Delivered records a message handed to a handler.
func (m *Metrics) Delivered(_ string, size int, d time.Duration) {
	ctx := context.Background()
	m.messagesDelivered.Add(ctx, 1)
	m.bytesDelivered.Add(ctx, int64(size))
	m.handlerDuration.Record(ctx, durationMs(d))
}

// Dropped records a message for a channel without a handler.
func (m *Metrics) Dropped(string) {
	m.messagesDropped.Add(context.Background(), 1)
}

// HandlerPanicked records a recovered handler panic.
func (m *Metrics) HandlerPanicked(string) {
	m.handlerPanics.Add(context.Background(), 1)
	m.RecordError("handler_panic")
}

// RecordError records an error by type.
func (m *Metrics) RecordError(errorType string) {
	m.errorsTotal.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("type", errorType),
	))
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
