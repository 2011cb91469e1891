// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/absmach/redpub/client"
	"github.com/absmach/redpub/transport/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

// sum returns the total of an int64 sum instrument.
func sum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			data, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			var total int64
			for _, dp := range data.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	return 0
}

func TestMetricsObserver(t *testing.T) {
	m, reader := newTestMetrics(t)

	m.Connected("127.0.0.1:6379")
	m.Subscribed("a")
	m.Subscribed("b")
	m.Unsubscribed("a")
	m.Published("a", 10, 2, time.Millisecond, nil)
	m.Published("a", 10, 0, time.Millisecond, errors.New("write failed"))
	m.Delivered("b", 4, time.Millisecond)
	m.Dropped("c")
	m.HandlerPanicked("b")

	assert.Equal(t, int64(1), sum(t, reader, "redpub.connections.total"))
	assert.Equal(t, int64(1), sum(t, reader, "redpub.connections.current"))
	assert.Equal(t, int64(1), sum(t, reader, "redpub.subscriptions.active"))
	assert.Equal(t, int64(1), sum(t, reader, "redpub.messages.published.total"))
	assert.Equal(t, int64(10), sum(t, reader, "redpub.bytes.published.total"))
	assert.Equal(t, int64(1), sum(t, reader, "redpub.messages.delivered.total"))
	assert.Equal(t, int64(4), sum(t, reader, "redpub.bytes.delivered.total"))
	assert.Equal(t, int64(1), sum(t, reader, "redpub.messages.dropped.total"))
	assert.Equal(t, int64(1), sum(t, reader, "redpub.handler.panics.total"))
	assert.Equal(t, int64(2), sum(t, reader, "redpub.errors.total"))

	m.ConnectionLost("127.0.0.1:6379", errors.New("eof"))
	assert.Equal(t, int64(0), sum(t, reader, "redpub.connections.current"))
	assert.Equal(t, int64(1), sum(t, reader, "redpub.connection.losses.total"))
}

func TestMetricsWithClient(t *testing.T) {
	m, reader := newTestMetrics(t)
	broker := memory.NewBroker()
	ctx := context.Background()

	c, err := client.New(client.NewOptions().SetDialer(broker).SetObserver(m))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Connect(ctx, client.DefaultHost, client.DefaultPort))
	delivered := make(chan struct{}, 1)
	require.NoError(t, c.Subscribe(ctx, "alerts", func(string, []byte) { delivered <- struct{}{} }))

	n, err := c.Publish(ctx, "alerts", []byte("fire"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
	require.Eventually(t, func() bool {
		return sum(t, reader, "redpub.messages.delivered.total") == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.Disconnect())
	assert.Equal(t, int64(0), sum(t, reader, "redpub.subscriptions.active"))
	assert.Equal(t, int64(0), sum(t, reader, "redpub.connections.current"))
	assert.Equal(t, int64(1), sum(t, reader, "redpub.disconnections.total"))
}
