package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// collect returns the metrics recorded under scope, keyed by instrument name
func collect(t *testing.T, reader *sdkmetric.ManualReader, scope string) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != scope {
			continue
		}
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewSyncMetrics(t *testing.T) {
	t.Parallel()

	metrics, err := NewSyncMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, metrics)

	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err = NewSyncMetrics(mp)
	require.NoError(t, err)
	require.NotNil(t, metrics)
}

func TestSyncMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *SyncMetrics
	ctx := context.Background()
	assert.NotPanics(t, func() {
		m.RecordMessage(ctx, "slide:update", OutcomeAck, time.Millisecond)
		m.ConnectionOpened(ctx)
		m.ConnectionClosed(ctx)
		m.ConnectionPruned(ctx)
		m.RoomOpened(ctx)
		m.RoomClosed(ctx)
	})
}

func TestSyncMetrics_Records(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewSyncMetrics(mp)
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordMessage(ctx, "slide:update", OutcomeAck, 3*time.Millisecond)
	m.RecordMessage(ctx, "slide:update", OutcomeConflict, 2*time.Millisecond)
	m.RecordMessage(ctx, "cursor:move", OutcomeBroadcast, time.Millisecond)
	m.ConnectionOpened(ctx)
	m.ConnectionOpened(ctx)
	m.ConnectionClosed(ctx)
	m.RoomOpened(ctx)
	m.ConnectionPruned(ctx)

	got := collect(t, reader, SyncMetricsMeterName)
	assert.Equal(t, int64(3), sumOf(t, got["decksnap_sync_messages_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["decksnap_sync_conflicts_total"]))
	assert.Equal(t, int64(1), sumOf(t, got["decksnap_sync_connections"]))
	assert.Equal(t, int64(1), sumOf(t, got["decksnap_sync_rooms"]))
	assert.Equal(t, int64(1), sumOf(t, got["decksnap_sync_pruned_connections_total"]))

	hist, ok := got["decksnap_sync_message_duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
}
