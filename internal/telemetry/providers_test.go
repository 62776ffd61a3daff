package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestNewTracerProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tp, err := NewTracerProvider(ctx)
	require.NoError(t, err)
	assert.IsType(t, tracenoop.TracerProvider{}, tp)

	tp, err = NewTracerProvider(ctx, WithTracingConfig(&TracingConfig{Enabled: false}))
	require.NoError(t, err)
	assert.IsType(t, tracenoop.TracerProvider{}, tp)

	// the OTLP HTTP exporter connects lazily, so no collector is needed
	tp, err = NewTracerProvider(ctx,
		WithService("decksnap-sync-test", "0.0.1"),
		WithEndpoint("localhost:4318", true),
		WithTracingConfig(&TracingConfig{Enabled: true, Sampling: 1}),
	)
	require.NoError(t, err)
	sdkTP, ok := tp.(*sdktrace.TracerProvider)
	require.True(t, ok)
	require.NoError(t, sdkTP.Shutdown(ctx))
}

func TestNewMeterProvider(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	mp, err := NewMeterProvider(ctx, WithMetricsConfig(nil))
	require.NoError(t, err)
	assert.IsType(t, metricnoop.MeterProvider{}, mp)

	reg := prometheus.NewRegistry()
	mp, err = NewMeterProvider(ctx,
		WithMetricsConfig(&MetricsConfig{Enabled: true, Exporters: []string{ExporterPrometheus}}),
		WithPrometheusRegisterer(reg),
	)
	require.NoError(t, err)
	sdkMP, ok := mp.(*sdkmetric.MeterProvider)
	require.True(t, ok)
	t.Cleanup(func() { _ = sdkMP.Shutdown(ctx) })

	m, err := NewSyncMetrics(mp)
	require.NoError(t, err)
	m.RoomOpened(ctx)

	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "decksnap_sync_rooms")
}

func TestNewMeterProvider_UnknownExporter(t *testing.T) {
	t.Parallel()

	_, err := NewMeterProvider(context.Background(),
		WithMetricsConfig(&MetricsConfig{Enabled: true, Exporters: []string{"statsd"}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown metrics exporter")
}
