package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	assert.Equal(t, DefaultServiceName, cfg.GetServiceName())
	assert.Equal(t, "unknown", cfg.GetServiceVersion())
	assert.Equal(t, DefaultEndpoint, cfg.GetEndpoint())
	assert.Equal(t, DefaultSampling, (&TracingConfig{}).GetSampling())
	assert.Equal(t, []string{ExporterOTLP}, (&MetricsConfig{}).GetExporters())
	assert.Equal(t, DefaultMetricsInterval, (&MetricsConfig{}).GetInterval())

	cfg = &Config{ServiceName: "sync-eu", ServiceVersion: "1.2.3", Endpoint: "otel:4318"}
	assert.Equal(t, "sync-eu", cfg.GetServiceName())
	assert.Equal(t, "1.2.3", cfg.GetServiceVersion())
	assert.Equal(t, "otel:4318", cfg.GetEndpoint())
	assert.Equal(t, 0.5, (&TracingConfig{Sampling: 0.5}).GetSampling())
}

func TestMetricsConfig_HasExporter(t *testing.T) {
	t.Parallel()

	var nilCfg *MetricsConfig
	assert.False(t, nilCfg.HasExporter(ExporterOTLP))
	assert.False(t, (&MetricsConfig{Exporters: []string{ExporterPrometheus}}).HasExporter(ExporterPrometheus))

	cfg := &MetricsConfig{Enabled: true, Exporters: []string{ExporterPrometheus}}
	assert.True(t, cfg.HasExporter(ExporterPrometheus))
	assert.False(t, cfg.HasExporter(ExporterOTLP))
	assert.True(t, (&MetricsConfig{Enabled: true}).HasExporter(ExporterOTLP))
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{name: "nil config", cfg: nil},
		{name: "disabled ignores invalid sections", cfg: &Config{Tracing: &TracingConfig{Enabled: true, Sampling: 3}}},
		{name: "valid", cfg: &Config{
			Enabled: true,
			Tracing: &TracingConfig{Enabled: true, Sampling: 1},
			Metrics: &MetricsConfig{Enabled: true, Exporters: []string{ExporterOTLP, ExporterPrometheus}},
		}},
		{name: "sampling above one", cfg: &Config{
			Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: 1.5},
		}, wantErr: "tracing: sampling must be between"},
		{name: "negative sampling", cfg: &Config{
			Enabled: true, Tracing: &TracingConfig{Enabled: true, Sampling: -0.1},
		}, wantErr: "tracing: sampling must be between"},
		{name: "unknown exporter", cfg: &Config{
			Enabled: true, Metrics: &MetricsConfig{Enabled: true, Exporters: []string{"statsd"}},
		}, wantErr: `metrics: unknown exporter "statsd"`},
		{name: "negative interval", cfg: &Config{
			Enabled: true, Metrics: &MetricsConfig{Enabled: true, Interval: -time.Second},
		}, wantErr: "metrics: interval cannot be negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_YAML(t *testing.T) {
	t.Parallel()

	data := `
enabled: true
serviceName: decksnap-sync-eu
endpoint: collector:4318
insecure: true
tracing:
  enabled: true
  sampling: 0.25
metrics:
  enabled: true
  exporters: [prometheus]
  interval: 15s
`
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(data), &cfg))
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "decksnap-sync-eu", cfg.GetServiceName())
	assert.True(t, cfg.Insecure)
	require.NotNil(t, cfg.Tracing)
	assert.Equal(t, 0.25, cfg.Tracing.GetSampling())
	require.NotNil(t, cfg.Metrics)
	assert.True(t, cfg.Metrics.HasExporter(ExporterPrometheus))
	assert.Equal(t, 15*time.Second, cfg.Metrics.GetInterval())
}
