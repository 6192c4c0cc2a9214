package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moolen/tailwatch/internal/spot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 15*time.Minute, cfg.AlarmWindow())
	assert.Equal(t, cfg.DetectionInterval, cfg.CacheTTL())
	assert.Equal(t, 30*time.Minute, cfg.DetectorParams().Warmup)
	assert.Greater(t, cfg.DetectorParams().Warmup, time.Duration(cfg.DetectionForecasting)*time.Minute,
		"the first detection pass of a new detector is suppressed")
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, "tailwatch.yaml", `
calibration_training: 120
detection_forecasting: 30
detection_interval: 30s
method: espot
side: up
warmup_minutes: 10
workers: 2
anomaly_floors:
  failed_logins: 3
  qps: 0.5
prefix_metrics: [log_lines]
prometheus:
  url: http://prom:9090
  min_step: 1m
falkordb:
  host: falkor
  graph: tw
nats:
  url: nats://nats:4222
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.CalibrationTraining)
	assert.Equal(t, Default().CalibrationForecasting, cfg.CalibrationForecasting)
	assert.Equal(t, 30*time.Second, cfg.DetectionInterval)
	assert.Equal(t, 30*time.Minute, cfg.AlarmWindow())
	assert.Equal(t, map[string]float64{"failed_logins": 3, "qps": 0.5}, cfg.AnomalyFloors)
	assert.Equal(t, "http://prom:9090", cfg.Prometheus.URL)
	assert.Equal(t, 11000, cfg.Prometheus.MaxPoints)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, "tailwatch.alarms", cfg.NATS.Subject)

	params := cfg.DetectorParams()
	assert.Equal(t, spot.MethodESPOT, params.Method)
	assert.Equal(t, spot.DirectionUp, params.Side)
	assert.Equal(t, 10*time.Minute, params.Warmup)

	pc := cfg.Pipeline()
	assert.Equal(t, 2, pc.Workers)
	assert.Equal(t, []string{"log_lines"}, pc.PrefixMetrics)
	assert.Equal(t, time.Minute, pc.MinStep)

	fc := cfg.Falkor()
	assert.Equal(t, "falkor", fc.Host)
	assert.Equal(t, 6379, fc.Port)
	assert.Equal(t, "tw", fc.GraphName)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero window", func(c *Config) { c.DetectionTraining = 0 }, "detection_training"},
		{"zero interval", func(c *Config) { c.AlarmInterval = 0 }, "intervals"},
		{"bad quantiles", func(c *Config) { c.LowerQuantile = 0.99 }, "lower_quantile"},
		{"bad method", func(c *Config) { c.Method = "arima" }, "method"},
		{"unordered thresholds", func(c *Config) { c.MediumThreshold = 0.9 }, "thresholds"},
		{"no saturation", func(c *Config) { c.AnomaliesNumInPeriod = 0 }, "anomalies_num_in_period"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"tracing without endpoint", func(c *Config) { c.Tracing = TracingConfig{Enabled: true} }, "tracing.endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to load config")

	path := writeFile(t, "bad.yaml", "workers: 0\n")
	_, err = Load(path)
	var cfgErr *ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}
