// Package config loads the tailwatch configuration and the scenario
// definition document.
package config

import (
	"fmt"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/moolen/tailwatch/internal/pipeline"
	"github.com/moolen/tailwatch/internal/spot"
	"github.com/moolen/tailwatch/internal/store"
)

// Config holds all configuration for the application. Windows are in
// minutes.
type Config struct {
	CalibrationTraining    int `yaml:"calibration_training"`
	CalibrationForecasting int `yaml:"calibration_forecasting"`
	DetectionTraining      int `yaml:"detection_training"`
	DetectionForecasting   int `yaml:"detection_forecasting"`
	ReCalibratePeriod      int `yaml:"re_calibrate_period"`

	CalibrationInterval time.Duration `yaml:"calibration_interval"`
	DetectionInterval   time.Duration `yaml:"detection_interval"`
	AlarmInterval       time.Duration `yaml:"alarm_interval"`

	// Detector hyperparameters.
	Probability    float64        `yaml:"probability"`
	Depth          int            `yaml:"depth"`
	UpdateInterval int            `yaml:"update_interval"`
	Method         spot.Method    `yaml:"method"`
	Side           spot.Direction `yaml:"side"`
	LowerQuantile  float64        `yaml:"lower_quantile"`
	UpperQuantile  float64        `yaml:"upper_quantile"`
	WarmupMinutes  int            `yaml:"warmup_minutes"`

	// Scenario defaults, used where a scenario omits a value.
	LowThreshold         float64 `yaml:"low_threshold"`
	MediumThreshold      float64 `yaml:"medium_threshold"`
	HighThreshold        float64 `yaml:"high_threshold"`
	AnomaliesNumInPeriod int     `yaml:"anomalies_num_in_period"`
	ScenarioFile         string  `yaml:"scenario_file"`
	ScenarioWatch        bool    `yaml:"scenario_watch"`

	AnomalyFloors map[string]float64 `yaml:"anomaly_floors"`
	PrefixMetrics []string           `yaml:"prefix_metrics"`
	Hosts         []string           `yaml:"hosts"`
	Workers       int                `yaml:"workers"`

	Prometheus  PrometheusConfig `yaml:"prometheus"`
	FalkorDB    FalkorDBConfig   `yaml:"falkordb"`
	NATS        NATSConfig       `yaml:"nats"`
	MetricsPort int              `yaml:"metrics_port"`
	Tracing     TracingConfig    `yaml:"tracing"`
	Cache       CalibrationCache `yaml:"calibration_cache"`
}

// PrometheusConfig locates the metric source.
type PrometheusConfig struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxPoints int           `yaml:"max_points"`
	MinStep   time.Duration `yaml:"min_step"`
}

// FalkorDBConfig locates the metadata store.
type FalkorDBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	Graph    string `yaml:"graph"`
}

// NATSConfig enables alarm publishing when URL is set.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	CAPath   string `yaml:"ca_path"`
}

// CalibrationCache sizes the calibration LRU. A zero TTL uses the
// detection interval.
type CalibrationCache struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

// Default returns the built-in configuration.
func Default() *Config {
	params := spot.DefaultHyperparameters()
	return &Config{
		CalibrationTraining:    7 * 24 * 60,
		CalibrationForecasting: 24 * 60,
		DetectionTraining:      24 * 60,
		DetectionForecasting:   15,
		ReCalibratePeriod:      24 * 60,

		CalibrationInterval: 10 * time.Minute,
		DetectionInterval:   time.Minute,
		AlarmInterval:       time.Minute,

		Probability:    params.Probability,
		Depth:          params.Depth,
		UpdateInterval: params.UpdateInterval,
		Method:         params.Method,
		Side:           params.Side,
		LowerQuantile:  params.LowerQuantile,
		UpperQuantile:  params.UpperQuantile,
		// A new detector stays silent for its first detection pass.
		WarmupMinutes: 30,

		LowThreshold:         0.2,
		MediumThreshold:      0.5,
		HighThreshold:        0.8,
		AnomaliesNumInPeriod: 5,
		ScenarioFile:         "scenarios.yaml",

		AnomalyFloors: map[string]float64{},
		Workers:       8,

		Prometheus: PrometheusConfig{
			URL:       "http://localhost:9090",
			Timeout:   30 * time.Second,
			MaxPoints: 11000,
			MinStep:   15 * time.Second,
		},
		FalkorDB: FalkorDBConfig{
			Host:  "localhost",
			Port:  6379,
			Graph: "tailwatch",
		},
		NATS:        NATSConfig{Subject: "tailwatch.alarms"},
		MetricsPort: 9464,
		Tracing:     TracingConfig{Endpoint: "localhost:4317", Insecure: true},
		Cache:       CalibrationCache{Size: 4096},
	}
}

// Load reads path over the defaults and validates the result. An empty path
// returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config from %q: %w", path, err)
	}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "yaml"}); err != nil {
		return nil, fmt.Errorf("failed to parse config from %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed for %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	windows := []struct {
		name  string
		value int
	}{
		{"calibration_training", c.CalibrationTraining},
		{"calibration_forecasting", c.CalibrationForecasting},
		{"detection_training", c.DetectionTraining},
		{"detection_forecasting", c.DetectionForecasting},
		{"re_calibrate_period", c.ReCalibratePeriod},
	}
	for _, w := range windows {
		if w.value <= 0 {
			return NewConfigError(fmt.Sprintf("%s must be positive, got %d", w.name, w.value))
		}
	}

	if c.CalibrationInterval <= 0 || c.DetectionInterval <= 0 || c.AlarmInterval <= 0 {
		return NewConfigError("scan intervals must be positive")
	}

	if err := c.DetectorParams().Validate(); err != nil {
		return NewConfigError(err.Error())
	}

	if c.LowThreshold < 0 || c.LowThreshold > c.MediumThreshold || c.MediumThreshold > c.HighThreshold {
		return NewConfigError(fmt.Sprintf("thresholds must satisfy 0 <= low <= medium <= high, got %g/%g/%g",
			c.LowThreshold, c.MediumThreshold, c.HighThreshold))
	}

	if c.AnomaliesNumInPeriod < 1 {
		return NewConfigError("anomalies_num_in_period must be at least 1")
	}

	if c.Workers < 1 {
		return NewConfigError("workers must be at least 1")
	}

	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return NewConfigError("metrics_port must be between 0 and 65535")
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return NewConfigError("tracing.endpoint must be set when tracing is enabled")
	}

	return nil
}

// DetectorParams returns the detector hyperparameters.
func (c *Config) DetectorParams() spot.Hyperparameters {
	return spot.Hyperparameters{
		Probability:    c.Probability,
		Depth:          c.Depth,
		UpdateInterval: c.UpdateInterval,
		Method:         c.Method,
		Side:           c.Side,
		LowerQuantile:  c.LowerQuantile,
		UpperQuantile:  c.UpperQuantile,
		Warmup:         time.Duration(c.WarmupMinutes) * time.Minute,
	}
}

// Pipeline returns the scan settings.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		CalibrationTraining:    c.CalibrationTraining,
		CalibrationForecasting: c.CalibrationForecasting,
		DetectionTraining:      c.DetectionTraining,
		DetectionForecasting:   c.DetectionForecasting,
		ReCalibratePeriod:      c.ReCalibratePeriod,
		Params:                 c.DetectorParams(),
		Floors:                 c.AnomalyFloors,
		PrefixMetrics:          c.PrefixMetrics,
		Hosts:                  c.Hosts,
		Workers:                c.Workers,
		MaxPoints:              c.Prometheus.MaxPoints,
		MinStep:                c.Prometheus.MinStep,
	}
}

// AlarmWindow is the trailing window scenarios count anomalies over. It is
// the detection forecasting horizon.
func (c *Config) AlarmWindow() time.Duration {
	return time.Duration(c.DetectionForecasting) * time.Minute
}

// ScenarioDefaults returns the values scenarios fall back to.
func (c *Config) ScenarioDefaults() ScenarioDefaults {
	return ScenarioDefaults{
		LowThreshold:         c.LowThreshold,
		MediumThreshold:      c.MediumThreshold,
		HighThreshold:        c.HighThreshold,
		AnomaliesNumInPeriod: c.AnomaliesNumInPeriod,
	}
}

// Falkor returns the FalkorDB connection settings.
func (c *Config) Falkor() store.FalkorConfig {
	fc := store.DefaultFalkorConfig()
	fc.Host = c.FalkorDB.Host
	fc.Port = c.FalkorDB.Port
	fc.Password = c.FalkorDB.Password
	if c.FalkorDB.Graph != "" {
		fc.GraphName = c.FalkorDB.Graph
	}
	return fc
}

// CacheTTL returns the calibration cache TTL.
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTL > 0 {
		return c.Cache.TTL
	}
	return c.DetectionInterval
}

// ConfigError represents a configuration error
type ConfigError struct {
	message string
}

// NewConfigError creates a new configuration error
func NewConfigError(message string) *ConfigError {
	return &ConfigError{message: message}
}

// Error returns the error message
func (e *ConfigError) Error() string {
	return e.message
}
