package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/moolen/tailwatch/internal/alarm"
	"github.com/moolen/tailwatch/internal/config"
	"github.com/moolen/tailwatch/internal/detectorstate"
	"github.com/moolen/tailwatch/internal/logging"
	"github.com/moolen/tailwatch/internal/metricsource"
	"github.com/moolen/tailwatch/internal/pipeline"
	"github.com/moolen/tailwatch/internal/scenario"
	"github.com/moolen/tailwatch/internal/scheduler"
	"github.com/moolen/tailwatch/internal/store"
	"github.com/moolen/tailwatch/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// runtime holds the wired collaborators shared by run and scan.
type runtime struct {
	cfg       *config.Config
	scenarios *config.ScenarioSource
	graph     store.GraphClient
	nats      *alarm.NATSSink
	registry  *prometheus.Registry
	tracing   *tracing.Provider
	scheduler *scheduler.Scheduler
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	logger := logging.GetLogger("tailwatch")
	rt := &runtime{
		cfg:       cfg,
		scenarios: config.NewScenarioSource(cfg.ScenarioFile, cfg.ScenarioDefaults()),
		registry:  prometheus.NewRegistry(),
	}
	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	tp, err := tracing.NewProvider(cfg.Tracing, Version)
	if err != nil {
		logger.Warn("Failed to initialize tracing (continuing without tracing): %v", err)
		tp, _ = tracing.NewProvider(config.TracingConfig{}, Version)
	}
	rt.tracing = tp

	source, err := metricsource.NewPrometheus(metricsource.PrometheusConfig{
		URL:          cfg.Prometheus.URL,
		Timeout:      cfg.Prometheus.Timeout,
		HostLookback: time.Duration(cfg.DetectionTraining) * time.Minute,
	})
	if err != nil {
		return nil, err
	}

	rt.graph = store.NewFalkorClient(cfg.Falkor())
	if err := rt.graph.Connect(ctx); err != nil {
		return nil, err
	}
	if err := rt.graph.InitializeSchema(ctx); err != nil {
		rt.close()
		return nil, fmt.Errorf("failed to initialize graph schema: %w", err)
	}
	falkor := store.NewFalkor(rt.graph)

	sink := alarm.MultiSink{alarm.NewLogSink()}
	if cfg.NATS.URL != "" {
		rt.nats, err = alarm.NewNATSSink(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			rt.close()
			return nil, err
		}
		sink = append(sink, rt.nats)
		logger.Info("Publishing alarms to NATS subject %s", cfg.NATS.Subject)
	}

	p, err := pipeline.New(cfg.Pipeline(), pipeline.Deps{
		Source:       source,
		Calibrations: store.NewCachedCalibrations(falkor, cfg.Cache.Size, cfg.CacheTTL()),
		Anomalies:    falkor,
		Detectors:    detectorstate.NewManager(detectorstate.NewMemoryStore()),
		Metrics:      pipeline.NewMetrics(rt.registry),
		Tracer:       tp.Tracer("tailwatch/pipeline"),
	})
	if err != nil {
		rt.close()
		return nil, err
	}

	engine := scenario.NewEngine(falkor, sink, cfg.AlarmWindow(), scenario.NewMetrics(rt.registry))
	rt.scheduler = scheduler.New(p, engine, rt.scenarios, scheduler.Intervals{
		Calibration: cfg.CalibrationInterval,
		Detection:   cfg.DetectionInterval,
		Alarm:       cfg.AlarmInterval,
	})
	return rt, nil
}

// close releases the connections the lifecycle manager does not own.
func (rt *runtime) close() {
	if rt.nats != nil {
		rt.nats.Close()
	}
	if rt.graph != nil {
		if err := rt.graph.Close(); err != nil {
			logging.GetLogger("tailwatch").ErrorWithErr("failed to close FalkorDB connection", err)
		}
	}
}
