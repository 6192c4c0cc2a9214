// Package scheduler drives the calibration, detection and alarm scans on
// their own intervals.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moolen/tailwatch/internal/logging"
	"github.com/moolen/tailwatch/internal/pipeline"
	"github.com/moolen/tailwatch/internal/scenario"
)

// ScenarioProvider returns the scenarios currently in effect.
type ScenarioProvider interface {
	Scenarios() []scenario.Scenario
}

// Intervals are the periods between two runs of each scan. A zero interval
// disables the scan.
type Intervals struct {
	Calibration time.Duration
	Detection   time.Duration
	Alarm       time.Duration
}

// Jobs selects the scans RunOnce performs.
type Jobs struct {
	Calibrate bool
	Detect    bool
	Alarms    bool
}

// Report collects the results of one RunOnce.
type Report struct {
	Calibrations []pipeline.Outcome
	Detections   []pipeline.Outcome
	Alarms       []scenario.Result
}

// Scheduler runs each scan in its own loop. A scan never overlaps with a
// previous run of itself; a run that outlasts its interval delays the next.
type Scheduler struct {
	pipeline  *pipeline.Pipeline
	engine    *scenario.Engine
	scenarios ScenarioProvider
	intervals Intervals
	logger    *logging.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a scheduler over p and engine.
func New(p *pipeline.Pipeline, engine *scenario.Engine, scenarios ScenarioProvider, intervals Intervals) *Scheduler {
	return &Scheduler{
		pipeline:  p,
		engine:    engine,
		scenarios: scenarios,
		intervals: intervals,
		logger:    logging.GetLogger("scheduler"),
	}
}

// Name implements lifecycle.Component.
func (s *Scheduler) Name() string {
	return "scheduler"
}

// Start launches the scan loops. Each scan runs once immediately.
func (s *Scheduler) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.loop(ctx, "calibration", s.intervals.Calibration, func(ctx context.Context) { s.Calibrate(ctx) })
	s.loop(ctx, "detection", s.intervals.Detection, func(ctx context.Context) { s.Detect(ctx) })
	s.loop(ctx, "alarm", s.intervals.Alarm, func(ctx context.Context) { s.Alarms(ctx) })
	return nil
}

// Stop cancels the loops and waits for running scans to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, run func(context.Context)) {
	if interval <= 0 {
		s.logger.Info("%s scan disabled", name)
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Info("%s scan every %s", name, interval)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			run(ctx)
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RunOnce performs the selected scans in calibration, detection, alarm
// order.
func (s *Scheduler) RunOnce(ctx context.Context, jobs Jobs) Report {
	var r Report
	if jobs.Calibrate {
		r.Calibrations = s.Calibrate(ctx)
	}
	if jobs.Detect {
		r.Detections = s.Detect(ctx)
	}
	if jobs.Alarms {
		r.Alarms = s.Alarms(ctx)
	}
	return r
}

// Calibrate runs a calibration scan over the metrics the scenarios use.
func (s *Scheduler) Calibrate(ctx context.Context) []pipeline.Outcome {
	metrics := scenario.RequiredMetrics(s.scenarios.Scenarios())
	if len(metrics) == 0 {
		s.logger.Debug("no scenario metrics, skipping calibration")
		return nil
	}
	return s.pipeline.Calibrate(ctx, metrics)
}

// Detect runs a detection scan over the metrics the scenarios use.
func (s *Scheduler) Detect(ctx context.Context) []pipeline.Outcome {
	metrics := scenario.RequiredMetrics(s.scenarios.Scenarios())
	if len(metrics) == 0 {
		s.logger.Debug("no scenario metrics, skipping detection")
		return nil
	}
	return s.pipeline.Detect(ctx, metrics)
}

// Alarms evaluates every scenario on every host reporting its metrics.
func (s *Scheduler) Alarms(ctx context.Context) []scenario.Result {
	scenarios := s.scenarios.Scenarios()
	if len(scenarios) == 0 {
		s.logger.Debug("no scenarios, skipping alarm evaluation")
		return nil
	}
	hosts, err := s.pipeline.Hosts(ctx, scenario.RequiredMetrics(scenarios))
	if err != nil {
		s.logger.ErrorWithErr("host discovery failed, skipping alarm evaluation", err)
		return nil
	}
	return s.engine.Evaluate(ctx, scenarios, hosts)
}
