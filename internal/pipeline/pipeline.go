// Package pipeline runs the calibration and detection scans over every
// (metric, host) pair.
//
// A calibration scan selects the pairs whose calibration is missing or older
// than the re-calibration period, fetches the calibration window at an
// automatically chosen step, fits a detector on its training part, replays
// the forecasting part for diagnostics and saves the result. A detection
// scan loads the saved calibration, fetches the detection window at the
// calibrated step and streams it through the shared detector for the pair.
// Anomalies that survive the per-metric floor are persisted.
//
// Every pair yields an Outcome. Nothing in a scan aborts the batch.
package pipeline

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/moolen/tailwatch/internal/detectorstate"
	"github.com/moolen/tailwatch/internal/logging"
	"github.com/moolen/tailwatch/internal/metricsource"
	"github.com/moolen/tailwatch/internal/spot"
	"github.com/moolen/tailwatch/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the scan settings. Windows are in minutes.
type Config struct {
	CalibrationTraining    int
	CalibrationForecasting int
	DetectionTraining      int
	DetectionForecasting   int
	ReCalibratePeriod      int

	Params spot.Hyperparameters

	// Floors maps a metric name to the smallest value that may be reported
	// as an anomaly.
	Floors map[string]float64
	// PrefixMetrics carry a dynamic port in their host label. They are
	// fetched for every port of the host and keyed by the bare host.
	PrefixMetrics []string
	// Hosts, when set, replaces host discovery.
	Hosts []string

	Workers   int
	MaxPoints int
	MinStep   time.Duration
}

// Deps are the collaborators of a Pipeline. Metrics and Tracer may be nil.
type Deps struct {
	Source       metricsource.Source
	Calibrations store.CalibrationStore
	Anomalies    store.AnomalyStore
	Detectors    *detectorstate.Manager
	Metrics      *Metrics
	Tracer       trace.Tracer
}

// Pipeline runs calibration and detection scans.
type Pipeline struct {
	cfg  Config
	deps Deps
	pool *Pool

	logger *logging.Logger
	now    func() time.Time
}

// New returns a Pipeline.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Source == nil || deps.Calibrations == nil || deps.Anomalies == nil {
		return nil, fmt.Errorf("pipeline requires a metric source, a calibration store and an anomaly store")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid detector parameters: %w", err)
	}
	if deps.Detectors == nil {
		deps.Detectors = detectorstate.NewManager(detectorstate.NewMemoryStore())
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("tailwatch/pipeline")
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		pool:   NewPool(cfg.Workers),
		logger: logging.GetLogger("pipeline"),
		now:    time.Now,
	}, nil
}

// Hosts returns the configured hosts, or the union of the hosts reporting
// any of metrics. Hosts of prefix metrics are reported without their port.
func (p *Pipeline) Hosts(ctx context.Context, metrics []string) ([]string, error) {
	if len(p.cfg.Hosts) > 0 {
		return slices.Clone(p.cfg.Hosts), nil
	}
	seen := make(map[string]struct{})
	var firstErr error
	for _, m := range metrics {
		hosts, err := p.discover(ctx, m)
		if err != nil {
			p.logger.ErrorWithErr("host discovery failed for %s", err, m)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, h := range hosts {
			seen[h] = struct{}{}
		}
	}
	if len(seen) == 0 && firstErr != nil {
		return nil, firstErr
	}
	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out, nil
}

// discover returns the hosts reporting metric. For prefix metrics the port
// is dropped, so every port of a host maps to one pair and one anomaly key.
func (p *Pipeline) discover(ctx context.Context, metric string) ([]string, error) {
	hosts, err := p.deps.Source.Hosts(ctx, metric)
	if err != nil || !p.anyPort(metric) {
		return hosts, err
	}
	bare := make([]string, 0, len(hosts))
	for _, h := range hosts {
		bare = append(bare, metricsource.BareHost(h))
	}
	sort.Strings(bare)
	return slices.Compact(bare), nil
}

// pairs expands metrics into (metric, host) pairs. Metrics whose host
// discovery fails yield a fetch_failed outcome instead.
func (p *Pipeline) pairs(ctx context.Context, metrics []string) ([]Pair, []Outcome) {
	var pairs []Pair
	var failed []Outcome
	for _, m := range metrics {
		hosts := p.cfg.Hosts
		if len(hosts) == 0 {
			var err error
			hosts, err = p.discover(ctx, m)
			if err != nil {
				p.logger.ErrorWithErr("host discovery failed for %s", err, m)
				failed = append(failed, outcome(Pair{Metric: m}, StatusFetchFailed, fmt.Errorf("discover hosts: %w", err)))
				continue
			}
		}
		for _, h := range hosts {
			pairs = append(pairs, Pair{Metric: m, Host: h})
		}
	}
	return pairs, failed
}

func (p *Pipeline) anyPort(metric string) bool {
	return slices.Contains(p.cfg.PrefixMetrics, metric)
}

func (p *Pipeline) filter(pair Pair) metricsource.Filter {
	return metricsource.ForHost(pair.Host, p.anyPort(pair.Metric))
}

func (p *Pipeline) pairLogger(ctx context.Context, pair Pair) *logging.Logger {
	return p.logger.WithContext(ctx).WithField("metric", pair.Metric).WithField("host", pair.Host)
}

func toSeries(s metricsource.Sequence) spot.Series {
	return spot.Series{Timestamps: s.Timestamps, Values: s.Values}
}

func minutesMillis(minutes int) int64 {
	return int64(minutes) * int64(time.Minute/time.Millisecond)
}
