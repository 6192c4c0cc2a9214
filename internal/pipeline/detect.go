package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/moolen/tailwatch/internal/detectorstate"
	"github.com/moolen/tailwatch/internal/metricsource"
	"github.com/moolen/tailwatch/internal/spot"
	"github.com/moolen/tailwatch/internal/store"
	"go.opentelemetry.io/otel/attribute"
)

// Detect runs one detection scan over metrics and returns one outcome per
// pair.
func (p *Pipeline) Detect(ctx context.Context, metrics []string) []Outcome {
	start := time.Now()
	ctx, span := p.deps.Tracer.Start(ctx, "pipeline.detect")
	defer span.End()

	pairs, outcomes := p.pairs(ctx, metrics)
	span.SetAttributes(attribute.Int("pairs", len(pairs)))

	outcomes = append(outcomes, p.pool.ParallelExecute(ctx, pairs, StatusFitFailed, p.detectPair)...)

	counts := CountByStatus(outcomes)
	anomalies := 0
	for _, o := range outcomes {
		anomalies += o.Anomalies
		if p.deps.Metrics != nil && o.Anomalies > 0 {
			p.deps.Metrics.AnomaliesTotal.WithLabelValues(o.Metric).Add(float64(o.Anomalies))
		}
	}
	if p.deps.Metrics != nil {
		for status, n := range counts {
			p.deps.Metrics.DetectionsTotal.WithLabelValues(string(status)).Add(float64(n))
		}
		p.deps.Metrics.ScanDuration.WithLabelValues("detection").Observe(time.Since(start).Seconds())
	}
	span.SetAttributes(attribute.Int("anomalies", anomalies))
	p.logger.Info("detection scan finished in %s: %d pairs, %d detected, %d new anomalies",
		time.Since(start).Round(time.Millisecond), len(outcomes), counts[StatusDetected], anomalies)
	return outcomes
}

func (p *Pipeline) detectPair(ctx context.Context, pair Pair) Outcome {
	ctx, span := p.deps.Tracer.Start(ctx, "pipeline.detect_pair")
	defer span.End()
	span.SetAttributes(attribute.String("metric", pair.Metric), attribute.String("host", pair.Host))
	logger := p.pairLogger(ctx, pair)

	params, err := p.deps.Calibrations.Load(ctx, pair.Metric, pair.Host)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("no calibration yet, skipping detection")
		return outcome(pair, StatusMissingCalibration, err)
	}
	if err != nil {
		span.RecordError(err)
		logger.ErrorWithErr("failed to load calibration", err)
		return outcome(pair, StatusFetchFailed, err)
	}
	if params.Step <= 0 {
		err := fmt.Errorf("%w: calibrated step is zero", errShortWindow)
		logger.ErrorWithErr("detection skipped", err)
		return outcome(pair, StatusInsufficientData, err)
	}

	minutes := p.cfg.DetectionTraining + p.cfg.DetectionForecasting
	seqs, err := p.deps.Source.Fetch(ctx, pair.Metric, minutes, params.Step, p.filter(pair))
	if err != nil {
		span.RecordError(err)
		logger.ErrorWithErr("failed to fetch detection window", err)
		return outcome(pair, StatusFetchFailed, err)
	}
	seqs = slices.DeleteFunc(seqs, func(s metricsource.Sequence) bool { return s.Len() == 0 })
	if len(seqs) == 0 {
		err := &spot.InsufficientDataError{Available: 0, Required: 1}
		logger.Error("no data in detection window of %d minutes", minutes)
		return outcome(pair, StatusInsufficientData, err)
	}

	// A prefix metric returns one sequence per port of the host, each with
	// its own detector. Their anomalies share the pair's host key.
	res := Outcome{Pair: pair, Status: StatusDetected}
	var firstFailure *Outcome
	predicted := 0
	for _, seq := range seqs {
		pred, status, err := p.predictSequence(pair, seq)
		if err != nil {
			span.RecordError(err)
			logger.WithField("instance", seq.Host()).ErrorWithErr("detection skipped", err)
			if firstFailure == nil {
				o := outcome(pair, status, err)
				firstFailure = &o
			}
			continue
		}
		predicted++
		if pred.WarmingUp {
			logger.Debug("detector for %s warming up, anomalies suppressed", seq.Host())
		}
		res.add(p.persist(ctx, pair, pred))
	}
	if predicted == 0 {
		return *firstFailure
	}
	return res
}

// predictSequence runs seq through its detector, fitting the detector on the
// head of the window first if it does not exist yet.
func (p *Pipeline) predictSequence(pair Pair, seq metricsource.Sequence) (*spot.Prediction, Status, error) {
	last := seq.Timestamps[len(seq.Timestamps)-1]
	head, full := seq.Split(last - minutesMillis(p.cfg.DetectionForecasting))

	fp := detectorstate.NewFingerprint(pair.Metric, seq.Labels, p.cfg.Params)
	if _, err := p.deps.Detectors.FitIfAbsent(fp, p.cfg.Params, toSeries(head)); err != nil {
		var insufficient *spot.InsufficientDataError
		if errors.As(err, &insufficient) {
			return nil, StatusInsufficientData, err
		}
		return nil, StatusFitFailed, fmt.Errorf("detector fit: %w", err)
	}

	pred, err := p.deps.Detectors.Predict(fp, toSeries(full))
	if err != nil {
		return nil, StatusFitFailed, fmt.Errorf("prediction: %w", err)
	}
	return pred, StatusDetected, nil
}

// persist stores the anomalies of pred that are not below the metric floor.
func (p *Pipeline) persist(ctx context.Context, pair Pair, pred *spot.Prediction) Outcome {
	res := Outcome{Pair: pair, Status: StatusDetected, Processed: len(pred.Anomalies)}
	floor, hasFloor := p.cfg.Floors[pair.Metric]

	var errs []error
	for i, anomalous := range pred.Anomalies {
		if !anomalous {
			continue
		}
		if hasFloor && pred.Values[i] < floor {
			res.Suppressed++
			continue
		}
		inserted, err := p.deps.Anomalies.Insert(ctx, store.Anomaly{
			Metric:    pair.Metric,
			Host:      pair.Host,
			Value:     pred.Values[i],
			Timestamp: pred.Timestamps[i],
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if inserted {
			res.Anomalies++
		} else {
			res.Duplicates++
		}
	}

	if len(errs) > 0 {
		res.Status = StatusPersistFailed
		res.Err = errors.Join(errs...)
		p.pairLogger(ctx, pair).ErrorWithErr("failed to persist %d anomalies", res.Err, len(errs))
	}
	return res
}
