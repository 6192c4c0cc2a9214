package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/moolen/tailwatch/internal/logging"
	"github.com/moolen/tailwatch/internal/metricsource"
	"github.com/moolen/tailwatch/internal/spot"
	"github.com/moolen/tailwatch/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gonum.org/v1/gonum/stat"
)

// Calibrate runs one calibration scan over metrics and returns one outcome
// per pair.
func (p *Pipeline) Calibrate(ctx context.Context, metrics []string) []Outcome {
	start := time.Now()
	ctx, span := p.deps.Tracer.Start(ctx, "pipeline.calibrate")
	defer span.End()

	pairs, outcomes := p.pairs(ctx, metrics)
	span.SetAttributes(attribute.Int("pairs", len(pairs)))

	outcomes = append(outcomes, p.pool.ParallelExecute(ctx, pairs, StatusFitFailed, p.calibratePair)...)

	counts := CountByStatus(outcomes)
	for status, n := range counts {
		if p.deps.Metrics != nil {
			p.deps.Metrics.CalibrationsTotal.WithLabelValues(string(status)).Add(float64(n))
		}
		span.SetAttributes(attribute.Int(string(status), n))
	}
	if p.deps.Metrics != nil {
		p.deps.Metrics.ScanDuration.WithLabelValues("calibration").Observe(time.Since(start).Seconds())
	}
	p.logger.Info("calibration scan finished in %s: %d pairs, %d calibrated, %d up to date",
		time.Since(start).Round(time.Millisecond), len(outcomes), counts[StatusCalibrated], counts[StatusUpToDate])
	return outcomes
}

func (p *Pipeline) calibratePair(ctx context.Context, pair Pair) Outcome {
	ctx, span := p.deps.Tracer.Start(ctx, "pipeline.calibrate_pair")
	defer span.End()
	span.SetAttributes(attribute.String("metric", pair.Metric), attribute.String("host", pair.Host))
	logger := p.pairLogger(ctx, pair)

	now := p.now()
	age, err := p.deps.Calibrations.AgeMinutes(ctx, pair.Metric, pair.Host, now)
	if err != nil {
		span.RecordError(err)
		logger.ErrorWithErr("failed to read calibration age", err)
		return outcome(pair, StatusFetchFailed, fmt.Errorf("calibration age: %w", err))
	}
	if age != 0 && age <= p.cfg.ReCalibratePeriod {
		return outcome(pair, StatusUpToDate, nil)
	}

	minutes := p.cfg.CalibrationTraining + p.cfg.CalibrationForecasting
	step := metricsource.ChooseStep(minutes, p.cfg.MaxPoints, p.cfg.MinStep)
	seqs, err := p.deps.Source.Fetch(ctx, pair.Metric, minutes, step, p.filter(pair))
	if err != nil {
		span.RecordError(err)
		logger.ErrorWithErr("failed to fetch calibration window", err)
		return outcome(pair, StatusFetchFailed, err)
	}

	// Every port of a prefix metric shares one calibration; the sequence
	// covering the most of the window calibrates it.
	seq, ok := metricsource.Longest(seqs)
	if !ok {
		err := &spot.InsufficientDataError{Available: 0, Required: 1}
		logger.Error("no data in calibration window of %d minutes", minutes)
		return outcome(pair, StatusInsufficientData, err)
	}
	if err := checkSpan(seq, minutes); err != nil {
		logger.ErrorWithErr("calibration skipped", err)
		return outcome(pair, StatusInsufficientData, err)
	}

	params, err := p.calibrateSequence(seq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fit failed")
		var insufficient *spot.InsufficientDataError
		if errors.As(err, &insufficient) {
			logger.ErrorWithErr("calibration skipped", err)
			return outcome(pair, StatusInsufficientData, err)
		}
		logger.ErrorWithErr("calibration fit failed", err)
		return outcome(pair, StatusFitFailed, err)
	}
	params.CalibratedAt = now

	if err := p.deps.Calibrations.Save(ctx, pair.Metric, pair.Host, *params); err != nil {
		span.RecordError(err)
		logger.ErrorWithErr("failed to save calibration", err)
		return outcome(pair, StatusPersistFailed, err)
	}
	logger.InfoWithFields("calibrated",
		logging.Field("step_ms", params.Step),
		logging.Field("max_z_score", params.MaxZScore),
	)
	return outcome(pair, StatusCalibrated, nil)
}

// errShortWindow marks a fetched window shorter than requested.
var errShortWindow = errors.New("window shorter than required")

// checkSpan fails when seq was sampled with a zero step or does not cover
// the requested window. One step of slack absorbs range alignment.
func checkSpan(seq metricsource.Sequence, minutes int) error {
	if seq.Step <= 0 {
		return fmt.Errorf("%w: step is zero", errShortWindow)
	}
	required := minutesMillis(minutes)
	if seq.Span() < required-seq.Step {
		return fmt.Errorf("%w: span %dms, required %dms", errShortWindow, seq.Span(), required)
	}
	return nil
}

// calibrateSequence fits a detector on the training part of seq, replays
// the forecasting part and derives the fit diagnostics from its residuals.
func (p *Pipeline) calibrateSequence(seq metricsource.Sequence) (*store.CalibrationParams, error) {
	last := seq.Timestamps[len(seq.Timestamps)-1]
	head, full := seq.Split(last - minutesMillis(p.cfg.CalibrationForecasting))

	d, err := spot.New(p.cfg.Params)
	if err != nil {
		return nil, err
	}
	if err := d.Fit(toSeries(head)); err != nil {
		return nil, err
	}
	pred, err := d.Predict(toSeries(full))
	if err != nil {
		return nil, err
	}

	lower, upper := d.Bounds()
	params := diagnostics(pred.Residuals, lower, upper)
	params.Step = seq.Step
	return &params, nil
}

// diagnostics summarizes replay residuals: mean absolute error, standard
// deviation, the largest z-score and the largest residual relative to the
// boundary on its side.
func diagnostics(residuals []float64, lower, upper float64) store.CalibrationParams {
	var finite, abs []float64
	for _, r := range residuals {
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		finite = append(finite, r)
		abs = append(abs, math.Abs(r))
	}
	var out store.CalibrationParams
	if len(finite) == 0 {
		return out
	}

	mean, std := stat.MeanStdDev(finite, nil)
	out.AvgErrors = stat.Mean(abs, nil)
	if !math.IsNaN(std) {
		out.StdErrors = std
	}
	for _, r := range finite {
		if out.StdErrors > 0 {
			out.MaxZScore = math.Max(out.MaxZScore, math.Abs(r-mean)/out.StdErrors)
		}
		switch {
		case r > 0 && upper > 0 && !math.IsInf(upper, 0):
			out.MaxRatio = math.Max(out.MaxRatio, r/upper)
		case r < 0 && lower < 0 && !math.IsInf(lower, 0):
			out.MaxRatio = math.Max(out.MaxRatio, r/lower)
		}
	}
	return out
}
