// Package spot implements streaming peaks-over-threshold anomaly detection.
//
// A Detector is fitted once on an initial batch, which fixes the initial
// thresholds and fits a GPD to the exceedances on each watched side. Each
// later observation is de-trended against the live window and tested
// against the current decision boundaries; normal observations beyond the
// initial threshold become new peaks and move the boundary. Anomalies are
// never absorbed.
//
// Detectors are not safe for concurrent use; see package detectorstate.
package spot

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/moolen/tailwatch/internal/logging"
	"github.com/moolen/tailwatch/internal/tail"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// minResiduals is the smallest de-trended batch a fit accepts.
const minResiduals = 10

var (
	// ErrNotFitted is returned by Predict before a successful Fit.
	ErrNotFitted = errors.New("detector has not been fitted")
	// ErrLengthMismatch is returned for series whose columns differ in length.
	ErrLengthMismatch = errors.New("timestamps and values differ in length")
)

// InsufficientDataError is returned by Fit when the batch is too short.
type InsufficientDataError struct {
	Available int
	Required  int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d observations available, %d required", e.Available, e.Required)
}

// Series is a run of observations with ascending millisecond timestamps.
// Timestamps may be omitted for Fit.
type Series struct {
	Timestamps []int64
	Values     []float64
}

func (s Series) validate(requireTimestamps bool) error {
	if len(s.Timestamps) == 0 && !requireTimestamps {
		return nil
	}
	if len(s.Timestamps) != len(s.Values) {
		return fmt.Errorf("%w: %d timestamps, %d values", ErrLengthMismatch, len(s.Timestamps), len(s.Values))
	}
	return nil
}

// Prediction holds the verdicts for the observations a Predict call
// processed. Observations at or before the watermark are not included.
type Prediction struct {
	Timestamps []int64
	Values     []float64
	Residuals  []float64
	Anomalies  []bool
	// WarmingUp is set when anomalies were suppressed because the detector
	// has not seen enough data since it was fitted.
	WarmingUp bool
}

// Count returns the number of anomalous observations.
func (p *Prediction) Count() int {
	n := 0
	for _, a := range p.Anomalies {
		if a {
			n++
		}
	}
	return n
}

// State is a read-only snapshot of a detector.
type State struct {
	InitUp      float64
	InitDown    float64
	ExtremeUp   float64
	ExtremeDown float64
	PeaksUp     []float64
	PeaksDown   []float64
	Window      []float64
	N           int
	Counter     int
	Latest      int64
	Created     int64
	Fitted      bool
}

// Detector is one streaming detector.
type Detector struct {
	params Hyperparameters
	logger *logging.Logger

	window  *ring
	history *ring

	init    [2]float64
	extreme [2]float64
	peaks   [2][]float64
	fits    [2]tail.Fit

	n       int
	counter int
	latest  int64
	created int64
	fitted  bool
}

// New returns an unfitted detector.
func New(params Hyperparameters) (*Detector, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid hyperparameters: %w", err)
	}
	return &Detector{
		params:  params,
		logger:  logging.GetLogger("spot"),
		init:    [2]float64{math.Inf(1), math.Inf(-1)},
		extreme: [2]float64{math.Inf(1), math.Inf(-1)},
	}, nil
}

// Params returns the detector hyperparameters.
func (d *Detector) Params() Hyperparameters {
	return d.params
}

// Fit calibrates the detector on batch. The watermark moves to the last
// timestamp of batch, so a later Predict over an overlapping range only
// processes newer observations.
func (d *Detector) Fit(batch Series) error {
	if err := batch.validate(false); err != nil {
		return err
	}
	values := batch.Values

	required := minResiduals
	if d.params.detrends() {
		required += d.params.Depth
	}
	if len(values) < required {
		return &InsufficientDataError{Available: len(values), Required: required}
	}

	d.calibrate(d.detrendBatch(values))

	d.window = nil
	if d.params.detrends() {
		d.window = newRing(d.params.Depth)
		for _, v := range values[len(values)-d.params.Depth:] {
			d.window.push(v)
		}
	}

	capacity := d.params.HistorySize
	if capacity == 0 {
		capacity = len(values)
	}
	if capacity < required {
		capacity = required
	}
	d.history = newRing(capacity)
	for _, v := range values {
		d.history.push(v)
	}

	if n := len(batch.Timestamps); n > 0 {
		d.latest = batch.Timestamps[n-1]
		d.created = d.latest
	}
	d.counter = 0
	d.fitted = true
	return nil
}

// detrendBatch returns the residuals of values against the trailing window
// mean, or the finite values themselves when the method does not de-trend.
func (d *Detector) detrendBatch(values []float64) []float64 {
	if !d.params.detrends() {
		return finite(values)
	}
	depth := d.params.Depth
	residuals := make([]float64, 0, len(values)-depth)
	for j := 0; j+depth < len(values); j++ {
		r := values[j+depth] - d.level(values[j:j+depth])
		if !math.IsNaN(r) && !math.IsInf(r, 0) {
			residuals = append(residuals, r)
		}
	}
	return residuals
}

func (d *Detector) calibrate(residuals []float64) {
	sorted := append([]float64(nil), residuals...)
	sort.Float64s(sorted)

	d.n = len(sorted)
	d.init = [2]float64{math.Inf(1), math.Inf(-1)}
	d.extreme = [2]float64{math.Inf(1), math.Inf(-1)}
	d.peaks = [2][]float64{}
	d.fits = [2]tail.Fit{}

	if len(sorted) == 0 {
		return
	}

	if d.params.Side.watchesUp() {
		thr := stat.Quantile(d.params.UpperQuantile, stat.Empirical, sorted, nil)
		d.init[tail.Up] = thr
		for _, r := range sorted {
			if r > thr {
				d.peaks[tail.Up] = append(d.peaks[tail.Up], r-thr)
			}
		}
		d.refresh(tail.Up)
	}
	if d.params.Side.watchesDown() {
		thr := stat.Quantile(d.params.LowerQuantile, stat.Empirical, sorted, nil)
		d.init[tail.Down] = thr
		for _, r := range sorted {
			if r < thr {
				d.peaks[tail.Down] = append(d.peaks[tail.Down], thr-r)
			}
		}
		d.refresh(tail.Down)
	}
}

// refresh recomputes the decision boundary of side from its peaks. The
// boundary never lies inside the most extreme absorbed peak. A side without
// peaks never fires.
func (d *Detector) refresh(side tail.Side) {
	peaks := d.peaks[side]
	if len(peaks) == 0 {
		d.fits[side] = tail.Fit{}
		if side == tail.Up {
			d.extreme[side] = math.Inf(1)
		} else {
			d.extreme[side] = math.Inf(-1)
		}
		return
	}

	fit := tail.Grimshaw(peaks)
	d.fits[side] = fit
	q := tail.Quantile(fit, d.init[side], side, d.params.Probability, d.n, len(peaks))

	maxPeak := floats.Max(peaks)
	if side == tail.Up {
		if edge := d.init[side] + maxPeak; !(q >= edge) {
			q = edge
		}
	} else {
		if edge := d.init[side] - maxPeak; !(q <= edge) {
			q = edge
		}
	}
	d.extreme[side] = q
}

// Update tests one de-trended observation and reports whether it is an
// anomaly. Anomalies leave the model untouched; a normal observation beyond
// an initial threshold is absorbed as a peak on that side.
func (d *Detector) Update(residual float64) bool {
	if math.IsNaN(residual) {
		return false
	}
	if residual > d.extreme[tail.Up] || residual < d.extreme[tail.Down] {
		return true
	}

	d.n++
	switch {
	case residual > d.init[tail.Up]:
		d.peaks[tail.Up] = append(d.peaks[tail.Up], residual-d.init[tail.Up])
		d.refresh(tail.Up)
	case residual < d.init[tail.Down]:
		d.peaks[tail.Down] = append(d.peaks[tail.Down], d.init[tail.Down]-residual)
		d.refresh(tail.Down)
	}
	return false
}

// Predict processes the observations of s newer than the watermark and
// returns one verdict per processed observation. Normal observations enter
// the live window and the refit history. When more than UpdateInterval
// observations were processed since the last fit, the detector refits from
// its history.
func (d *Detector) Predict(s Series) (*Prediction, error) {
	if !d.fitted {
		return nil, ErrNotFitted
	}
	if err := s.validate(true); err != nil {
		return nil, err
	}

	pred := &Prediction{}
	for i, ts := range s.Timestamps {
		if ts <= d.latest {
			continue
		}
		d.latest = ts

		x := s.Values[i]
		r := x
		if d.window != nil {
			r = x - d.level(d.window.values())
		}

		anomalous := false
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			anomalous = d.Update(r)
			if !anomalous {
				if d.window != nil {
					d.window.push(x)
				}
				d.history.push(x)
			}
		}
		d.counter++

		pred.Timestamps = append(pred.Timestamps, ts)
		pred.Values = append(pred.Values, x)
		pred.Residuals = append(pred.Residuals, r)
		pred.Anomalies = append(pred.Anomalies, anomalous)

		if d.params.UpdateInterval > 0 && d.counter > d.params.UpdateInterval {
			d.refit()
		}
	}

	if d.latest-d.created < d.params.Warmup.Milliseconds() {
		pred.WarmingUp = true
		for i := range pred.Anomalies {
			pred.Anomalies[i] = false
		}
	}
	return pred, nil
}

// refit recalibrates from the history buffer, keeping the watermarks.
func (d *Detector) refit() {
	latest, created := d.latest, d.created
	if err := d.Fit(Series{Values: d.history.values()}); err != nil {
		d.logger.Warn("refit skipped, keeping current model: %v", err)
		d.counter = 0
		return
	}
	d.latest, d.created = latest, created
	d.logger.Debug("refit from %d observations", d.history.len())
}

// Bounds returns the current lower and upper decision boundaries on the
// residual scale.
func (d *Detector) Bounds() (lower, upper float64) {
	return d.extreme[tail.Down], d.extreme[tail.Up]
}

// Watermark returns the newest processed timestamp.
func (d *Detector) Watermark() int64 {
	return d.latest
}

// State returns a snapshot of the detector.
func (d *Detector) State() State {
	st := State{
		InitUp:      d.init[tail.Up],
		InitDown:    d.init[tail.Down],
		ExtremeUp:   d.extreme[tail.Up],
		ExtremeDown: d.extreme[tail.Down],
		PeaksUp:     append([]float64(nil), d.peaks[tail.Up]...),
		PeaksDown:   append([]float64(nil), d.peaks[tail.Down]...),
		N:           d.n,
		Counter:     d.counter,
		Latest:      d.latest,
		Created:     d.created,
		Fitted:      d.fitted,
	}
	if d.window != nil {
		st.Window = d.window.values()
	}
	return st
}

// level is the de-trending mean of values for the detector's method.
func (d *Detector) level(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if d.params.Method == MethodESPOT {
		alpha := 2 / float64(d.params.Depth+1)
		m := values[0]
		for _, v := range values[1:] {
			m = alpha*v + (1-alpha)*m
		}
		return m
	}
	return stat.Mean(values, nil)
}

func finite(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}
