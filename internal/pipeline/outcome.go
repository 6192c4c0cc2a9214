package pipeline

import (
	"errors"
	"fmt"
)

// Status is the result class of one (metric, host) pair in a scan.
type Status string

const (
	StatusCalibrated         Status = "calibrated"
	StatusUpToDate           Status = "up_to_date"
	StatusInsufficientData   Status = "insufficient_data"
	StatusFitFailed          Status = "fit_failed"
	StatusFetchFailed        Status = "fetch_failed"
	StatusMissingCalibration Status = "missing_calibration"
	StatusDetected           Status = "detected"
	StatusPersistFailed      Status = "persist_failed"
	StatusCanceled           Status = "canceled"
)

// Pair is one metric on one host.
type Pair struct {
	Metric string
	Host   string
}

func (p Pair) String() string {
	return fmt.Sprintf("%s@%s", p.Metric, p.Host)
}

// Outcome reports what a scan did for one pair. Err carries the cause of
// every status other than calibrated, up_to_date and detected.
type Outcome struct {
	Pair
	Status Status
	Err    error

	// Detection only.
	Processed  int
	Anomalies  int
	Duplicates int
	Suppressed int
}

// add folds the detection counts of o into the receiver. A persist failure
// in o marks the receiver failed as well.
func (o *Outcome) add(other Outcome) {
	o.Processed += other.Processed
	o.Anomalies += other.Anomalies
	o.Duplicates += other.Duplicates
	o.Suppressed += other.Suppressed
	if other.Status == StatusPersistFailed {
		o.Status = StatusPersistFailed
		o.Err = errors.Join(o.Err, other.Err)
	}
}

func outcome(p Pair, status Status, err error) Outcome {
	return Outcome{Pair: p, Status: status, Err: err}
}

// CountByStatus tallies outcomes per status.
func CountByStatus(outcomes []Outcome) map[Status]int {
	counts := make(map[Status]int)
	for _, o := range outcomes {
		counts[o.Status]++
	}
	return counts
}
