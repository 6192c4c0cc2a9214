// Package store persists calibration parameters and detected anomalies.
package store

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrNotFound is returned when no calibration exists for a metric and host.
var ErrNotFound = errors.New("calibration not found")

// CalibrationParams is the outcome of one calibration of a metric on a host.
type CalibrationParams struct {
	// MaxZScore is the largest standardized residual seen while replaying
	// the forecasting part of the calibration window.
	MaxZScore float64 `json:"max_z_score"`
	StdErrors float64 `json:"std_errors"`
	AvgErrors float64 `json:"avg_errors"`
	// MaxRatio is the largest residual relative to the active boundary.
	MaxRatio float64 `json:"max_ratio"`
	// Step is the sampling interval in milliseconds the model was fit at.
	Step         int64     `json:"step"`
	CalibratedAt time.Time `json:"calibrated_at"`
}

// Anomaly is one anomalous observation.
type Anomaly struct {
	Metric    string  `json:"metric"`
	Host      string  `json:"host"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

// CalibrationStore persists one CalibrationParams per metric and host.
type CalibrationStore interface {
	// Save replaces the calibration of metric on host.
	Save(ctx context.Context, metric, host string, params CalibrationParams) error
	// Load returns the calibration of metric on host or ErrNotFound.
	Load(ctx context.Context, metric, host string) (*CalibrationParams, error)
	// AgeMinutes returns the minutes since metric was calibrated on host,
	// rounded up, or 0 when it never was.
	AgeMinutes(ctx context.Context, metric, host string, now time.Time) (int, error)
}

// AnomalyStore persists anomalies.
type AnomalyStore interface {
	// Insert stores a unless an anomaly with the same metric, host and
	// timestamp exists. inserted reports whether a row was written.
	Insert(ctx context.Context, a Anomaly) (inserted bool, err error)
	// Count returns the anomalies of metric on host with from <= timestamp <= to.
	Count(ctx context.Context, metric string, from, to int64, host string) (int, error)
}

// ageMinutes rounds up so that a stored calibration never reports age 0.
func ageMinutes(calibratedAt, now time.Time) int {
	age := now.Sub(calibratedAt)
	if age <= 0 {
		return 1
	}
	return int(math.Ceil(age.Minutes()))
}
