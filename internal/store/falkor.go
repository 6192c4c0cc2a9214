package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moolen/tailwatch/internal/logging"
)

// Falkor stores calibrations and anomalies as FalkorDB nodes:
// (:Calibration {metric, host}) and (:Anomaly {metric, host, timestamp}).
// Both are written with MERGE on their identifying properties.
type Falkor struct {
	client GraphClient
	logger *logging.Logger
}

// NewFalkor returns a store on a connected client.
func NewFalkor(client GraphClient) *Falkor {
	return &Falkor{
		client: client,
		logger: logging.GetLogger("store.falkordb"),
	}
}

// Save implements CalibrationStore.
func (f *Falkor) Save(ctx context.Context, metric, host string, params CalibrationParams) error {
	query := `
		MERGE (c:Calibration {metric: $metric, host: $host})
		SET c.max_z_score = $max_z_score,
		    c.std_errors = $std_errors,
		    c.avg_errors = $avg_errors,
		    c.max_ratio = $max_ratio,
		    c.step = $step,
		    c.calibrated_at = $calibrated_at
	`
	_, err := f.client.ExecuteQuery(ctx, GraphQuery{
		Query: query,
		Parameters: map[string]interface{}{
			"metric":        metric,
			"host":          host,
			"max_z_score":   params.MaxZScore,
			"std_errors":    params.StdErrors,
			"avg_errors":    params.AvgErrors,
			"max_ratio":     params.MaxRatio,
			"step":          params.Step,
			"calibrated_at": params.CalibratedAt.UnixMilli(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to save calibration %s/%s: %w", metric, host, err)
	}
	f.logger.Debug("saved calibration metric=%s host=%s step=%d", metric, host, params.Step)
	return nil
}

// Load implements CalibrationStore.
func (f *Falkor) Load(ctx context.Context, metric, host string) (*CalibrationParams, error) {
	query := `
		MATCH (c:Calibration {metric: $metric, host: $host})
		RETURN c.max_z_score, c.std_errors, c.avg_errors, c.max_ratio, c.step, c.calibrated_at
	`
	result, err := f.client.ExecuteQuery(ctx, GraphQuery{
		Query:      query,
		Parameters: map[string]interface{}{"metric": metric, "host": host},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load calibration %s/%s: %w", metric, host, err)
	}
	if len(result.Rows) == 0 {
		return nil, ErrNotFound
	}

	row := result.Rows[0]
	if len(row) < 6 {
		return nil, fmt.Errorf("invalid calibration row: expected 6 columns, got %d", len(row))
	}

	var p CalibrationParams
	var calibratedAt int64
	fields := []struct {
		name string
		dst  *float64
	}{
		{"max_z_score", &p.MaxZScore},
		{"std_errors", &p.StdErrors},
		{"avg_errors", &p.AvgErrors},
		{"max_ratio", &p.MaxRatio},
	}
	for i, fld := range fields {
		v, err := toFloat64(row[i])
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", fld.name, err)
		}
		*fld.dst = v
	}
	if p.Step, err = toInt64(row[4]); err != nil {
		return nil, fmt.Errorf("failed to parse step: %w", err)
	}
	if calibratedAt, err = toInt64(row[5]); err != nil {
		return nil, fmt.Errorf("failed to parse calibrated_at: %w", err)
	}
	p.CalibratedAt = time.UnixMilli(calibratedAt).UTC()
	return &p, nil
}

// AgeMinutes implements CalibrationStore.
func (f *Falkor) AgeMinutes(ctx context.Context, metric, host string, now time.Time) (int, error) {
	p, err := f.Load(ctx, metric, host)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ageMinutes(p.CalibratedAt, now), nil
}

// Insert implements AnomalyStore.
func (f *Falkor) Insert(ctx context.Context, a Anomaly) (bool, error) {
	query := `
		MERGE (a:Anomaly {metric: $metric, host: $host, timestamp: $timestamp})
		ON CREATE SET a.value = $value
	`
	result, err := f.client.ExecuteQuery(ctx, GraphQuery{
		Query: query,
		Parameters: map[string]interface{}{
			"metric":    a.Metric,
			"host":      a.Host,
			"timestamp": a.Timestamp,
			"value":     a.Value,
		},
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert anomaly %s/%s@%d: %w", a.Metric, a.Host, a.Timestamp, err)
	}
	return result.Stats.NodesCreated > 0, nil
}

// Count implements AnomalyStore.
func (f *Falkor) Count(ctx context.Context, metric string, from, to int64, host string) (int, error) {
	query := `
		MATCH (a:Anomaly {metric: $metric, host: $host})
		WHERE a.timestamp >= $from AND a.timestamp <= $to
		RETURN count(a)
	`
	result, err := f.client.ExecuteQuery(ctx, GraphQuery{
		Query: query,
		Parameters: map[string]interface{}{
			"metric": metric,
			"host":   host,
			"from":   from,
			"to":     to,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count anomalies %s/%s: %w", metric, host, err)
	}
	if len(result.Rows) == 0 || len(result.Rows[0]) == 0 {
		return 0, nil
	}
	n, err := toInt64(result.Rows[0][0])
	if err != nil {
		return 0, fmt.Errorf("failed to parse count: %w", err)
	}
	return int(n), nil
}

// toFloat64 converts the numeric types FalkorDB returns.
func toFloat64(v interface{}) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case int64:
		return float64(val), nil
	case int:
		return float64(val), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", v)
	}
}

func toInt64(v interface{}) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case int:
		return int64(val), nil
	case float64:
		return int64(val), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", v)
	}
}
