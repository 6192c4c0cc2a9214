package spot

import (
	"fmt"
	"time"
)

// Method selects how observations are de-trended before they are tested.
type Method string

const (
	// MethodSPOT tests raw observations.
	MethodSPOT Method = "spot"
	// MethodDSPOT subtracts the moving average of the live window.
	MethodDSPOT Method = "dspot"
	// MethodESPOT subtracts the exponentially weighted mean of the live window.
	MethodESPOT Method = "espot"
)

// Direction selects the tails a detector watches.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
	DirectionBoth Direction = "both"
)

func (d Direction) watchesUp() bool   { return d == DirectionUp || d == DirectionBoth }
func (d Direction) watchesDown() bool { return d == DirectionDown || d == DirectionBoth }

// Hyperparameters configure a Detector.
type Hyperparameters struct {
	// Probability is the risk level: the tail mass beyond a decision boundary.
	Probability float64 `yaml:"probability" json:"probability"`
	// Depth is the live window width used for de-trending. Zero disables
	// de-trending for every method.
	Depth int `yaml:"depth" json:"depth"`
	// UpdateInterval is the number of processed observations after which the
	// detector refits itself from its history. Zero disables refits.
	UpdateInterval int `yaml:"update_interval" json:"update_interval"`
	Method         Method    `yaml:"method" json:"method"`
	Side           Direction `yaml:"side" json:"side"`
	// LowerQuantile and UpperQuantile place the initial thresholds.
	LowerQuantile float64 `yaml:"lower_quantile" json:"lower_quantile"`
	UpperQuantile float64 `yaml:"upper_quantile" json:"upper_quantile"`
	// Warmup suppresses anomalies until this much data time has passed
	// since the detector was fitted.
	Warmup time.Duration `yaml:"warmup" json:"warmup"`
	// HistorySize bounds the buffer used for refits. Zero sizes it to the
	// initial batch.
	HistorySize int `yaml:"history_size" json:"history_size"`
}

// DefaultHyperparameters returns the production defaults.
func DefaultHyperparameters() Hyperparameters {
	return Hyperparameters{
		Probability:   1e-4,
		Depth:         10,
		Method:        MethodDSPOT,
		Side:          DirectionBoth,
		LowerQuantile: 0.02,
		UpperQuantile: 0.98,
	}
}

// Validate reports the first invalid field.
func (h Hyperparameters) Validate() error {
	switch {
	case h.Probability <= 0 || h.Probability >= 1:
		return fmt.Errorf("probability must be in (0, 1), got %g", h.Probability)
	case h.Depth < 0:
		return fmt.Errorf("depth must not be negative, got %d", h.Depth)
	case h.UpdateInterval < 0:
		return fmt.Errorf("update_interval must not be negative, got %d", h.UpdateInterval)
	case h.LowerQuantile <= 0 || h.LowerQuantile >= 1:
		return fmt.Errorf("lower_quantile must be in (0, 1), got %g", h.LowerQuantile)
	case h.UpperQuantile <= 0 || h.UpperQuantile >= 1:
		return fmt.Errorf("upper_quantile must be in (0, 1), got %g", h.UpperQuantile)
	case h.LowerQuantile >= h.UpperQuantile:
		return fmt.Errorf("lower_quantile %g must be below upper_quantile %g", h.LowerQuantile, h.UpperQuantile)
	case h.Warmup < 0:
		return fmt.Errorf("warmup must not be negative, got %s", h.Warmup)
	case h.HistorySize < 0:
		return fmt.Errorf("history_size must not be negative, got %d", h.HistorySize)
	}
	switch h.Method {
	case MethodSPOT, MethodDSPOT, MethodESPOT:
	default:
		return fmt.Errorf("unknown method %q", h.Method)
	}
	switch h.Side {
	case DirectionUp, DirectionDown, DirectionBoth:
	default:
		return fmt.Errorf("unknown side %q", h.Side)
	}
	return nil
}

// detrends reports whether observations are compared against a window mean.
func (h Hyperparameters) detrends() bool {
	return h.Depth > 0 && h.Method != MethodSPOT
}
