// Package scenario scores security scenarios from per-metric anomaly counts
// and raises leveled alarms.
package scenario

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/moolen/tailwatch/internal/alarm"
)

// ErrWeightOversubscribed is returned by AddMissingWeight when the explicit
// weights leave nothing to distribute.
var ErrWeightOversubscribed = errors.New("explicit metric weights leave no residual weight")

// Metric is one weighted member of a scenario.
type Metric struct {
	Name string `yaml:"name" json:"name"`
	// Weight 0 means the metric shares the residual weight.
	Weight float64 `yaml:"weight" json:"weight"`
	// AnomaliesNumInPeriod is the count at which the metric contributes its
	// full weight.
	AnomaliesNumInPeriod int `yaml:"anomalies_num_in_period" json:"anomalies_num_in_period"`
}

// Scenario is a weighted set of metrics with alarm thresholds.
type Scenario struct {
	Name            string   `yaml:"name" json:"name"`
	RootCause       string   `yaml:"root_cause,omitempty" json:"root_cause,omitempty"`
	Metrics         []Metric `yaml:"metrics" json:"metrics"`
	LowThreshold    float64  `yaml:"low_threshold" json:"low_threshold"`
	MediumThreshold float64  `yaml:"medium_threshold" json:"medium_threshold"`
	HighThreshold   float64  `yaml:"high_threshold" json:"high_threshold"`
}

// MetricNames returns the names of the scenario metrics in order.
func (s Scenario) MetricNames() []string {
	names := make([]string, len(s.Metrics))
	for i, m := range s.Metrics {
		names[i] = m.Name
	}
	return names
}

// RequiredMetrics returns the distinct metric names used by scenarios,
// sorted.
func RequiredMetrics(scenarios []Scenario) []string {
	seen := make(map[string]struct{})
	for _, s := range scenarios {
		for _, m := range s.Metrics {
			seen[m.Name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AddMissingWeight gives every zero-weight metric an equal share of
// 1 - sum(explicit weights). When that residual is not positive the weights
// are left untouched and ErrWeightOversubscribed is returned.
func (s *Scenario) AddMissingWeight() error {
	explicit := 0.0
	missing := 0
	for _, m := range s.Metrics {
		if m.Weight == 0 {
			missing++
			continue
		}
		explicit += m.Weight
	}
	if missing == 0 {
		return nil
	}

	residual := 1 - explicit
	if residual <= 0 {
		return fmt.Errorf("scenario %q: %w (sum %.3f)", s.Name, ErrWeightOversubscribed, explicit)
	}
	share := residual / float64(missing)
	for i := range s.Metrics {
		if s.Metrics[i].Weight == 0 {
			s.Metrics[i].Weight = share
		}
	}
	return nil
}

// Contribution is the saturating share of weight earned by count anomalies.
func (m Metric) Contribution(count int) float64 {
	if count <= 0 || m.Weight <= 0 {
		return 0
	}
	if m.AnomaliesNumInPeriod <= 0 {
		return m.Weight
	}
	return math.Min(1, float64(count)/float64(m.AnomaliesNumInPeriod)) * m.Weight
}

// Score sums the metric contributions. counts is keyed by metric name;
// missing metrics count as zero.
func (s Scenario) Score(counts map[string]int) float64 {
	total := 0.0
	for _, m := range s.Metrics {
		total += m.Contribution(counts[m.Name])
	}
	return total
}

// Level maps a score to an alarm level. ok is false when the score does not
// reach the low threshold or is zero.
func (s Scenario) Level(score float64) (level alarm.Level, ok bool) {
	switch {
	case score <= 0 || score < s.LowThreshold:
		return "", false
	case score >= s.HighThreshold:
		return alarm.LevelCritical, true
	case score >= s.MediumThreshold:
		return alarm.LevelWarning, true
	default:
		return alarm.LevelInfo, true
	}
}
