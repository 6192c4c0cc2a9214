package scenario

import (
	"testing"

	"github.com/moolen/tailwatch/internal/alarm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func single(weight float64, saturation int) Scenario {
	return Scenario{
		Name:            "brute_force",
		Metrics:         []Metric{{Name: "failed_logins", Weight: weight, AnomaliesNumInPeriod: saturation}},
		LowThreshold:    0.2,
		MediumThreshold: 0.6,
		HighThreshold:   0.8,
	}
}

func TestScoreSaturates(t *testing.T) {
	s := single(1.0, 5)
	tests := []struct {
		count int
		want  float64
	}{
		{0, 0},
		{3, 0.6},
		{5, 1.0},
		{12, 1.0},
	}
	for _, tt := range tests {
		got := s.Score(map[string]int{"failed_logins": tt.count})
		assert.InDelta(t, tt.want, got, 1e-12, "count %d", tt.count)
		assert.LessOrEqual(t, got, 1.0)
	}
}

func TestLevelBoundaries(t *testing.T) {
	s := single(1.0, 5)
	tests := []struct {
		name  string
		count int
		want  alarm.Level
		ok    bool
	}{
		{"no anomalies", 0, "", false},
		{"exactly low", 1, alarm.LevelInfo, true},
		{"between low and medium", 2, alarm.LevelInfo, true},
		{"exactly medium", 3, alarm.LevelWarning, true},
		{"exactly high", 4, alarm.LevelCritical, true},
		{"saturated", 5, alarm.LevelCritical, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, ok := s.Level(s.Score(map[string]int{"failed_logins": tt.count}))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, level)
		})
	}
}

func TestLevelBelowLow(t *testing.T) {
	s := single(1.0, 5)
	s.LowThreshold = 0.5
	_, ok := s.Level(0.4)
	assert.False(t, ok)
}

func TestAddMissingWeight(t *testing.T) {
	t.Run("residual goes to the unassigned metric", func(t *testing.T) {
		s := Scenario{Metrics: []Metric{{Name: "a", Weight: 0.3}, {Name: "b"}}}
		require.NoError(t, s.AddMissingWeight())
		assert.InDelta(t, 0.3, s.Metrics[0].Weight, 1e-12)
		assert.InDelta(t, 0.7, s.Metrics[1].Weight, 1e-12)
	})

	t.Run("all unassigned share equally", func(t *testing.T) {
		s := Scenario{Metrics: []Metric{{Name: "a"}, {Name: "b"}, {Name: "c"}}}
		require.NoError(t, s.AddMissingWeight())
		for _, m := range s.Metrics {
			assert.InDelta(t, 1.0/3, m.Weight, 1e-12)
		}
	})

	t.Run("nothing to distribute", func(t *testing.T) {
		s := Scenario{Metrics: []Metric{{Name: "a", Weight: 0.5}, {Name: "b", Weight: 0.5}}}
		require.NoError(t, s.AddMissingWeight())
		assert.Equal(t, 0.5, s.Metrics[1].Weight)
	})

	t.Run("oversubscribed weights are kept", func(t *testing.T) {
		s := Scenario{Name: "x", Metrics: []Metric{{Name: "a", Weight: 0.7}, {Name: "b", Weight: 0.4}, {Name: "c"}}}
		err := s.AddMissingWeight()
		assert.ErrorIs(t, err, ErrWeightOversubscribed)
		assert.Equal(t, 0.0, s.Metrics[2].Weight)
		assert.InDelta(t, 0.7, s.Score(map[string]int{"a": 10, "c": 10}), 1e-12)
	})
}

func TestContribution(t *testing.T) {
	assert.Equal(t, 0.0, Metric{Weight: 0.5, AnomaliesNumInPeriod: 5}.Contribution(-1))
	assert.Equal(t, 0.5, Metric{Weight: 0.5}.Contribution(1), "no saturation point means any anomaly saturates")
	assert.Equal(t, 0.0, Metric{AnomaliesNumInPeriod: 5}.Contribution(3))
}

func TestRequiredMetrics(t *testing.T) {
	scenarios := []Scenario{
		{Metrics: []Metric{{Name: "b"}, {Name: "a"}}},
		{Metrics: []Metric{{Name: "a"}, {Name: "c"}}},
	}
	assert.Equal(t, []string{"a", "b", "c"}, RequiredMetrics(scenarios))
	assert.Empty(t, RequiredMetrics(nil))
}
