package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCalibrationRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := m.Load(ctx, "cpu", "h1")
	assert.ErrorIs(t, err, ErrNotFound)

	age, err := m.AgeMinutes(ctx, "cpu", "h1", now)
	require.NoError(t, err)
	assert.Equal(t, 0, age)

	params := CalibrationParams{MaxZScore: 3.2, Step: 60000, CalibratedAt: now.Add(-90 * time.Second)}
	require.NoError(t, m.Save(ctx, "cpu", "h1", params))

	got, err := m.Load(ctx, "cpu", "h1")
	require.NoError(t, err)
	assert.Equal(t, params, *got)

	age, err = m.AgeMinutes(ctx, "cpu", "h1", now)
	require.NoError(t, err)
	assert.Equal(t, 2, age)
}

func TestAgeMinutes(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		at   time.Time
		want int
	}{
		{"same instant", now, 1},
		{"future", now.Add(time.Minute), 1},
		{"seconds ago", now.Add(-10 * time.Second), 1},
		{"exactly five minutes", now.Add(-5 * time.Minute), 5},
		{"just over five minutes", now.Add(-5*time.Minute - time.Second), 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ageMinutes(tt.at, now))
		})
	}
}

func TestMemoryAnomaliesAreIdempotent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	a := Anomaly{Metric: "cpu", Host: "h1", Value: 99, Timestamp: 1000}

	inserted, err := m.Insert(ctx, a)
	require.NoError(t, err)
	assert.True(t, inserted)

	a.Value = 42
	inserted, err = m.Insert(ctx, a)
	require.NoError(t, err)
	assert.False(t, inserted)

	n, err := m.Count(ctx, "cpu", 0, 2000, "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 99.0, m.Anomalies()[0].Value)
}

func TestMemoryCountBounds(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, ts := range []int64{100, 200, 300} {
		_, err := m.Insert(ctx, Anomaly{Metric: "cpu", Host: "h1", Timestamp: ts})
		require.NoError(t, err)
	}
	_, err := m.Insert(ctx, Anomaly{Metric: "cpu", Host: "h2", Timestamp: 200})
	require.NoError(t, err)

	tests := []struct {
		from, to int64
		want     int
	}{
		{100, 300, 3},
		{101, 299, 1},
		{200, 200, 1},
		{400, 500, 0},
	}
	for _, tt := range tests {
		n, err := m.Count(ctx, "cpu", tt.from, tt.to, "h1")
		require.NoError(t, err)
		assert.Equal(t, tt.want, n, "[%d, %d]", tt.from, tt.to)
	}
}
