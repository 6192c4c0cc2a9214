package store

import (
	"context"
	"sync"
	"time"
)

type pairKey struct {
	metric string
	host   string
}

type anomalyKey struct {
	metric    string
	host      string
	timestamp int64
}

// Memory keeps calibrations and anomalies in process memory.
type Memory struct {
	mu           sync.RWMutex
	calibrations map[pairKey]CalibrationParams
	anomalies    map[anomalyKey]Anomaly
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		calibrations: make(map[pairKey]CalibrationParams),
		anomalies:    make(map[anomalyKey]Anomaly),
	}
}

// Save implements CalibrationStore.
func (m *Memory) Save(_ context.Context, metric, host string, params CalibrationParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calibrations[pairKey{metric, host}] = params
	return nil
}

// Load implements CalibrationStore.
func (m *Memory) Load(_ context.Context, metric, host string) (*CalibrationParams, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.calibrations[pairKey{metric, host}]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// AgeMinutes implements CalibrationStore.
func (m *Memory) AgeMinutes(_ context.Context, metric, host string, now time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.calibrations[pairKey{metric, host}]
	if !ok {
		return 0, nil
	}
	return ageMinutes(p.CalibratedAt, now), nil
}

// Insert implements AnomalyStore.
func (m *Memory) Insert(_ context.Context, a Anomaly) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := anomalyKey{a.Metric, a.Host, a.Timestamp}
	if _, ok := m.anomalies[key]; ok {
		return false, nil
	}
	m.anomalies[key] = a
	return true, nil
}

// Count implements AnomalyStore.
func (m *Memory) Count(_ context.Context, metric string, from, to int64, host string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for k := range m.anomalies {
		if k.metric == metric && k.host == host && k.timestamp >= from && k.timestamp <= to {
			n++
		}
	}
	return n, nil
}

// Anomalies returns every stored anomaly.
func (m *Memory) Anomalies() []Anomaly {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Anomaly, 0, len(m.anomalies))
	for _, a := range m.anomalies {
		out = append(out, a)
	}
	return out
}
