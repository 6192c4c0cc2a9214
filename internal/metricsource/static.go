package metricsource

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Static serves sequences held in memory. The newest sample of each
// sequence counts as "now" when a fetch is cut to its window.
type Static struct {
	mu   sync.RWMutex
	data map[string][]Sequence
	// FetchErr, when set, is returned by every Fetch for the named metric.
	FetchErr map[string]error
}

// NewStatic returns an empty Static source.
func NewStatic() *Static {
	return &Static{data: make(map[string][]Sequence), FetchErr: make(map[string]error)}
}

// Add stores seq under its metric name.
func (s *Static) Add(seq Sequence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[seq.Name] = append(s.data[seq.Name], seq)
}

// Fetch implements Source. Samples are taken every step milliseconds from
// the stored data; the stored step is kept when it is coarser.
func (s *Static) Fetch(_ context.Context, metric string, minutes int, step int64, filter Filter) ([]Sequence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.FetchErr[metric]; err != nil {
		return nil, err
	}
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive, got %d", step)
	}

	var out []Sequence
	for _, seq := range s.data[metric] {
		if !filter.Matches(seq.Host()) {
			continue
		}
		out = append(out, window(seq, minutes, step))
	}
	return out, nil
}

// Hosts implements Source.
func (s *Static) Hosts(_ context.Context, metric string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, seq := range s.data[metric] {
		seen[seq.Host()] = struct{}{}
	}
	hosts := make([]string, 0, len(seen))
	for h := range seen {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts, nil
}

func window(seq Sequence, minutes int, step int64) Sequence {
	out := Sequence{Name: seq.Name, Labels: seq.Labels, Step: step}
	if seq.Step > step {
		out.Step = seq.Step
	}
	if len(seq.Timestamps) == 0 {
		return out
	}
	end := seq.Timestamps[len(seq.Timestamps)-1]
	start := end - int64(minutes)*60_000
	next := int64(-1)
	for i, ts := range seq.Timestamps {
		if ts < start {
			continue
		}
		if next >= 0 && ts < next {
			continue
		}
		out.Timestamps = append(out.Timestamps, ts)
		out.Values = append(out.Values, seq.Values[i])
		next = ts + out.Step
	}
	return out
}
