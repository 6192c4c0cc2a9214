// Package metricsource fetches metric sequences from a time-series store.
package metricsource

import (
	"context"
	"strings"
	"time"
)

// HostLabel is the label that identifies the host a sequence belongs to.
const HostLabel = "instance"

// Sequence is one time series. Timestamps are ascending milliseconds and
// Step is the sampling interval in milliseconds.
type Sequence struct {
	Name       string
	Labels     map[string]string
	Timestamps []int64
	Values     []float64
	Step       int64
}

// Len returns the number of samples.
func (s Sequence) Len() int {
	return len(s.Timestamps)
}

// Span returns the wall-clock distance between the first and last sample.
func (s Sequence) Span() int64 {
	if len(s.Timestamps) < 2 {
		return 0
	}
	return s.Timestamps[len(s.Timestamps)-1] - s.Timestamps[0]
}

// Host returns the host label value.
func (s Sequence) Host() string {
	return s.Labels[HostLabel]
}

// Split returns the samples at or before cutoff and all samples. The
// second value is s itself.
func (s Sequence) Split(cutoff int64) (head Sequence, full Sequence) {
	n := 0
	for n < len(s.Timestamps) && s.Timestamps[n] <= cutoff {
		n++
	}
	head = s
	head.Timestamps = s.Timestamps[:n]
	head.Values = s.Values[:n]
	return head, s
}

// Filter restricts a fetch to one host. With AnyPort the host also matches
// with any numeric port suffix; it is used for metrics whose instance label
// carries a dynamic port. An empty Host matches every host.
type Filter struct {
	Host    string
	AnyPort bool
}

// ForHost builds the filter for host. With anyPort a port on host is
// dropped so that every port of the same host matches.
func ForHost(host string, anyPort bool) Filter {
	if !anyPort {
		return Filter{Host: host}
	}
	return Filter{Host: BareHost(host), AnyPort: true}
}

// Matches reports whether host passes the filter.
func (f Filter) Matches(host string) bool {
	if f.Host == "" || host == f.Host {
		return true
	}
	return f.AnyPort && BareHost(host) == f.Host
}

// BareHost strips a numeric ":port" suffix from host. Unbracketed IPv6
// addresses are returned unchanged.
func BareHost(host string) string {
	i := strings.LastIndexByte(host, ':')
	if i < 0 {
		return host
	}
	name, port := host[:i], host[i+1:]
	if port == "" || strings.Trim(port, "0123456789") != "" {
		return host
	}
	if strings.Contains(name, ":") && !strings.HasSuffix(name, "]") {
		return host
	}
	return name
}

// Source is the read side of the time-series store.
type Source interface {
	// Fetch returns the sequences of metric over the last minutes, sampled
	// every step milliseconds.
	Fetch(ctx context.Context, metric string, minutes int, step int64, filter Filter) ([]Sequence, error)
	// Hosts returns the hosts that reported metric recently.
	Hosts(ctx context.Context, metric string) ([]string, error)
}

// ChooseStep picks the sampling step in milliseconds for a window of the
// given length so that at most maxPoints samples are returned. The step is
// never below minStep and is rounded up to whole seconds.
func ChooseStep(minutes, maxPoints int, minStep time.Duration) int64 {
	if maxPoints <= 0 {
		maxPoints = 11000
	}
	window := time.Duration(minutes) * time.Minute
	step := (window + time.Duration(maxPoints) - 1) / time.Duration(maxPoints)
	if step < minStep {
		step = minStep
	}
	step = ((step + time.Second - 1) / time.Second) * time.Second
	return step.Milliseconds()
}

// Longest returns the sequence with the most samples, or false.
func Longest(seqs []Sequence) (Sequence, bool) {
	best := -1
	for i, s := range seqs {
		if best < 0 || s.Len() > seqs[best].Len() {
			best = i
		}
	}
	if best < 0 || seqs[best].Len() == 0 {
		return Sequence{}, false
	}
	return seqs[best], true
}
