package metricsource

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/moolen/tailwatch/internal/logging"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// PrometheusConfig configures the Prometheus-compatible source.
type PrometheusConfig struct {
	URL     string
	Timeout time.Duration
	// HostLookback is how far back Hosts looks for label values.
	HostLookback time.Duration
}

// Prometheus reads sequences through the Prometheus HTTP API. It works
// against any server that implements query_range and label values.
type Prometheus struct {
	api    v1.API
	cfg    PrometheusConfig
	logger *logging.Logger
	now    func() time.Time
}

// NewPrometheus returns a source for the server at cfg.URL.
func NewPrometheus(cfg PrometheusConfig) (*Prometheus, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("prometheus url is required")
	}
	client, err := api.NewClient(api.Config{Address: cfg.URL})
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus client: %w", err)
	}
	return newPrometheus(v1.NewAPI(client), cfg), nil
}

func newPrometheus(a v1.API, cfg PrometheusConfig) *Prometheus {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HostLookback == 0 {
		cfg.HostLookback = time.Hour
	}
	return &Prometheus{
		api:    a,
		cfg:    cfg,
		logger: logging.GetLogger("metricsource.prometheus"),
		now:    time.Now,
	}
}

// Fetch implements Source.
func (p *Prometheus) Fetch(ctx context.Context, metric string, minutes int, step int64, filter Filter) ([]Sequence, error) {
	if step <= 0 {
		return nil, fmt.Errorf("step must be positive, got %d", step)
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	end := p.now()
	r := v1.Range{
		Start: end.Add(-time.Duration(minutes) * time.Minute),
		End:   end,
		Step:  time.Duration(step) * time.Millisecond,
	}
	query := selector(metric, filter)

	value, warnings, err := p.api.QueryRange(ctx, query, r)
	if err != nil {
		return nil, fmt.Errorf("query_range %s: %w", query, err)
	}
	for _, w := range warnings {
		p.logger.Warn("query_range %s: %s", query, w)
	}

	matrix, ok := value.(model.Matrix)
	if !ok {
		return nil, fmt.Errorf("query_range %s: unexpected result type %s", query, value.Type())
	}
	return fromMatrix(metric, matrix, step), nil
}

// Hosts implements Source.
func (p *Prometheus) Hosts(ctx context.Context, metric string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	end := p.now()
	values, warnings, err := p.api.LabelValues(ctx, HostLabel, []string{metric}, end.Add(-p.cfg.HostLookback), end)
	if err != nil {
		return nil, fmt.Errorf("label values for %s: %w", metric, err)
	}
	for _, w := range warnings {
		p.logger.Warn("label values %s: %s", metric, w)
	}

	hosts := make([]string, 0, len(values))
	for _, v := range values {
		hosts = append(hosts, string(v))
	}
	sort.Strings(hosts)
	return hosts, nil
}

func selector(metric string, filter Filter) string {
	switch {
	case filter.Host != "" && filter.AnyPort:
		// Label regexes are fully anchored.
		return fmt.Sprintf(`%s{%s=~%q}`, metric, HostLabel, regexp.QuoteMeta(filter.Host)+"(:[0-9]+)?")
	case filter.Host != "":
		return fmt.Sprintf(`%s{%s=%q}`, metric, HostLabel, filter.Host)
	default:
		return metric
	}
}

func fromMatrix(metric string, matrix model.Matrix, step int64) []Sequence {
	out := make([]Sequence, 0, len(matrix))
	for _, stream := range matrix {
		seq := Sequence{
			Name:       metric,
			Labels:     make(map[string]string, len(stream.Metric)),
			Timestamps: make([]int64, 0, len(stream.Values)),
			Values:     make([]float64, 0, len(stream.Values)),
			Step:       step,
		}
		for k, v := range stream.Metric {
			if k == model.MetricNameLabel {
				continue
			}
			seq.Labels[string(k)] = string(v)
		}
		for _, sample := range stream.Values {
			seq.Timestamps = append(seq.Timestamps, int64(sample.Timestamp))
			seq.Values = append(seq.Values, float64(sample.Value))
		}
		out = append(out, seq)
	}
	return out
}
