package scenario

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/moolen/tailwatch/internal/alarm"
	"github.com/moolen/tailwatch/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Counter counts persisted anomalies of a metric on a host within
// [from, to] (epoch milliseconds).
type Counter interface {
	Count(ctx context.Context, metric string, from, to int64, host string) (int, error)
}

// Metrics holds Prometheus metrics for alarm evaluation.
type Metrics struct {
	AlarmsTotal *prometheus.CounterVec
}

// NewMetrics registers the scenario metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	alarmsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tailwatch_alarms_total",
		Help: "Alarms raised by scenario evaluation, by level",
	}, []string{"level"})
	reg.MustRegister(alarmsTotal)
	return &Metrics{AlarmsTotal: alarmsTotal}
}

// Result is the evaluation of one scenario on one host.
type Result struct {
	Scenario string
	Host     string
	Counts   map[string]int
	Score    float64
	// Alarm is nil when the score did not reach the low threshold.
	Alarm *alarm.Alarm
	// Err records a failed count or emit. Counts that failed are zero.
	Err error
}

// Engine evaluates scenarios over a trailing window of anomalies.
type Engine struct {
	counter Counter
	sink    alarm.Sink
	window  time.Duration
	metrics *Metrics
	logger  *logging.Logger
	now     func() time.Time
}

// NewEngine returns an engine that counts anomalies over the trailing
// window and emits alarms to sink. metrics may be nil.
func NewEngine(counter Counter, sink alarm.Sink, window time.Duration, metrics *Metrics) *Engine {
	return &Engine{
		counter: counter,
		sink:    sink,
		window:  window,
		metrics: metrics,
		logger:  logging.GetLogger("scenario"),
		now:     time.Now,
	}
}

// Evaluate scores every scenario on every host and emits an alarm for each
// score at or above the scenario's low threshold. Failures are recorded in
// the results and never abort the evaluation.
func (e *Engine) Evaluate(ctx context.Context, scenarios []Scenario, hosts []string) []Result {
	ctx, span := otel.Tracer("tailwatch/scenario").Start(ctx, "scenario.evaluate")
	defer span.End()

	end := e.now()
	start := end.Add(-e.window)
	span.SetAttributes(
		attribute.Int("scenarios", len(scenarios)),
		attribute.Int("hosts", len(hosts)),
	)

	var results []Result
	for _, s := range scenarios {
		for _, host := range hosts {
			results = append(results, e.evaluate(ctx, s, host, start, end))
		}
	}
	return results
}

func (e *Engine) evaluate(ctx context.Context, s Scenario, host string, start, end time.Time) Result {
	logger := e.logger.WithContext(ctx).WithField("scenario", s.Name).WithField("host", host)
	res := Result{Scenario: s.Name, Host: host, Counts: make(map[string]int, len(s.Metrics))}

	for _, m := range s.Metrics {
		n, err := e.counter.Count(ctx, m.Name, start.UnixMilli(), end.UnixMilli(), host)
		if err != nil {
			logger.ErrorWithErr("failed to count anomalies for %s", err, m.Name)
			res.Err = err
			continue
		}
		res.Counts[m.Name] = n
	}

	res.Score = s.Score(res.Counts)
	if res.Score == 0 {
		return res
	}
	level, ok := s.Level(res.Score)
	if !ok {
		logger.Info("score %.3f below low threshold %.3f", res.Score, s.LowThreshold)
		return res
	}

	a := alarm.New(host, s.Name, level, summarize(s, res.Counts, res.Score, e.window), start, end)
	a.RootCause = s.RootCause
	a.Score = res.Score
	res.Alarm = &a

	if err := e.sink.Emit(ctx, a); err != nil {
		logger.ErrorWithErr("failed to emit alarm", err)
		res.Err = err
		return res
	}
	if e.metrics != nil {
		e.metrics.AlarmsTotal.WithLabelValues(string(level)).Inc()
	}
	return res
}

func summarize(s Scenario, counts map[string]int, score float64, window time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario %s scored %.2f over the last %s:", s.Name, score, window)
	for _, m := range s.Metrics {
		fmt.Fprintf(&b, " %s=%d", m.Name, counts[m.Name])
	}
	return b.String()
}
