package scheduler

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/moolen/tailwatch/internal/alarm"
	"github.com/moolen/tailwatch/internal/metricsource"
	"github.com/moolen/tailwatch/internal/pipeline"
	"github.com/moolen/tailwatch/internal/scenario"
	"github.com/moolen/tailwatch/internal/spot"
	"github.com/moolen/tailwatch/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticScenarios []scenario.Scenario

func (s staticScenarios) Scenarios() []scenario.Scenario { return s }

type recordingSink struct {
	alarms chan alarm.Alarm
}

func (r *recordingSink) Emit(_ context.Context, a alarm.Alarm) error {
	select {
	case r.alarms <- a:
	default:
	}
	return nil
}

// series returns one sample per minute ending at the current minute, with
// a spike as the last sample.
func series(metric, host string) metricsource.Sequence {
	end := time.Now().Truncate(time.Minute).UnixMilli()
	const points = 121
	seq := metricsource.Sequence{
		Name:   metric,
		Labels: map[string]string{metricsource.HostLabel: host},
		Step:   60_000,
	}
	for i := 0; i < points; i++ {
		v := 10 + math.Sin(float64(i)*0.7) + 0.3*math.Cos(float64(i)*1.9)
		if i == points-1 {
			v = 1000
		}
		seq.Timestamps = append(seq.Timestamps, end-int64(points-1-i)*60_000)
		seq.Values = append(seq.Values, v)
	}
	return seq
}

type fixture struct {
	store *store.Memory
	sink  *recordingSink
	sched *Scheduler
}

func newFixture(t *testing.T, scenarios staticScenarios, intervals Intervals) *fixture {
	t.Helper()
	return newFixtureWith(t, scenarios, intervals, nil, series("failed_logins", "db-1"))
}

func newFixtureWith(t *testing.T, scenarios staticScenarios, intervals Intervals, prefixMetrics []string, seqs ...metricsource.Sequence) *fixture {
	t.Helper()
	source := metricsource.NewStatic()
	for _, seq := range seqs {
		source.Add(seq)
	}

	params := spot.DefaultHyperparameters()
	params.Depth = 5
	mem := store.NewMemory()
	p, err := pipeline.New(pipeline.Config{
		CalibrationTraining:    60,
		CalibrationForecasting: 15,
		DetectionTraining:      60,
		DetectionForecasting:   15,
		ReCalibratePeriod:      60,
		Params:                 params,
		Workers:                2,
		MaxPoints:              11000,
		MinStep:                time.Minute,
		PrefixMetrics:          prefixMetrics,
	}, pipeline.Deps{Source: source, Calibrations: mem, Anomalies: mem})
	require.NoError(t, err)

	sink := &recordingSink{alarms: make(chan alarm.Alarm, 16)}
	engine := scenario.NewEngine(mem, sink, 15*time.Minute, nil)
	return &fixture{store: mem, sink: sink, sched: New(p, engine, scenarios, intervals)}
}

var bruteForce = scenario.Scenario{
	Name:      "brute_force",
	RootCause: "credential stuffing",
	Metrics: []scenario.Metric{
		{Name: "failed_logins", Weight: 1, AnomaliesNumInPeriod: 1},
	},
	LowThreshold:    0.2,
	MediumThreshold: 0.5,
	HighThreshold:   0.8,
}

func TestRunOnceEndToEnd(t *testing.T) {
	f := newFixture(t, staticScenarios{bruteForce}, Intervals{})

	report := f.sched.RunOnce(context.Background(), Jobs{Calibrate: true, Detect: true, Alarms: true})

	require.Len(t, report.Calibrations, 1)
	assert.Equal(t, pipeline.StatusCalibrated, report.Calibrations[0].Status, "%v", report.Calibrations[0].Err)
	require.Len(t, report.Detections, 1)
	assert.Equal(t, pipeline.StatusDetected, report.Detections[0].Status, "%v", report.Detections[0].Err)
	assert.GreaterOrEqual(t, report.Detections[0].Anomalies, 1)

	require.Len(t, report.Alarms, 1)
	result := report.Alarms[0]
	assert.Equal(t, "db-1", result.Host)
	require.NotNil(t, result.Alarm)
	assert.Equal(t, alarm.LevelCritical, result.Alarm.Level)
	assert.Equal(t, "credential stuffing", result.Alarm.RootCause)
	assert.Len(t, f.sink.alarms, 1)
}

func TestAlarmsSumPrefixAndPlainMetricsPerHost(t *testing.T) {
	mixed := scenario.Scenario{
		Name: "log_flood",
		Metrics: []scenario.Metric{
			{Name: "qps", Weight: 0.5, AnomaliesNumInPeriod: 1},
			{Name: "log_lines", Weight: 0.5, AnomaliesNumInPeriod: 1},
		},
		LowThreshold:    0.2,
		MediumThreshold: 0.5,
		HighThreshold:   0.8,
	}
	f := newFixtureWith(t, staticScenarios{mixed}, Intervals{}, []string{"log_lines"},
		series("qps", "db-1"),
		series("log_lines", "db-1:41234"),
	)

	report := f.sched.RunOnce(context.Background(), Jobs{Calibrate: true, Detect: true, Alarms: true})
	for _, o := range report.Detections {
		assert.Equal(t, "db-1", o.Host)
		assert.Equal(t, pipeline.StatusDetected, o.Status, "%s: %v", o.Pair, o.Err)
	}

	require.Len(t, report.Alarms, 1, "the port-bearing instance is not a separate host")
	result := report.Alarms[0]
	assert.Equal(t, "db-1", result.Host)
	assert.GreaterOrEqual(t, result.Counts["qps"], 1)
	assert.GreaterOrEqual(t, result.Counts["log_lines"], 1)
	assert.InDelta(t, 1.0, result.Score, 1e-9)
	require.NotNil(t, result.Alarm)
	assert.Equal(t, alarm.LevelCritical, result.Alarm.Level)
}

func TestRunOnceSelectsJobs(t *testing.T) {
	f := newFixture(t, staticScenarios{bruteForce}, Intervals{})

	report := f.sched.RunOnce(context.Background(), Jobs{Detect: true})
	assert.Nil(t, report.Calibrations)
	assert.Nil(t, report.Alarms)
	require.Len(t, report.Detections, 1)
	assert.Equal(t, pipeline.StatusMissingCalibration, report.Detections[0].Status)
}

func TestNoScenariosSkipsScans(t *testing.T) {
	f := newFixture(t, staticScenarios{}, Intervals{})

	report := f.sched.RunOnce(context.Background(), Jobs{Calibrate: true, Detect: true, Alarms: true})
	assert.Empty(t, report.Calibrations)
	assert.Empty(t, report.Detections)
	assert.Empty(t, report.Alarms)
}

func TestStartRunsLoopsUntilStopped(t *testing.T) {
	f := newFixture(t, staticScenarios{bruteForce}, Intervals{
		Calibration: time.Hour,
		Detection:   20 * time.Millisecond,
		Alarm:       20 * time.Millisecond,
	})
	ctx := context.Background()

	require.NoError(t, f.sched.Start(ctx))
	assert.Error(t, f.sched.Start(ctx), "a second start is rejected")

	select {
	case a := <-f.sink.alarms:
		assert.Equal(t, "brute_force", a.Metric)
	case <-time.After(10 * time.Second):
		t.Fatal("no alarm raised by the scan loops")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.sched.Stop(stopCtx))
	require.NoError(t, f.sched.Stop(stopCtx), "stop is idempotent")

	_, err := f.store.Load(ctx, "failed_logins", "db-1")
	assert.NoError(t, err)
}
