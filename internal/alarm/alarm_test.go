package alarm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/moolen/tailwatch/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	alarms []Alarm
	err    error
}

func (r *recordingSink) Emit(_ context.Context, a Alarm) error {
	r.alarms = append(r.alarms, a)
	return r.err
}

type fakePublisher struct {
	subject string
	data    []byte
	err     error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subject = subject
	f.data = data
	return f.err
}

func TestNew(t *testing.T) {
	start := time.Unix(100, 0)
	a := New("db-1", "brute_force", LevelWarning, "summary", start, start.Add(time.Minute))
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, TypeSecurity, a.AlarmType)
	assert.Equal(t, AnomalyTypeMetric, a.AnomalyType)
	assert.Equal(t, "brute_force", a.Metric)

	b := New("db-1", "brute_force", LevelWarning, "summary", start, start)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestMultiSink(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("down")}
	sink := MultiSink{failing, ok}

	err := sink.Emit(context.Background(), Alarm{ID: "a"})
	assert.ErrorContains(t, err, "down")
	assert.Len(t, ok.alarms, 1, "a failing sink does not stop the others")
	assert.Len(t, failing.alarms, 1)

	assert.NoError(t, MultiSink{ok}.Emit(context.Background(), Alarm{}))
}

func TestNATSSinkPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := &NATSSink{pub: pub, subject: DefaultSubject}

	a := Alarm{ID: "x", Host: "h", Metric: "s", Level: LevelCritical, Score: 0.9, RootCause: "rc"}
	require.NoError(t, sink.Emit(context.Background(), a))
	assert.Equal(t, "tailwatch.alarms", pub.subject)

	var decoded Alarm
	require.NoError(t, json.Unmarshal(pub.data, &decoded))
	assert.Equal(t, a, decoded)

	pub.err = errors.New("no responders")
	assert.ErrorContains(t, sink.Emit(context.Background(), a), "failed to publish alarm x")
	sink.Close()
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logging.SetOutput(&buf)
	defer logging.SetOutput(nil)
	require.NoError(t, logging.Initialize("info"))

	a := Alarm{ID: "x", Host: "h", Metric: "s", Level: LevelInfo, Content: "2 anomalies", Score: 0.4}
	require.NoError(t, NewLogSink().Emit(context.Background(), a))
	assert.Contains(t, buf.String(), "2 anomalies")
	assert.Contains(t, buf.String(), "scenario=s")
	assert.Contains(t, buf.String(), "score=0.400")
}
