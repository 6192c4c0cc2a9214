// Package alarm defines the alarms raised by scenario evaluation and the
// sinks they are delivered to.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/moolen/tailwatch/internal/logging"
)

// Level is the severity of an alarm.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Type classifies alarms by their origin.
type Type string

// TypeSecurity is raised by security scenarios.
const TypeSecurity Type = "security"

// AnomalyTypeMetric marks alarms derived from metric anomaly counts.
const AnomalyTypeMetric = "metric_anomaly"

// Alarm is one leveled alarm for a scenario on a host.
type Alarm struct {
	ID          string    `json:"id"`
	Host        string    `json:"host"`
	Metric      string    `json:"metric"`
	AlarmType   Type      `json:"alarm_type"`
	AnomalyType string    `json:"anomaly_type"`
	Level       Level     `json:"level"`
	Content     string    `json:"content"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	RootCause   string    `json:"root_cause,omitempty"`
	Score       float64   `json:"score"`
}

// New returns a security alarm with a fresh ID.
func New(host, scenario string, level Level, content string, start, end time.Time) Alarm {
	return Alarm{
		ID:          uuid.NewString(),
		Host:        host,
		Metric:      scenario,
		AlarmType:   TypeSecurity,
		AnomalyType: AnomalyTypeMetric,
		Level:       level,
		Content:     content,
		Start:       start,
		End:         end,
	}
}

// Sink delivers alarms.
type Sink interface {
	Emit(ctx context.Context, a Alarm) error
}

// LogSink writes alarms to the log.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink returns a sink logging under "alarm".
func NewLogSink() *LogSink {
	return &LogSink{logger: logging.GetLogger("alarm")}
}

// Emit implements Sink.
func (s *LogSink) Emit(ctx context.Context, a Alarm) error {
	fields := []logging.LogField{
		logging.Field("id", a.ID),
		logging.Field("host", a.Host),
		logging.Field("scenario", a.Metric),
		logging.Field("level", string(a.Level)),
		logging.Field("score", fmt.Sprintf("%.3f", a.Score)),
	}
	if a.RootCause != "" {
		fields = append(fields, logging.Field("root_cause", a.RootCause))
	}
	logger := s.logger.WithContext(ctx)
	if a.Level == LevelCritical {
		logger.WarnWithFields(a.Content, fields...)
		return nil
	}
	logger.InfoWithFields(a.Content, fields...)
	return nil
}

// MultiSink emits to every sink and joins their errors.
type MultiSink []Sink

// Emit implements Sink.
func (m MultiSink) Emit(ctx context.Context, a Alarm) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
