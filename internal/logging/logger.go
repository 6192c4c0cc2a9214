// Package logging provides leveled, structured logging for tailwatch.
//
// Get a named logger per component and log with printf-style arguments or
// with structured fields:
//
//	logger := logging.GetLogger("pipeline.detect")
//	logger.Info("scan finished in %s", elapsed)
//	logger.InfoWithFields("anomaly persisted",
//	    logging.Field("metric", metric),
//	    logging.Field("host", host),
//	)
//
// Child loggers carry persistent fields:
//
//	pairLogger := logger.WithField("metric", metric).WithField("host", host)
//
// WithContext attaches a context; when it carries an OpenTelemetry span the
// trace_id and span_id fields are added to every line.
//
// The default level applies to every logger unless a per-package override
// matches its name. Overrides support exact names ("pipeline.detect") and
// wildcard prefixes ("pipeline.*"):
//
//	logging.Initialize("info", map[string]string{"pipeline.*": "debug"})
//
// Each line has the form
//
//	[2024-01-01T00:00:00Z] [INFO] pipeline.detect: message | host=db-1 metric=qps
//
// Field keys are sorted. ERROR and FATAL go to stderr, everything else to
// stdout, unless SetOutput redirects both. LOG_TIMESTAMP pins the timestamp.
package logging

import (
	"context"
	"os"
	"sync"
)

var (
	globalMu    sync.RWMutex
	globalLevel = INFO
	// exitFunc is called by Fatal; tests replace it.
	exitFunc = os.Exit
)

// Initialize sets the default level and optional per-package overrides.
// Unknown default levels fall back to INFO.
func Initialize(levelStr string, packageLevels ...map[string]string) error {
	level, err := parseLevel(levelStr)
	if err != nil {
		level = INFO
	}

	globalMu.Lock()
	globalLevel = level
	globalMu.Unlock()

	if len(packageLevels) > 0 && packageLevels[0] != nil {
		return SetPackageLogLevels(packageLevels[0])
	}
	return nil
}

// GetLogger returns a logger with the given name.
func GetLogger(name string) *Logger {
	return &Logger{name: name}
}

func defaultLevel() LogLevel {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLevel
}

// Name returns the logger name.
func (l *Logger) Name() string {
	return l.name
}

func (l *Logger) enabled(level LogLevel) bool {
	if pkgLevel := GetPackageLogLevel(l.name); pkgLevel >= 0 {
		return level >= pkgLevel
	}
	return level >= defaultLevel()
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.enabled(DEBUG) {
		l.logf(DEBUG, msg, args...)
	}
}

// Info logs an info message
func (l *Logger) Info(msg string, args ...interface{}) {
	if l.enabled(INFO) {
		l.logf(INFO, msg, args...)
	}
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.enabled(WARN) {
		l.logf(WARN, msg, args...)
	}
}

// Error logs an error message
func (l *Logger) Error(msg string, args ...interface{}) {
	if l.enabled(ERROR) {
		l.logf(ERROR, msg, args...)
	}
}

// Fatal logs a fatal message and exits with code 1.
func (l *Logger) Fatal(msg string, args ...interface{}) {
	if l.enabled(FATAL) {
		l.logf(FATAL, msg, args...)
		exitFunc(1)
	}
}

// ErrorWithErr logs msg with err appended.
func (l *Logger) ErrorWithErr(msg string, err error, args ...interface{}) {
	if l.enabled(ERROR) {
		args = append(args, err)
		l.logf(ERROR, msg+" - %v", args...)
	}
}

// DebugWithFields logs a debug message with structured fields
func (l *Logger) DebugWithFields(msg string, fields ...LogField) {
	if l.enabled(DEBUG) {
		l.write(DEBUG, msg, fields)
	}
}

// InfoWithFields logs an info message with structured fields
func (l *Logger) InfoWithFields(msg string, fields ...LogField) {
	if l.enabled(INFO) {
		l.write(INFO, msg, fields)
	}
}

// WarnWithFields logs a warning message with structured fields
func (l *Logger) WarnWithFields(msg string, fields ...LogField) {
	if l.enabled(WARN) {
		l.write(WARN, msg, fields)
	}
}

// ErrorWithFields logs an error message with structured fields
func (l *Logger) ErrorWithFields(msg string, fields ...LogField) {
	if l.enabled(ERROR) {
		l.write(ERROR, msg, fields)
	}
}

// WithName returns a copy of the logger under a different name. Persistent
// fields are dropped, the context is kept.
func (l *Logger) WithName(name string) *Logger {
	return &Logger{name: name, ctx: l.ctx}
}

// WithField returns a child logger carrying key=value on every line.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(Field(key, value))
}

// WithFields returns a child logger carrying all fields on every line.
func (l *Logger) WithFields(fields ...LogField) *Logger {
	child := &Logger{name: l.name, ctx: l.ctx, fields: make(map[string]interface{}, len(l.fields)+len(fields))}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for _, f := range fields {
		child.fields[f.Key] = f.Value
	}
	return child
}

// WithContext returns a child logger bound to ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{name: l.name, ctx: ctx, fields: l.fields}
}
