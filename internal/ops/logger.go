// Package ops is the structured logging façade: every component logs
// through a Logger rather than calling logrus directly, so fields can
// be layered (server id, connection id, document id) without each
// call site re-stating them.
package ops

import (
	log "github.com/sirupsen/logrus"
)

// Logger publishes structured log events. WithFields returns a new
// Logger that merges add into every subsequent event without mutating
// the receiver, mirroring the field-augmenting wrapper the rest of
// this codebase's logging is modeled on.
type Logger interface {
	Log(level log.Level, fields log.Fields, message string)
	WithFields(add log.Fields) Logger

	Trace(message string, fields log.Fields)
	Debug(message string, fields log.Fields)
	Info(message string, fields log.Fields)
	Warn(message string, fields log.Fields)
	Error(message string, fields log.Fields)

	// SecurityEvent records an event of interest to auditing: auth
	// failures, rate-limit denials, malformed-frame disconnects. It is
	// logged at warn level with security=true and event=<kind> fields so
	// log pipelines can filter on it; like any warn entry, it is dropped
	// when the configured level is error or above.
	SecurityEvent(kind string, fields log.Fields)
}

type logrusLogger struct {
	base *log.Logger
	add  log.Fields
}

// NewLogger constructs a Logger backed by logrus, configured with a
// JSON formatter at the given level.
func NewLogger(level log.Level) Logger {
	base := log.New()
	base.SetFormatter(&log.JSONFormatter{})
	base.SetLevel(level)
	return &logrusLogger{base: base, add: log.Fields{}}
}

func (l *logrusLogger) WithFields(add log.Fields) Logger {
	merged := make(log.Fields, len(l.add)+len(add))
	for k, v := range l.add {
		merged[k] = v
	}
	for k, v := range add {
		merged[k] = v
	}
	return &logrusLogger{base: l.base, add: merged}
}

func (l *logrusLogger) Log(level log.Level, fields log.Fields, message string) {
	if level > l.base.GetLevel() {
		return
	}
	merged := make(log.Fields, len(l.add)+len(fields))
	for k, v := range l.add {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	l.base.WithFields(merged).Log(level, message)
}

func (l *logrusLogger) Trace(message string, fields log.Fields) { l.Log(log.TraceLevel, fields, message) }
func (l *logrusLogger) Debug(message string, fields log.Fields) { l.Log(log.DebugLevel, fields, message) }
func (l *logrusLogger) Info(message string, fields log.Fields)  { l.Log(log.InfoLevel, fields, message) }
func (l *logrusLogger) Warn(message string, fields log.Fields)  { l.Log(log.WarnLevel, fields, message) }
func (l *logrusLogger) Error(message string, fields log.Fields) { l.Log(log.ErrorLevel, fields, message) }

func (l *logrusLogger) SecurityEvent(kind string, fields log.Fields) {
	merged := make(log.Fields, len(fields)+2)
	for k, v := range fields {
		merged[k] = v
	}
	merged["security"] = true
	merged["event"] = kind
	l.Log(log.WarnLevel, merged, "security event: "+kind)
}

var _ Logger = (*logrusLogger)(nil)
