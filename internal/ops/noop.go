package ops

import log "github.com/sirupsen/logrus"

type noopLogger struct{}

// NewNoop returns a Logger that discards every event, for tests that
// need a Logger but assert nothing about its output.
func NewNoop() Logger { return noopLogger{} }

func (noopLogger) Log(level log.Level, fields log.Fields, message string) {}
func (n noopLogger) WithFields(add log.Fields) Logger                     { return n }
func (noopLogger) Trace(message string, fields log.Fields)                {}
func (noopLogger) Debug(message string, fields log.Fields)                {}
func (noopLogger) Info(message string, fields log.Fields)                 {}
func (noopLogger) Warn(message string, fields log.Fields)                 {}
func (noopLogger) Error(message string, fields log.Fields)                {}
func (noopLogger) SecurityEvent(kind string, fields log.Fields)           {}

var _ Logger = noopLogger{}
