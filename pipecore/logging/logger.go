// Package logging defines the logger contract the pipeline emits through
// and its production implementation.
package logging

// Logger is the logging interface used across the pipeline. Fields are
// alternating key-value pairs.
type Logger interface {
	Info(msg string, fields ...any)
	Debug(msg string, fields ...any)
	Warn(msg string, fields ...any)
	Error(msg string, fields ...any)
	Bind(fields ...any) Logger
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (n nopLogger) Bind(...any) Logger { return n }

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return nopLogger{}
}
