package logging

import "log/slog"

// SlogAdapter exposes a *slog.Logger through the narrow Debug/Info/Error
// interface consumed by the event dispatcher.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps the given logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Debug logs a debug message with optional key-value pairs.
func (l *SlogAdapter) Debug(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

// Info logs an info message with optional key-value pairs.
func (l *SlogAdapter) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

// Error logs an error message with optional key-value pairs.
func (l *SlogAdapter) Error(msg string, keysAndValues ...any) {
	l.logger.Error(msg, keysAndValues...)
}
