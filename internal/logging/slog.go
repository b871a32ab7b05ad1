package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Graylog2/go-gelf/gelf"
)

// Manager wires slog output to the console, an optional log file and an
// optional Graylog GELF endpoint.
type Manager struct {
	logger *slog.Logger
}

// NewManager creates an unconfigured logging manager.
func NewManager() *Manager {
	return &Manager{}
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup initializes the logging system. file and gelfAddress are both
// optional; provider, when non-nil, contributes dynamic attributes to
// every record.
func (m *Manager) Setup(file io.Writer, level, gelfAddress string, provider ContextProvider) error {
	lvl := parseLevel(level)

	// Common handler options with RFC3339 time formatting
	handlerOpts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.UTC().Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handlers []slog.Handler

	// Console handler
	handlers = append(handlers, slog.NewTextHandler(os.Stdout, handlerOpts))

	// File handler
	if file != nil {
		handlers = append(handlers, slog.NewTextHandler(file, handlerOpts))
	}

	// Graylog handler. The GELF writer frames each Write as one message.
	if gelfAddress != "" {
		gelfWriter, err := gelf.NewWriter(gelfAddress)
		if err != nil {
			return fmt.Errorf("connecting to graylog at %s: %w", gelfAddress, err)
		}
		handlers = append(handlers, slog.NewJSONHandler(gelfWriter, handlerOpts))
	}

	var handler slog.Handler = newFanoutHandler(handlers...)
	if provider != nil {
		handler = newContextHandler(handler, provider)
	}

	m.logger = slog.New(handler)
	m.logger.Info("Logging initialized", "level", level)
	return nil
}

// Logger returns the configured slog.Logger.
func (m *Manager) Logger() *slog.Logger {
	if m.logger == nil {
		// Return a default logger if Setup hasn't been called
		return slog.Default()
	}
	return m.logger
}
