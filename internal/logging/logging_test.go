package logging

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogFilePath(t *testing.T) {
	sessionStart := time.Date(2026, 2, 12, 21, 38, 36, 0, time.UTC)

	tests := []struct {
		name    string
		logsDir string
		appName string
		want    string
	}{
		{
			name:    "basic path",
			logsDir: "logs",
			appName: "groundlink",
			want:    filepath.Join("logs", "groundlink.20260212_213836.log"),
		},
		{
			name:    "relative path with dot",
			logsDir: "./logs",
			appName: "groundlink",
			want:    filepath.Join(".", "logs", "groundlink.20260212_213836.log"),
		},
		{
			name:    "absolute path",
			logsDir: filepath.Join("/var", "log", "groundlink"),
			appName: "groundlink",
			want:    filepath.Join("/var", "log", "groundlink", "groundlink.20260212_213836.log"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LogFilePath(tt.logsDir, tt.appName, sessionStart)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("INFO"))
	assert.Equal(t, slog.LevelWarn, parseLevel("Warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}

func TestManagerSetup_WritesToFile(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager()

	require.NoError(t, m.Setup(&buf, "info", "", nil))
	m.Logger().Info("hello", "key", "value")

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "key=value")
}

func TestManagerSetup_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager()

	require.NoError(t, m.Setup(&buf, "warn", "", nil))
	m.Logger().Info("quiet")
	m.Logger().Warn("loud")

	out := buf.String()
	assert.NotContains(t, out, "quiet")
	assert.Contains(t, out, "loud")
}

func TestManagerSetup_ContextProvider(t *testing.T) {
	var buf bytes.Buffer
	m := NewManager()

	provider := func() []slog.Attr {
		return []slog.Attr{slog.String("site", "test-site")}
	}
	require.NoError(t, m.Setup(&buf, "info", "", provider))
	m.Logger().Info("tagged")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	last := lines[len(lines)-1]
	assert.Contains(t, last, "site=test-site")
}

func TestManagerLogger_DefaultBeforeSetup(t *testing.T) {
	m := NewManager()
	assert.NotNil(t, m.Logger())
}
