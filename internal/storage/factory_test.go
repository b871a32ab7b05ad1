package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wildtrack/groundlink/internal/config"
)

func TestNewBackend_Memory(t *testing.T) {
	b, err := NewBackend(config.StorageConfig{Backend: "memory", DataDir: t.TempDir()})
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.NoError(t, b.Init())
	assert.NoError(t, b.Close())
}

func TestNewBackend_Sqlite(t *testing.T) {
	b, err := NewBackend(config.StorageConfig{Backend: "sqlite", Path: t.TempDir() + "/test.db"})
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.NoError(t, b.Init())
	assert.NoError(t, b.Close())
}

func TestNewBackend_Unknown(t *testing.T) {
	_, err := NewBackend(config.StorageConfig{Backend: "carrier-pigeon"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown storage backend")
}
