package storage

import (
	"fmt"

	"github.com/wildtrack/groundlink/internal/config"
	"github.com/wildtrack/groundlink/internal/storage/memory"
	"github.com/wildtrack/groundlink/internal/storage/postgres"
	"github.com/wildtrack/groundlink/internal/storage/sqlite"
)

// NewBackend creates a storage backend based on configuration.
func NewBackend(cfg config.StorageConfig) (Backend, error) {
	switch cfg.Backend {
	case "postgres":
		return postgres.New(cfg)
	case "sqlite":
		return sqlite.New(cfg)
	case "memory":
		return memory.New(cfg.DataDir), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}
