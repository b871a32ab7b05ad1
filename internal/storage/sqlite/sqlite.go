// Package sqlite opens the GORM storage backend on a local SQLite
// database file.
package sqlite

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wildtrack/groundlink/internal/config"
	"github.com/wildtrack/groundlink/internal/storage/db"
)

// New opens (or creates) the SQLite database at cfg.Path.
func New(cfg config.StorageConfig) (*db.Backend, error) {
	path := cfg.Path
	if path == "" {
		path = "file::memory:?cache=shared"
	}

	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		PrepareStmt:            true,
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db at %s: %w", path, err)
	}

	// Field deployments run off flash storage; keep write pressure low.
	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA temp_store = MEMORY;",
	}
	for _, pragma := range pragmas {
		if err := gdb.Exec(pragma).Error; err != nil {
			return nil, fmt.Errorf("error setting PRAGMA: %s", err)
		}
	}

	return db.New(gdb), nil
}
