package database

import (
	"fmt"
	"os"
	"path/filepath"

	"depot-go/internal/config"
)

// NewMetaStoreFromConfig creates the SQLite metadata store based on the
// database config type. "memory" is a private in-memory database, useful for
// tests and throwaway runs.
func NewMetaStoreFromConfig(cfg config.DatabaseConfig) (*SQLite, error) {
	switch cfg.Type {
	case "memory":
		return NewSQLite(":memory:")
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("sqlite database requires data_dir to be set")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return NewSQLite(filepath.Join(cfg.DataDir, "depot.db"))
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
