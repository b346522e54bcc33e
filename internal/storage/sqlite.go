// File: internal/storage/sqlite.go
package storage

import (
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/chainpulse/chainpulse/pkg/utils"
)

// SQLiteStorage implements Storage backed by SQLite
type SQLiteStorage struct {
	sqlStorage
}

// NewSQLiteStorage creates a new SQLite storage backend
func NewSQLiteStorage(config *StorageConfig) *SQLiteStorage {
	return &SQLiteStorage{
		sqlStorage: sqlStorage{
			config:     config,
			logger:     utils.ComponentLogger("storage"),
			migrations: GetSQLiteMigrations(),
			driver:     "sqlite",
			bindDollar: false,
		},
	}
}

// Connect creates the data directory if needed and opens the database
func (s *SQLiteStorage) Connect() error {
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return utils.NewAppError(utils.ErrCodeStorage, "Failed to create data directory", err.Error())
		}
	}

	if err := s.sqlStorage.Connect(); err != nil {
		return err
	}

	// Single connection avoids SQLITE_BUSY under concurrent pipelines
	s.db.SetMaxOpenConns(1)
	return nil
}
