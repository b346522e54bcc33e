// File: internal/storage/postgres.go
package storage

import (
	_ "github.com/lib/pq"

	"github.com/chainpulse/chainpulse/pkg/utils"
)

// PostgreSQLStorage implements Storage backed by PostgreSQL
type PostgreSQLStorage struct {
	sqlStorage
}

// NewPostgreSQLStorage creates a new PostgreSQL storage backend
func NewPostgreSQLStorage(config *StorageConfig) *PostgreSQLStorage {
	return &PostgreSQLStorage{
		sqlStorage: sqlStorage{
			config:     config,
			logger:     utils.ComponentLogger("storage"),
			migrations: GetPostgresMigrations(),
			driver:     "postgres",
			bindDollar: true,
		},
	}
}
