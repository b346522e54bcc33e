// File: internal/storage/factory.go
package storage

import (
	"fmt"

	"github.com/chainpulse/chainpulse/pkg/utils"
)

// NewStorage creates a storage backend based on configuration
func NewStorage(config *StorageConfig) (Storage, error) {
	switch config.Type {
	case "sqlite":
		return NewSQLiteStorage(config), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStorage(config), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type",
			fmt.Sprintf("storage type %q is not supported, use sqlite or postgres", config.Type))
	}
}
