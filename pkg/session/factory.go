package session

import "github.com/easyops/contextengine/pkg/core/errors"

// StoreType 存储类型
type StoreType string

const (
	// StoreTypeMemory 内存存储
	StoreTypeMemory StoreType = "memory"
	// StoreTypeSQLite SQLite 存储
	StoreTypeSQLite StoreType = "sqlite"
)

// NewStore 根据类型创建会话存储
func NewStore(storeType StoreType, sqlitePath string) (Store, error) {
	switch storeType {
	case StoreTypeSQLite:
		if sqlitePath == "" {
			return nil, errors.NewConfigurationError("session", "sqlite store requires a path")
		}
		return NewSQLiteStore(sqlitePath)
	case StoreTypeMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, errors.NewConfigurationError("session", "unknown store type %q", storeType)
	}
}
