package runtime

import (
	"fmt"

	"github.com/tjfontaine/envelope-gateway/internal/config"
	"github.com/tjfontaine/envelope-gateway/internal/gateway"
	"github.com/tjfontaine/envelope-gateway/internal/storage"
	"github.com/tjfontaine/envelope-gateway/internal/storage/memory"
	"github.com/tjfontaine/envelope-gateway/internal/storage/sqldb"
)

// openStore creates the access-record store named by cfg. A nil store with a
// nil error means records are not persisted.
func openStore(cfg config.StorageConfig) (storage.AccessRecordStore, error) {
	switch cfg.Type {
	case "", "memory":
		return memory.New(), nil
	case "sqlite":
		return sqldb.NewSQLite(cfg.SQLite.Path)
	case "sql":
		return sqldb.New(sqldb.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// logTypeOf reads the configured access-log default.
func logTypeOf(cfg *config.Config) gateway.LogType {
	return gateway.LogType(cfg.Gateway.LogType)
}
