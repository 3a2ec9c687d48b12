package core

import (
	"fmt"
	"os"

	"roundcore/internal/infra/persistence/memory"
	"roundcore/internal/infra/persistence/postgres"
	"roundcore/internal/infra/persistence/sqlite"
	"roundcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	ROUNDCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	ROUNDCORE_SQLITE_PATH: path to sqlite file (default ./roundcore.db)
//	ROUNDCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *RulesEngine) (PersistentStore, error) {
	driver := os.Getenv("ROUNDCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		path := os.Getenv("ROUNDCORE_SQLITE_PATH")
		return sqlite.NewStore(path, engine)
	case StoragePostgres:
		dsn := os.Getenv("ROUNDCORE_POSTGRES_DSN")
		return postgres.NewStore(dsn, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// DefaultRulesEngine returns an engine preloaded with the built-in rules.
func DefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewGroupCapacityRule())
	engine.Register(NewRoundBudgetRule())
	return engine
}
