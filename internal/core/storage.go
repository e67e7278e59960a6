package core

import (
	"context"
	"fmt"
	"io"

	"freezercore/internal/infra/persistence/memory"
	"freezercore/internal/infra/persistence/postgres"
	"freezercore/internal/infra/persistence/sqlite"
	"freezercore/internal/migrate"
	"freezercore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and configures the persistent store.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenPersistentStore opens the configured backend. An empty driver selects
// sqlite. Durable stores refuse state older than the current schema with
// domain.ErrMigrationRequired.
func OpenPersistentStore(cfg StorageConfig, engine *domain.RulesEngine) (PersistentStore, error) {
	switch cfg.Driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case "", StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath, engine)
	case StoragePostgres:
		return postgres.NewStore(cfg.PostgresDSN, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// OpenMigrationBackend opens the raw bucket state of the configured backend
// for the migration engine. The caller closes the returned io.Closer.
func OpenMigrationBackend(ctx context.Context, cfg StorageConfig) (migrate.Backend, io.Closer, error) {
	switch cfg.Driver {
	case StorageMemory:
		// Fresh in-memory state is always current.
		return migrate.NewMemoryBackend(migrate.State{Version: migrate.LatestVersion}), nopCloser{}, nil
	case "", StorageSQLite:
		b, err := sqlite.OpenBackend(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	case StoragePostgres:
		b, err := postgres.OpenBackend(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return b, b, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Close releases the store's resources when it holds any.
func (s *Service) Close() error {
	if c, ok := s.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
