// Package postgres provides the PostgreSQL-backed persistent store. It keeps
// the in-memory semantics and writes each committed transaction through.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"freezercore/internal/infra/persistence/memory"
	"freezercore/internal/infra/persistence/sqlstate"
	"freezercore/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// DefaultDSN is used when no DSN is configured.
	DefaultDSN = "postgres://localhost/freezer?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	state *sqlstate.DB
}

// NewStore opens a Postgres-backed store using dsn (falls back to DefaultDSN)
// and hydrates it from the stored state. An older schema yields
// domain.ErrMigrationRequired.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	ctx := context.Background()
	state, err := OpenBackend(ctx, dsn)
	if err != nil {
		return nil, err
	}
	mem, err := sqlstate.Attach(ctx, state, engine)
	if err != nil {
		_ = state.Close()
		return nil, err
	}
	return &Store{Store: mem, state: state}, nil
}

// OpenBackend connects without loading state, for the migration engine.
func OpenBackend(ctx context.Context, dsn string) (*sqlstate.DB, error) {
	if dsn == "" {
		dsn = DefaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	state := sqlstate.New(db, sqlstate.Postgres)
	if err := state.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return state, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.state.SQL() }

// Close releases the connection pool.
func (s *Store) Close() error { return s.state.Close() }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
