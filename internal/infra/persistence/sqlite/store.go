// Package sqlite provides the embedded, file-backed persistent store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"freezercore/internal/infra/persistence/memory"
	"freezercore/internal/infra/persistence/sqlstate"
	"freezercore/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "freezer.db"

// Store keeps the working set in memory and writes every committed
// transaction through to a SQLite file.
type Store struct {
	*memory.Store
	state *sqlstate.DB
	path  string
}

// NewStore opens (or creates) the database at path and hydrates the store.
// A database written by an older schema yields domain.ErrMigrationRequired.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	state, err := OpenBackend(path)
	if err != nil {
		return nil, err
	}
	mem, err := sqlstate.Attach(context.Background(), state, engine)
	if err != nil {
		_ = state.Close()
		return nil, err
	}
	return &Store{Store: mem, state: state, path: path}, nil
}

// OpenBackend opens the database without loading it, for the migration
// engine. The returned value implements migrate.Backend.
func OpenBackend(path string) (*sqlstate.DB, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serialises writers and keeps :memory: databases coherent.
	db.SetMaxOpenConns(1)
	state := sqlstate.New(db, sqlstate.SQLite)
	if err := state.EnsureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return state, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.state.SQL() }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.state.Close() }
