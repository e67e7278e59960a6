// Package sqlstate persists store state as one JSON payload per bucket in a
// state table, next to an append-only versions table. The sqlite and postgres
// stores share it and differ only in their Dialect.
package sqlstate

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"freezercore/internal/migrate"
	"freezercore/pkg/domain"
)

// Dialect captures the SQL differences between backends.
type Dialect struct {
	Name string
	// PayloadType is the column type of JSON payloads.
	PayloadType string
	// Placeholder renders the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Reset empties both tables inside a transaction.
	Reset []string
}

// SQLite is the modernc.org/sqlite dialect.
var SQLite = Dialect{
	Name:        "sqlite",
	PayloadType: "BLOB",
	Placeholder: func(int) string { return "?" },
	Reset:       []string{"DELETE FROM versions", "DELETE FROM state"},
}

// Postgres is the pgx stdlib dialect.
var Postgres = Dialect{
	Name:        "postgres",
	PayloadType: "JSONB",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	Reset:       []string{"TRUNCATE TABLE state, versions"},
}

func (d Dialect) placeholders(n int) string {
	out := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ","
		}
		out += d.Placeholder(i)
	}
	return out
}

// DB reads and writes bucketed state. It also satisfies migrate.Backend.
type DB struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
}

var _ migrate.Backend = (*DB)(nil)

// New wraps db.
func New(db *sql.DB, dialect Dialect) *DB {
	return &DB{db: db, dialect: dialect}
}

// SQL exposes the underlying handle.
func (d *DB) SQL() *sql.DB { return d.db }

// Close closes the underlying handle.
func (d *DB) Close() error { return d.db.Close() }

// EnsureSchema creates the state and versions tables when missing.
func (d *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload %s NOT NULL
	)`, d.dialect.PayloadType),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS versions (
		id BIGINT PRIMARY KEY,
		entity TEXT NOT NULL,
		object_id TEXT NOT NULL,
		action TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		serialized_data %s NOT NULL
	)`, d.dialect.PayloadType),
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure %s schema: %w", d.dialect.Name, err)
		}
	}
	return nil
}

// LoadBuckets returns every stored bucket payload.
func (d *DB) LoadBuckets(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return nil, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := map[string]json.RawMessage{}
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		out[bucket] = json.RawMessage(slices.Clone(payload))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state: %w", err)
	}
	return out, nil
}

// LoadVersions returns the audit log ordered by id.
func (d *DB) LoadVersions(ctx context.Context) ([]domain.Version, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, entity, object_id, action, recorded_at, serialized_data FROM versions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select versions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Version
	for rows.Next() {
		var (
			v        domain.Version
			entity   string
			action   string
			recorded string
			data     []byte
		)
		if err := rows.Scan(&v.ID, &entity, &v.ObjectID, &action, &recorded, &data); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		at, err := time.Parse(time.RFC3339Nano, recorded)
		if err != nil {
			return nil, fmt.Errorf("version %d recorded_at: %w", v.ID, err)
		}
		v.Entity = domain.EntityType(entity)
		v.Action = domain.Action(action)
		v.RecordedAt = at
		v.SerializedData = slices.Clone(data)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	slices.SortFunc(out, func(a, b domain.Version) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Commit upserts every bucket and appends versions in one SQL transaction.
func (d *DB) Commit(ctx context.Context, buckets map[string]json.RawMessage, appended []domain.Version) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		if err := d.writeBuckets(ctx, tx, buckets); err != nil {
			return err
		}
		return d.insertVersions(ctx, tx, appended)
	})
}

// Replace swaps the whole persisted state in one SQL transaction.
func (d *DB) Replace(ctx context.Context, buckets map[string]json.RawMessage, versions []domain.Version) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range d.dialect.Reset {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("reset state: %w", err)
			}
		}
		if err := d.writeBuckets(ctx, tx, buckets); err != nil {
			return err
		}
		return d.insertVersions(ctx, tx, versions)
	})
}

// LoadState implements migrate.Backend. Missing schema_version means the
// state predates versioning and is reported as version 0. An empty database
// is reported as current, matching what Attach initialises it to.
func (d *DB) LoadState(ctx context.Context) (migrate.State, error) {
	buckets, err := d.LoadBuckets(ctx)
	if err != nil {
		return migrate.State{}, err
	}
	versions, err := d.LoadVersions(ctx)
	if err != nil {
		return migrate.State{}, err
	}
	if len(buckets) == 0 && len(versions) == 0 {
		return migrate.State{Version: domain.CurrentSchemaVersion, Tables: map[string]migrate.Table{}, Sequences: map[string]int64{}}, nil
	}
	return migrate.StateFromBuckets(buckets, versions)
}

// ReplaceState implements migrate.Backend.
func (d *DB) ReplaceState(ctx context.Context, st migrate.State) error {
	buckets, err := st.Buckets()
	if err != nil {
		return err
	}
	return d.Replace(ctx, buckets, st.Versions)
}

func (d *DB) inTx(ctx context.Context, fn func(*sql.Tx) error) (retErr error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (d *DB) writeBuckets(ctx context.Context, tx *sql.Tx, buckets map[string]json.RawMessage) error {
	stmt := fmt.Sprintf(`INSERT INTO state(bucket, payload) VALUES(%s) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`, d.dialect.placeholders(2))
	for _, name := range slices.Sorted(maps.Keys(buckets)) {
		if _, err := tx.ExecContext(ctx, stmt, name, []byte(buckets[name])); err != nil {
			return fmt.Errorf("upsert %s: %w", name, err)
		}
	}
	return nil
}

func (d *DB) insertVersions(ctx context.Context, tx *sql.Tx, versions []domain.Version) error {
	stmt := fmt.Sprintf(`INSERT INTO versions(id, entity, object_id, action, recorded_at, serialized_data) VALUES(%s)`, d.dialect.placeholders(6))
	for _, v := range versions {
		if _, err := tx.ExecContext(ctx, stmt,
			v.ID, string(v.Entity), v.ObjectID, string(v.Action),
			v.RecordedAt.UTC().Format(time.RFC3339Nano), []byte(v.SerializedData),
		); err != nil {
			return fmt.Errorf("insert version %d: %w", v.ID, err)
		}
	}
	return nil
}
