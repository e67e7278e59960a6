package sqlstate

import (
	"context"
	"encoding/json"
	"fmt"

	"freezercore/internal/infra/persistence/memory"
	"freezercore/internal/migrate"
	"freezercore/pkg/domain"
)

// Buckets splits a snapshot into per-bucket payloads keyed by the snapshot's
// JSON field names.
func Buckets(s memory.Snapshot) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("split snapshot: %w", err)
	}
	return out, nil
}

// Snapshot is the inverse of Buckets.
func Snapshot(buckets map[string]json.RawMessage, versions []domain.Version) (memory.Snapshot, error) {
	raw, err := json.Marshal(buckets)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("join buckets: %w", err)
	}
	var s memory.Snapshot
	if err := json.Unmarshal(raw, &s); err != nil {
		return memory.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	s.Versions = versions
	return s, nil
}

// SchemaVersion reads the schema_version bucket; ok is false when absent.
func SchemaVersion(buckets map[string]json.RawMessage) (version int, ok bool, err error) {
	raw, ok := buckets[migrate.SchemaVersionBucket]
	if !ok {
		return 0, false, nil
	}
	if err := json.Unmarshal(raw, &version); err != nil {
		return 0, true, fmt.Errorf("decode schema_version: %w", err)
	}
	return version, true, nil
}

// Attach loads persisted state into a new memory store and installs a commit
// hook that writes every transaction through to db. An empty database is
// initialised at the current schema version; an older one is refused with
// domain.ErrMigrationRequired.
func Attach(ctx context.Context, db *DB, engine *domain.RulesEngine) (*memory.Store, error) {
	if err := db.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	buckets, err := db.LoadBuckets(ctx)
	if err != nil {
		return nil, err
	}
	mem := memory.NewStore(engine)
	if len(buckets) == 0 {
		initial, err := Buckets(mem.ExportState())
		if err != nil {
			return nil, err
		}
		if err := db.Commit(ctx, initial, nil); err != nil {
			return nil, fmt.Errorf("initialise state: %w", err)
		}
	} else {
		version, _, err := SchemaVersion(buckets)
		if err != nil {
			return nil, err
		}
		switch {
		case version < domain.CurrentSchemaVersion:
			return nil, fmt.Errorf("%w: stored state is at version %d, expected %d", domain.ErrMigrationRequired, version, domain.CurrentSchemaVersion)
		case version > domain.CurrentSchemaVersion:
			return nil, fmt.Errorf("stored state is at version %d, newer than this build (%d)", version, domain.CurrentSchemaVersion)
		}
		versions, err := db.LoadVersions(ctx)
		if err != nil {
			return nil, err
		}
		snapshot, err := Snapshot(buckets, versions)
		if err != nil {
			return nil, err
		}
		mem.ImportState(snapshot)
	}
	mem.SetCommitHook(func(ctx context.Context, state memory.Snapshot, appended []domain.Version) error {
		buckets, err := Buckets(state)
		if err != nil {
			return err
		}
		return db.Commit(ctx, buckets, appended)
	})
	return mem, nil
}
