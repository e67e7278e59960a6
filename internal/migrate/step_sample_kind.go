package migrate

import (
	"context"
	"fmt"
	"time"

	"freezercore/pkg/catalog"
	"freezercore/pkg/domain"
)

const (
	legacyKindField = "biospecimen_type"
	// legacyVolumeSet is what older schemas called an absolute volume entry.
	legacyVolumeSet = "update"
)

// SampleKindForeignKey replaces the free-text biospecimen_type of samples by a
// reference into a new sample_kind table seeded from the catalog. Version
// snapshots are rewritten the same way; a kind the catalog does not know
// fails the step. Legacy "update" volume history entries become "set" in
// rows and snapshots alike.
func SampleKindForeignKey() Step {
	return Step{Version: 2, Name: "sample_kind_foreign_key", Apply: applySampleKindForeignKey}
}

func applySampleKindForeignKey(ctx context.Context, st *State, env Env) error {
	cat := env.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	kinds := st.Tables[string(domain.EntitySampleKind)]
	if kinds == nil {
		kinds = Table{}
		st.Tables[string(domain.EntitySampleKind)] = kinds
	}
	byName := make(map[string]int64, len(kinds))
	var next int64
	for key, row := range kinds {
		id, ok := asInt64(key)
		if !ok {
			return fmt.Errorf("sample kind key %q is not an integer", key)
		}
		name, _ := asString(row["name"])
		byName[name] = id
		next = max(next, id)
	}
	stamp := env.Now.UTC().Format(time.RFC3339Nano)
	for _, sk := range cat.SampleKinds() {
		if _, ok := byName[sk.Name]; ok {
			continue
		}
		next++
		byName[sk.Name] = next
		kinds[domain.ObjectKey(next)] = Row{
			"id":                      next,
			"name":                    sk.Name,
			"molecule_ontology_curie": sk.MoleculeOntologyCURIE,
			"created_at":              stamp,
			"updated_at":              stamp,
		}
	}
	st.Sequences[string(domain.EntitySampleKind)] = max(st.Sequences[string(domain.EntitySampleKind)], next)

	lookup := func(v any) (int64, error) {
		name, ok := asString(v)
		if !ok {
			return 0, fmt.Errorf("%s %v is not a string", legacyKindField, v)
		}
		id, ok := byName[name]
		if !ok {
			return 0, fmt.Errorf("%s %q: %w", legacyKindField, name, domain.ErrUnknownKind)
		}
		return id, nil
	}

	volumes := 0
	for _, key := range sortedIDs(st.Tables[string(domain.EntitySample)]) {
		row := st.Tables[string(domain.EntitySample)][key]
		volumes += normalizeVolumeHistory(row["volume_history"])
		legacy, ok := row[legacyKindField]
		if !ok {
			if _, has := row["sample_kind"]; has {
				continue
			}
			return fmt.Errorf("sample %s has neither %s nor sample_kind", key, legacyKindField)
		}
		id, err := lookup(legacy)
		if err != nil {
			return fmt.Errorf("sample %s: %w", key, err)
		}
		row["sample_kind"] = id
		delete(row, legacyKindField)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rewritten := 0
	for i := range st.Versions {
		v := &st.Versions[i]
		if v.Entity != domain.EntitySample {
			continue
		}
		if err := editSnapshot(v, func(rec *domain.SnapshotRecord) error {
			volumes += normalizeVolumeHistory(rec.Fields["volume_history"])
			legacy, ok := rec.Fields[legacyKindField]
			if !ok {
				return nil
			}
			id, err := lookup(legacy)
			if err != nil {
				return err
			}
			rec.Fields["sample_kind"] = id
			delete(rec.Fields, legacyKindField)
			rewritten++
			return nil
		}); err != nil {
			return err
		}
	}
	env.logger().Info("sample kinds linked", "kinds", len(byName), "snapshots", rewritten, "volume_entries", volumes)
	return nil
}

// normalizeVolumeHistory renames legacy update entries of a decoded
// volume_history to set, in place, and returns how many it renamed.
func normalizeVolumeHistory(v any) int {
	entries, ok := v.([]any)
	if !ok {
		return 0
	}
	n := 0
	for _, e := range entries {
		entry, ok := e.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := asString(entry["update_type"]); t == legacyVolumeSet {
			entry["update_type"] = string(domain.VolumeSet)
			n++
		}
	}
	return n
}
