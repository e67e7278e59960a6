package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"
	"time"

	"freezercore/internal/blob"
	"freezercore/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	uuidFreezer = "0b7e5f4a-1c2d-4e3f-8a9b-000000000001"
	uuidRack    = "11111111-1111-4111-8111-111111111111"
	uuidBox     = "22222222-2222-4222-8222-222222222222"
	uuidGone    = "dddddddd-dddd-4ddd-8ddd-dddddddddddd"
	uuidUnknown = "eeeeeeee-eeee-4eee-8eee-eeeeeeeeeeee"
)

func snap(t *testing.T, model string, pk any, fields map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal([]domain.SnapshotRecord{{Model: model, PK: pk, Fields: fields}})
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	return raw
}

func version(t *testing.T, id int64, entity domain.EntityType, object string, action domain.Action, pk any, fields map[string]any) domain.Version {
	return domain.Version{
		ID:             id,
		Entity:         entity,
		ObjectID:       object,
		Action:         action,
		RecordedAt:     time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(id) * time.Hour),
		SerializedData: snap(t, string(entity), pk, fields),
	}
}

// legacyVolume is a version 0 volume history holding one absolute entry.
func legacyVolume(value string) []any {
	return []any{map[string]any{"date": "2020-04-15T03:50:45.127218Z", "update_type": "update", "volume_value": value}}
}

// legacyState is a version 0 database: UUID container keys, free-text
// biospecimen types, "update" volume entries and a single extracted_from
// parent per sample.
func legacyState(t *testing.T) State {
	t.Helper()
	return State{
		Version: 0,
		Tables: map[string]Table{
			"container": {
				uuidFreezer: {"name": "freezer", "kind": "freezer", "location": nil, "created_at": "2020-01-01T00:00:00Z"},
				uuidRack:    {"name": "rack", "kind": "freezer rack 4x6", "location": uuidFreezer, "created_at": "2020-01-02T00:00:00Z"},
				uuidBox:     {"name": "box", "kind": "tube box 9x9", "location": uuidRack, "created_at": "2020-01-02T00:00:00Z"},
			},
			"sample": {
				"1": {"id": json.Number("1"), "name": "blood-1", "container": uuidBox, "coordinates": "A01", "biospecimen_type": "BLOOD", "extracted_from": nil, "volume_history": legacyVolume("5000")},
				"2": {"id": json.Number("2"), "name": "dna-1", "container": uuidBox, "coordinates": "A02", "biospecimen_type": "DNA", "extracted_from": json.Number("1"), "volume_history": legacyVolume("0")},
			},
		},
		Sequences: map[string]int64{"sample": 2, "version": 7},
		Versions: []domain.Version{
			version(t, 1, domain.EntityContainer, uuidFreezer, domain.ActionCreate, uuidFreezer, map[string]any{"name": "freezer", "location": nil}),
			version(t, 2, domain.EntityContainer, uuidGone, domain.ActionCreate, uuidGone, map[string]any{"name": "old box", "location": uuidFreezer}),
			version(t, 3, domain.EntitySample, "1", domain.ActionCreate, 1, map[string]any{"container": uuidGone, "biospecimen_type": "BLOOD"}),
			version(t, 4, domain.EntityContainer, uuidGone, domain.ActionDelete, uuidGone, map[string]any{"name": "old box", "location": uuidFreezer}),
			version(t, 5, domain.EntitySample, "1", domain.ActionUpdate, 1, map[string]any{"container": uuidBox, "biospecimen_type": "BLOOD", "extracted_from": nil, "volume_history": legacyVolume("5000")}),
			version(t, 6, domain.EntitySample, "2", domain.ActionCreate, 2, map[string]any{"container": uuidBox, "biospecimen_type": "DNA", "extracted_from": 1}),
			version(t, 7, domain.EntitySample, "2", domain.ActionUpdate, 2, map[string]any{"container": uuidUnknown, "biospecimen_type": "DNA", "extracted_from": 1}),
		},
	}
}

func fixedNow() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func mustInt(t *testing.T, v any) int64 {
	t.Helper()
	n, ok := asInt64(v)
	if !ok {
		t.Fatalf("expected integer, got %#v", v)
	}
	return n
}

func decode(t *testing.T, v domain.Version) domain.SnapshotRecord {
	t.Helper()
	rec, err := domain.DecodeSnapshot(v.SerializedData)
	if err != nil {
		t.Fatalf("decode version %d: %v", v.ID, err)
	}
	return rec
}

func TestEngineUpgradesLegacyState(t *testing.T) {
	backend := NewMemoryBackend(legacyState(t))
	report, err := NewEngine(backend, WithClock(fixedNow)).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"container_integer_ids", "sample_kind_foreign_key", "sample_lineage_edges"}
	if report.From != 0 || report.To != LatestVersion || !slices.Equal(report.Applied, want) {
		t.Fatalf("unexpected report %+v", report)
	}
	if backend.Commits() != 3 {
		t.Fatalf("expected one commit per step, got %d", backend.Commits())
	}
	st := backend.State()
	if st.Version != LatestVersion {
		t.Fatalf("expected version %d, got %d", LatestVersion, st.Version)
	}

	containers := st.Tables["container"]
	if len(containers) != 3 {
		t.Fatalf("expected 3 live containers, got %v", containers)
	}
	// freezer is oldest; rack and box tie on created_at and fall back to UUID order.
	if containers["1"]["name"] != "freezer" || containers["2"]["name"] != "rack" || containers["3"]["name"] != "box" {
		t.Fatalf("unexpected numbering %v", containers)
	}
	if containers["1"]["location"] != nil || mustInt(t, containers["2"]["location"]) != 1 || mustInt(t, containers["3"]["location"]) != 2 {
		t.Fatalf("locations not rewritten: %v", containers)
	}
	if st.Sequences["container"] != 4 {
		t.Fatalf("deleted container must consume id 4, sequence is %d", st.Sequences["container"])
	}

	dna := st.Tables["sample"]["2"]
	if mustInt(t, dna["container"]) != 3 || mustInt(t, dna["sample_kind"]) != 1 {
		t.Fatalf("unexpected sample row %v", dna)
	}
	for _, field := range []string{"biospecimen_type", "extracted_from"} {
		if _, ok := dna[field]; ok {
			t.Fatalf("legacy field %s survived: %v", field, dna)
		}
	}
	if mustInt(t, st.Tables["sample"]["1"]["sample_kind"]) != 3 {
		t.Fatalf("BLOOD should map to the third catalog kind: %v", st.Tables["sample"]["1"])
	}
	if len(st.Tables["sample_kind"]) != 9 || st.Sequences["sample_kind"] != 9 {
		t.Fatalf("expected the catalog sample kinds, got %d", len(st.Tables["sample_kind"]))
	}

	edges := st.Tables["sample_lineage"]
	if len(edges) != 1 || mustInt(t, edges["1"]["parent"]) != 1 || mustInt(t, edges["1"]["child"]) != 2 {
		t.Fatalf("expected one synthesized edge, got %v", edges)
	}
	for _, table := range []string{"protocol", "process", "process_by_sample"} {
		if _, ok := st.Tables[table]; !ok {
			t.Fatalf("expected %s table", table)
		}
	}

	if len(st.Versions) != 8 {
		t.Fatalf("expected the synthesized edge version, got %d versions", len(st.Versions))
	}
	gone := st.Versions[1]
	if gone.ObjectID != "4" || mustInt(t, decode(t, gone).PK) != 4 || mustInt(t, decode(t, gone).Fields["location"]) != 1 {
		t.Fatalf("deleted container history not renumbered: %+v %+v", gone, decode(t, gone))
	}
	if mustInt(t, decode(t, st.Versions[2]).Fields["container"]) != 4 {
		t.Fatalf("sample history should point at the deleted container's new id")
	}
	if decode(t, st.Versions[6]).Fields["container"] != nil {
		t.Fatalf("unresolvable history reference should become null")
	}
	for _, v := range st.Versions {
		if v.Entity != domain.EntitySample {
			continue
		}
		rec := decode(t, v)
		if _, ok := rec.Fields["extracted_from"]; ok {
			t.Fatalf("version %d still carries extracted_from", v.ID)
		}
		if _, ok := rec.Fields["sample_kind"]; !ok {
			t.Fatalf("version %d lacks sample_kind", v.ID)
		}
	}
	edgeVersion := st.Versions[7]
	if edgeVersion.ID != 8 || edgeVersion.Entity != domain.EntitySampleLineage || edgeVersion.Action != domain.ActionCreate || !edgeVersion.RecordedAt.Equal(fixedNow()) {
		t.Fatalf("unexpected edge version %+v", edgeVersion)
	}
}

func TestEngineRenamesLegacyVolumeUpdates(t *testing.T) {
	backend := NewMemoryBackend(legacyState(t))
	if _, err := NewEngine(backend, WithClock(fixedNow)).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	st := backend.State()
	raw, err := json.Marshal(st.Tables["sample"]["1"])
	if err != nil {
		t.Fatalf("encode row: %v", err)
	}
	var blood domain.Sample
	if err := json.Unmarshal(raw, &blood); err != nil {
		t.Fatalf("decode row: %v", err)
	}
	volume, err := blood.CurrentVolume()
	if err != nil {
		t.Fatalf("migrated history must fold: %v", err)
	}
	if volume.String() != "5000" || blood.VolumeHistory[0].Type != domain.VolumeSet {
		t.Fatalf("unexpected migrated history %+v", blood.VolumeHistory)
	}

	rec := decode(t, st.Versions[4])
	raw, err = json.Marshal(rec.Fields["volume_history"])
	if err != nil {
		t.Fatalf("encode snapshot history: %v", err)
	}
	var history []domain.VolumeEvent
	if err := json.Unmarshal(raw, &history); err != nil {
		t.Fatalf("decode snapshot history: %v", err)
	}
	if _, err := domain.FoldVolume(history); err != nil {
		t.Fatalf("snapshot history must fold: %v", err)
	}
}

func TestEngineStepFailureKeepsCommittedVersion(t *testing.T) {
	st := legacyState(t)
	st.Tables["sample"]["1"]["biospecimen_type"] = "PLANKTON"
	backend := NewMemoryBackend(st)
	report, err := NewEngine(backend).Run(context.Background())
	if !errors.Is(err, domain.ErrMigrationStepFailed) || !errors.Is(err, domain.ErrUnknownKind) {
		t.Fatalf("expected step failure wrapping unknown kind, got %v", err)
	}
	if report.To != 1 || backend.Commits() != 1 || backend.State().Version != 1 {
		t.Fatalf("expected step 1 committed only: report %+v commits %d", report, backend.Commits())
	}
	if _, ok := backend.State().Tables["sample_kind"]; ok {
		t.Fatalf("failed step leaked partial changes")
	}

	fixed := backend.State()
	fixed.Tables["sample"]["1"]["biospecimen_type"] = "BLOOD"
	if err := backend.ReplaceState(context.Background(), fixed); err != nil {
		t.Fatalf("fix data: %v", err)
	}
	report, err = NewEngine(backend).Run(context.Background())
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if report.From != 1 || report.To != LatestVersion || len(report.Applied) != 2 {
		t.Fatalf("unexpected rerun report %+v", report)
	}
}

func TestEngineArchivesBeforeFirstStep(t *testing.T) {
	store := blob.NewMemory()
	backend := NewMemoryBackend(legacyState(t))
	report, err := NewEngine(backend, WithArchive(store), WithClock(fixedNow)).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Archive != "migrations/0-3-20260102T030405Z.json" {
		t.Fatalf("unexpected archive key %q", report.Archive)
	}
	info, err := store.Head(context.Background(), report.Archive)
	if err != nil || info.Metadata["to-version"] != "3" || info.ContentType != "application/json" {
		t.Fatalf("unexpected archive metadata %+v %v", info, err)
	}
	archived, err := LoadArchive(context.Background(), store, report.Archive)
	if err != nil {
		t.Fatalf("load archive: %v", err)
	}
	if archived.Version != 0 {
		t.Fatalf("archive must hold the pre-migration state")
	}
	if _, ok := archived.Tables["container"][uuidFreezer]; !ok {
		t.Fatalf("archive lost UUID keyed containers: %v", archived.Tables["container"])
	}
	if len(archived.Versions) != 7 {
		t.Fatalf("archive lost version rows")
	}

	// A second run over the restored archive collides with the same key.
	restored := NewMemoryBackend(archived)
	if _, err := NewEngine(restored, WithArchive(store), WithClock(fixedNow)).Run(context.Background()); !errors.Is(err, blob.ErrExists) {
		t.Fatalf("expected archive collision, got %v", err)
	}
	if restored.Commits() != 0 {
		t.Fatalf("archive failure must stop before any step")
	}
}

func TestEngineDryRunCommitsNothing(t *testing.T) {
	store := blob.NewMemory()
	backend := NewMemoryBackend(legacyState(t))
	report, err := NewEngine(backend, WithDryRun(true), WithArchive(store)).Run(context.Background())
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !report.DryRun || report.To != LatestVersion || report.Archive != "" {
		t.Fatalf("unexpected dry run report %+v", report)
	}
	if backend.Commits() != 0 || backend.State().Version != 0 {
		t.Fatalf("dry run changed the backend")
	}
	if list, _ := store.List(context.Background(), ArchivePrefix); len(list) != 0 {
		t.Fatalf("dry run must not archive")
	}
}

func TestEngineUpToDateAndNewerState(t *testing.T) {
	backend := NewMemoryBackend(State{Version: LatestVersion})
	report, err := NewEngine(backend).Run(context.Background())
	if err != nil || len(report.Applied) != 0 || backend.Commits() != 0 {
		t.Fatalf("expected no-op, got %+v %v", report, err)
	}
	pending, current, err := NewEngine(backend).Pending(context.Background())
	if err != nil || len(pending) != 0 || current != LatestVersion {
		t.Fatalf("unexpected pending %v %d %v", pending, current, err)
	}

	newer := NewMemoryBackend(State{Version: LatestVersion + 1})
	if _, err := NewEngine(newer).Run(context.Background()); err == nil {
		t.Fatalf("expected refusal of newer state")
	}
}

func TestEngineValidatesStepOrder(t *testing.T) {
	noop := func(context.Context, *State, Env) error { return nil }
	backend := NewMemoryBackend(State{})
	gap := NewEngine(backend, WithSteps(Step{Version: 1, Name: "a", Apply: noop}, Step{Version: 3, Name: "c", Apply: noop}))
	if _, err := gap.Run(context.Background()); err == nil {
		t.Fatalf("expected version gap error")
	}
	empty := NewEngine(backend, WithSteps(Step{Version: 1, Name: "a"}))
	if _, _, err := empty.Pending(context.Background()); err == nil {
		t.Fatalf("expected missing body error")
	}
}

func TestEngineRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg, "freezer")
	backend := NewMemoryBackend(legacyState(t))
	if _, err := NewEngine(backend, WithMetrics(metrics)).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := promtestutil.ToFloat64(metrics.steps.WithLabelValues("sample_lineage_edges", "success")); got != 1 {
		t.Fatalf("expected one successful lineage step, got %v", got)
	}
}

func TestEngineHonoursCancellation(t *testing.T) {
	backend := NewMemoryBackend(legacyState(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewEngine(backend).Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if backend.Commits() != 0 {
		t.Fatalf("cancelled run committed")
	}
}
