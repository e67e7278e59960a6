package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"freezercore/pkg/catalog"
	"freezercore/pkg/domain"
)

func env() Env { return Env{Catalog: catalog.Default(), Now: fixedNow()} }

func TestContainerIntegerIDsRejectsDanglingLiveReference(t *testing.T) {
	st := legacyState(t)
	st.Tables["sample"]["1"]["container"] = uuidUnknown
	err := ContainerIntegerIDs().Apply(context.Background(), &st, env())
	if !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestContainerIntegerIDsRejectsNonUUIDKeys(t *testing.T) {
	st := legacyState(t)
	st.Tables["container"]["7"] = Row{"name": "already numbered"}
	if err := ContainerIntegerIDs().Apply(context.Background(), &st, env()); err == nil {
		t.Fatalf("expected UUID parse error")
	}
}

func TestSampleKindForeignKeyKeepsExistingKinds(t *testing.T) {
	st := State{
		Tables: map[string]Table{
			"sample_kind": {"4": {"id": 4, "name": "CELLS"}},
			"sample":      {"1": {"biospecimen_type": "CELLS"}, "2": {"sample_kind": json.Number("4")}},
		},
		Sequences: map[string]int64{},
	}
	if err := SampleKindForeignKey().Apply(context.Background(), &st, env()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if mustInt(t, st.Tables["sample"]["1"]["sample_kind"]) != 4 {
		t.Fatalf("existing kind id should be reused: %v", st.Tables["sample"]["1"])
	}
	if len(st.Tables["sample_kind"]) != len(catalog.SampleKindNames) {
		t.Fatalf("expected remaining catalog kinds to be added, got %d", len(st.Tables["sample_kind"]))
	}
	// new kinds are numbered after the existing id 4
	if st.Sequences["sample_kind"] != 4+int64(len(catalog.SampleKindNames))-1 {
		t.Fatalf("unexpected sequence %d", st.Sequences["sample_kind"])
	}
}

func TestSampleKindForeignKeyRenamesUpdateEntriesOfLinkedRows(t *testing.T) {
	st := State{
		Tables:    map[string]Table{"sample": {"1": {"sample_kind": json.Number("1"), "volume_history": legacyVolume("12")}}},
		Sequences: map[string]int64{},
	}
	if err := SampleKindForeignKey().Apply(context.Background(), &st, env()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	entry := st.Tables["sample"]["1"]["volume_history"].([]any)[0].(map[string]any)
	if entry["update_type"] != "set" || entry["volume_value"] != "12" {
		t.Fatalf("unexpected volume entry %v", entry)
	}
}

func TestSampleKindForeignKeyRequiresAKind(t *testing.T) {
	st := State{Tables: map[string]Table{"sample": {"1": {"name": "orphan"}}}, Sequences: map[string]int64{}}
	if err := SampleKindForeignKey().Apply(context.Background(), &st, env()); err == nil {
		t.Fatalf("expected missing kind error")
	}
}

func TestSampleLineageEdgesValidatesParents(t *testing.T) {
	missing := State{Tables: map[string]Table{"sample": {"2": {"extracted_from": json.Number("9")}}}, Sequences: map[string]int64{}}
	if err := SampleLineageEdges().Apply(context.Background(), &missing, env()); !domain.IsNotFound(err) {
		t.Fatalf("expected missing parent, got %v", err)
	}
	self := State{Tables: map[string]Table{"sample": {"2": {"extracted_from": json.Number("2")}}}, Sequences: map[string]int64{}}
	if err := SampleLineageEdges().Apply(context.Background(), &self, env()); !errors.Is(err, domain.ErrCyclicLineage) {
		t.Fatalf("expected cyclic lineage, got %v", err)
	}
}

func TestSampleLineageEdgesSkipsExistingEdges(t *testing.T) {
	st := State{
		Tables: map[string]Table{
			"sample":         {"1": {}, "2": {"extracted_from": json.Number("1")}},
			"sample_lineage": {"5": {"id": 5, "parent": 1, "child": 2}},
		},
		Sequences: map[string]int64{},
	}
	if err := SampleLineageEdges().Apply(context.Background(), &st, env()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(st.Tables["sample_lineage"]) != 1 || len(st.Versions) != 0 {
		t.Fatalf("duplicate edge synthesized: %v", st.Tables["sample_lineage"])
	}
	if st.Sequences["sample_lineage"] != 5 {
		t.Fatalf("sequence should follow existing ids, got %d", st.Sequences["sample_lineage"])
	}
	if _, ok := st.Tables["sample"]["2"]["extracted_from"]; ok {
		t.Fatalf("extracted_from must be dropped")
	}
}

func TestStateBucketsRoundTrip(t *testing.T) {
	st := legacyState(t)
	st.Version = 2
	buckets, err := st.Buckets()
	if err != nil {
		t.Fatalf("buckets: %v", err)
	}
	back, err := StateFromBuckets(buckets, st.Versions)
	if err != nil {
		t.Fatalf("from buckets: %v", err)
	}
	if back.Version != 2 || back.Sequences["version"] != 7 || len(back.Tables["container"]) != 3 {
		t.Fatalf("unexpected round trip %+v", back)
	}
	clone := back.Clone()
	clone.Tables["sample"]["1"]["name"] = "changed"
	if back.Tables["sample"]["1"]["name"] == "changed" {
		t.Fatalf("clone aliases rows")
	}
}
