package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"freezercore/internal/infra/persistence/sqlite"
	"freezercore/internal/migrate"

	"github.com/xuri/excelize/v2"
)

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := filepath.Join(dir, "freezer.yaml")
	body := "store:\n  driver: sqlite\n  sqlite_path: " + filepath.Join(dir, "freezer.db") +
		"\nblob:\n  driver: fs\n  fs_root: " + filepath.Join(dir, "archives") +
		"\nlog:\n  mode: prod\nmetrics:\n  textfile: " + filepath.Join(dir, "freezer.prom") +
		"\ntrace:\n  file: " + filepath.Join(dir, "spans.json") + "\n"
	if err := os.WriteFile(cfg, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfg, dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeImport(t *testing.T, dir string) string {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	rows := [][]any{
		{"Kind of row", "Barcode", "Kind", "Location", "Name", "Container", "Coordinates", "Volume", "Source container", "Source coordinates", "Volume used"},
		{"container", "FRZ-1", "freezer"},
		{"container", "BOX-1", "tube box 9x9", "FRZ-1"},
		{"sample", "", "BLOOD", "", "blood-1", "BOX-1", "A1", "100"},
		{"extraction", "", "DNA", "", "", "BOX-1", "B1", "20", "BOX-1", "A1", "40"},
		{"sample", "", "BLOOD", "", "blood-2", "BOX-1", "A01", "5"},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	path := filepath.Join(dir, "import.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	return path
}

func TestImportShowAndLineage(t *testing.T) {
	cfg, dir := writeConfig(t)
	out, err := run(t, "--config", cfg, "import", writeImport(t, dir))
	if err == nil || !strings.Contains(out, "4 rows applied, 1 failed") || !strings.Contains(out, "slot_occupied") {
		t.Fatalf("expected one failed row, got %v:\n%s", err, out)
	}

	out, err = run(t, "--config", cfg, "container", "show", "BOX-1")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	for _, want := range []string{"FRZ-1 > BOX-1 (tube box 9x9)", "2 of 81 slots used", "A01", "blood-1-dna"} {
		if !strings.Contains(out, want) {
			t.Fatalf("show output lacks %q:\n%s", want, out)
		}
	}

	out, err = run(t, "--config", cfg, "sample", "lineage", "BOX-1", "a1")
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if !strings.Contains(out, "volume 60") || !strings.Contains(out, "descendant") {
		t.Fatalf("unexpected lineage output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "freezer.prom")); err != nil {
		t.Fatalf("metrics textfile not written: %v", err)
	}
	spans, err := os.ReadFile(filepath.Join(dir, "spans.json"))
	if err != nil || !strings.Contains(string(spans), "process.extract") || !strings.Contains(string(spans), "slot_occupied") {
		t.Fatalf("service spans not exported: %v", err)
	}
}

func TestMigrateFreshStore(t *testing.T) {
	cfg, _ := writeConfig(t)
	out, err := run(t, "--config", cfg, "migrate", "status")
	if err != nil || !strings.Contains(out, "schema version 3 of 3") || strings.Contains(out, "pending") {
		t.Fatalf("status: %v\n%s", err, out)
	}
	out, err = run(t, "--config", cfg, "migrate")
	if err != nil || !strings.Contains(out, "up to date") {
		t.Fatalf("migrate: %v\n%s", err, out)
	}
}

func TestFailedMigrateStillFlushesMetrics(t *testing.T) {
	cfg, dir := writeConfig(t)
	backend, err := sqlite.OpenBackend(filepath.Join(dir, "freezer.db"))
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	legacy := migrate.State{
		Tables: map[string]migrate.Table{
			"container": {"22222222-2222-4222-8222-222222222222": {"name": "box", "kind": "tube box 9x9", "location": nil, "created_at": "2020-01-01T00:00:00Z"}},
			"sample":    {"1": {"id": 1, "name": "odd", "container": "22222222-2222-4222-8222-222222222222", "biospecimen_type": "PLANKTON"}},
		},
		Sequences: map[string]int64{"sample": 1},
	}
	if err := backend.ReplaceState(context.Background(), legacy); err != nil {
		t.Fatalf("seed legacy: %v", err)
	}
	_ = backend.Close()

	if _, err := run(t, "--config", cfg, "migrate"); err == nil {
		t.Fatalf("expected the unknown sample kind to fail the migration")
	}
	metrics, err := os.ReadFile(filepath.Join(dir, "freezer.prom"))
	if err != nil {
		t.Fatalf("metrics textfile not written after failure: %v", err)
	}
	if !strings.Contains(string(metrics), `step="sample_kind_foreign_key"`) || !strings.Contains(string(metrics), `result="error"`) {
		t.Fatalf("failed step not counted:\n%s", metrics)
	}
}

func TestBadConfigFails(t *testing.T) {
	if _, err := run(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "migrate"); err == nil {
		t.Fatalf("expected missing config file to fail")
	}
}
