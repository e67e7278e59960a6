package importer

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"freezercore/internal/core"
	"freezercore/pkg/domain"

	"github.com/xuri/excelize/v2"
)

func newService() *core.Service {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	return core.NewInMemoryService(nil, core.WithClock(core.ClockFunc(func() time.Time { return now })))
}

func row(n int, kind Kind, kv ...string) Row {
	r := Row{Number: n, Kind: kind, Values: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		r.Values[kv[i]] = kv[i+1]
	}
	return r
}

func TestImporterAppliesRowsIndependently(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	rows := []Row{
		row(2, KindContainer, "barcode", "FRZ-1", "kind", "freezer"),
		row(3, KindContainer, "barcode", "BOX-1", "kind", "tube box 9x9", "location", "FRZ-1"),
		row(4, KindContainer, "barcode", "BOX-2", "kind", "tube box 9x9", "location", "NOWHERE"),
		row(5, KindIndividual, "name", "donor-1", "taxon", domain.TaxonHomoSapiens, "sex", "F"),
		row(6, KindSample, "name", "blood-1", "kind", "BLOOD", "container", "BOX-1", "coordinates", "a1", "volume", "100", "individual", "donor-1", "experimental_group", "ctl, day1"),
		row(7, KindSample, "name", "blood-2", "kind", "BLOOD", "container", "BOX-1", "coordinates", "A01", "volume", "100"),
		row(8, KindSample, "name", "blood-3", "kind", "BLOOD", "container", "BOX-1", "volume", "lots"),
		row(9, KindExtraction, "source_container", "BOX-1", "source_coordinates", "A1", "kind", "DNA", "volume_used", "30", "container", "BOX-1", "coordinates", "A2", "volume", "15"),
		row(10, KindSampleUpdate, "container", "BOX-1", "coordinates", "A1", "volume_delta", "-70", "comment", "used up"),
		row(11, KindSampleUpdate, "container", "BOX-1", "coordinates", "A1", "volume_delta", "-1"),
		row(12, "plate_map"),
		row(13, KindContainerMove, "barcode", "BOX-1", "location", ""),
	}
	out := New(svc).Apply(ctx, rows)
	if len(out) != len(rows) {
		t.Fatalf("expected one outcome per row, got %d", len(out))
	}
	codes := map[int]string{}
	for _, o := range out {
		codes[o.Row] = o.Code
	}
	want := map[int]string{
		2: "", 3: "", 4: "not_found", 5: "", 6: "", 7: "slot_occupied", 8: "invalid_row",
		9: "", 10: "", 11: "negative_volume", 12: "invalid_row", 13: "",
	}
	for n, code := range want {
		if codes[n] != code {
			t.Fatalf("row %d: expected code %q, got %q (%v)", n, code, codes[n], out)
		}
	}
	if out.Failed() != 5 {
		t.Fatalf("expected 5 failures, got %d", out.Failed())
	}
	err := out.Err()
	if err == nil || !strings.Contains(err.Error(), "row 7 (sample)") || !errors.Is(err, domain.ErrSlotOccupied) {
		t.Fatalf("aggregate error should wrap each row failure: %v", err)
	}

	blood, err := svc.SampleAt(ctx, "BOX-1", "A1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	report, err := svc.SampleVolume(ctx, blood.ID)
	if err != nil || !report.Depleted || blood.Comment != "used up" {
		t.Fatalf("extraction and update should have drained the sample: %+v %+v %v", blood, report, err)
	}
	if blood.IndividualID == nil || len(blood.ExperimentalGroup) != 2 {
		t.Fatalf("optional columns not applied: %+v", blood)
	}
	dna, err := svc.SampleAt(ctx, "BOX-1", "A02")
	if err != nil || dna.Name != "blood-1-dna" || dna.IndividualID == nil {
		t.Fatalf("unexpected extracted sample %+v %v", dna, err)
	}
}

func TestImporterStopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := New(newService()).Apply(ctx, []Row{row(2, KindContainer, "barcode", "F", "kind", "freezer")})
	if !errors.Is(out[0].Err, context.Canceled) || out[0].Code != "cancelled" {
		t.Fatalf("unexpected outcome %+v", out[0])
	}
}

type countingHandler struct{ calls int }

func (h *countingHandler) Validate(Row) error { return nil }
func (h *countingHandler) Apply(context.Context, *core.Service, Row) (int64, error) {
	h.calls++
	return int64(h.calls), nil
}

func TestWithHandlerOverridesKind(t *testing.T) {
	h := &countingHandler{}
	out := New(newService(), WithHandler("plate_map", h)).Apply(context.Background(), []Row{row(2, "plate_map"), row(3, "plate_map")})
	if out.Err() != nil || h.calls != 2 || out[1].EntityID != 2 {
		t.Fatalf("custom handler not used: %+v", out)
	}
}

func TestSampleUpdateValidation(t *testing.T) {
	h := DefaultHandlers()[KindSampleUpdate]
	cases := []Row{
		row(1, KindSampleUpdate, "container", "BOX"),
		row(2, KindSampleUpdate, "container", "BOX", "volume_delta", "x"),
		row(3, KindSampleUpdate, "container", "BOX", "depleted", "maybe"),
		row(4, KindSampleUpdate, "container", "BOX", "concentration", "-2"),
		row(5, KindSampleUpdate, "container", "BOX", "comment", "x", "date", "01/02/2024"),
	}
	for _, r := range cases {
		if err := h.Validate(r); !errors.Is(err, ErrInvalidRow) {
			t.Fatalf("row %d: expected invalid row, got %v", r.Number, err)
		}
	}
	if err := h.Validate(row(6, KindSampleUpdate, "container", "BOX", "volume_delta", "-2.5", "depleted", "Yes")); err != nil {
		t.Fatalf("valid row rejected: %v", err)
	}
}

func writeWorkbook(t *testing.T, sheet string, cells [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if sheet != "Sheet1" {
		if _, err := f.NewSheet(sheet); err != nil {
			t.Fatalf("new sheet: %v", err)
		}
	}
	for i, rowCells := range cells {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		if err := f.SetSheetRow(sheet, cell, &rowCells); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	path := filepath.Join(t.TempDir(), "import.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	return path
}

func TestReadWorkbook(t *testing.T) {
	path := writeWorkbook(t, "Containers", [][]any{
		{"Barcode", "Kind", "Location", " Coordinates "},
		{"FRZ-1", "freezer"},
		{},
		{"RCK-1", "freezer rack 4x6", "FRZ-1", ""},
	})
	rows, err := ReadWorkbook(path, "Containers", KindContainer)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("blank rows must be skipped, got %d rows", len(rows))
	}
	if rows[1].Number != 4 || rows[1].Get("location") != "FRZ-1" || rows[1].Kind != KindContainer {
		t.Fatalf("unexpected row %+v", rows[1])
	}
	if _, ok := rows[0].Values["coordinates"]; ok {
		t.Fatalf("short rows leave trailing columns unset: %+v", rows[0])
	}
	out := New(newService()).Apply(context.Background(), rows)
	if err := out.Err(); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := ReadWorkbook(path, "Missing", KindContainer); err == nil {
		t.Fatalf("expected missing sheet error")
	}
}

func TestReadWorkbookKindColumn(t *testing.T) {
	path := writeWorkbook(t, "Sheet1", [][]any{
		{"Kind of row", "Barcode", "Kind", "Name", "Taxon"},
		{"container", "FRZ-1", "freezer"},
		{"Individual", "", "", "donor", "Mus musculus"},
		{"", "X"},
	})
	rows, err := ReadWorkbook(path, "", "")
	if err == nil || !strings.Contains(err.Error(), "row 4") {
		t.Fatalf("expected the untagged row to be reported, got %v", err)
	}
	if len(rows) != 2 || rows[0].Kind != KindContainer || rows[1].Kind != KindIndividual {
		t.Fatalf("unexpected rows %+v", rows)
	}
}
