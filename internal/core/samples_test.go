package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"freezercore/pkg/domain"

	"github.com/shopspring/decimal"
)

func TestSampleVolumeHistoryRefusesNegative(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, box := freezerWithBox(t, svc)
	smp, _, err := svc.CreateSample(ctx, "BLOOD", Sample{
		Name:          "blood",
		ContainerID:   box.ID,
		Coordinates:   "A1",
		VolumeHistory: []VolumeEvent{{Type: domain.VolumeAdd, Value: decimal.NewFromInt(5000)}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !smp.VolumeHistory[0].Date.Equal(testNow) || !smp.ReceptionDate.Equal(testNow) {
		t.Fatalf("undated event should take the service clock: %+v", smp.VolumeHistory[0])
	}

	drained, _, err := svc.UpdateSampleVolume(ctx, smp.ID, VolumeEvent{Type: domain.VolumeRemove, Value: decimal.NewFromInt(5000)})
	if err != nil {
		t.Fatalf("remove all: %v", err)
	}
	if !drained.Depleted {
		t.Fatalf("a sample at zero volume is depleted")
	}
	if _, _, err := svc.UpdateSampleVolume(ctx, smp.ID, VolumeEvent{Type: domain.VolumeRemove, Value: decimal.NewFromInt(100)}); !errors.Is(err, domain.ErrNegativeVolume) {
		t.Fatalf("expected negative volume, got %v", err)
	}
	report, err := svc.SampleVolume(ctx, smp.ID)
	if err != nil {
		t.Fatalf("volume: %v", err)
	}
	if !report.Current.IsZero() || !report.Depleted || len(report.History) != 2 {
		t.Fatalf("refused event leaked into history: %+v", report)
	}

	refilled, _, err := svc.UpdateSampleVolume(ctx, smp.ID, domain.SetVolume(testNow.Add(time.Hour), decimal.RequireFromString("12.5")))
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if refilled.Depleted {
		t.Fatalf("set volume should clear depleted")
	}
	if _, _, err := svc.UpdateSampleVolume(ctx, smp.ID, VolumeEvent{Type: "spill"}); !errors.Is(err, domain.ErrInvalidVolume) {
		t.Fatalf("expected invalid volume event, got %v", err)
	}
}

func TestCreateSampleValidation(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	freezer, box := freezerWithBox(t, svc)
	vol := []VolumeEvent{domain.SetVolume(testNow, decimal.NewFromInt(1))}

	cases := []struct {
		name string
		kind string
		smp  Sample
		want error
	}{
		{"unknown kind", "PLANKTON", Sample{ContainerID: box.ID, Coordinates: "A1", VolumeHistory: vol}, domain.ErrUnknownKind},
		{"container without sample slots", "DNA", Sample{ContainerID: freezer.ID, VolumeHistory: vol}, domain.ErrIncompatibleSampleKind},
		{"out of range", "DNA", Sample{ContainerID: box.ID, Coordinates: "J1", VolumeHistory: vol}, domain.ErrInvalidCoordinate},
		{"no volume", "DNA", Sample{ContainerID: box.ID, Coordinates: "A1"}, domain.ErrInvalidVolume},
		{"negative prefix", "DNA", Sample{ContainerID: box.ID, Coordinates: "A1", VolumeHistory: []VolumeEvent{
			domain.SetVolume(testNow, decimal.NewFromInt(1)),
			domain.RemoveVolume(testNow.Add(time.Minute), decimal.NewFromInt(2)),
		}}, domain.ErrNegativeVolume},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := svc.CreateSample(ctx, tc.kind, tc.smp); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if _, _, err := svc.CreateSample(ctx, "DNA", Sample{ContainerID: 404, VolumeHistory: vol}); !domain.IsNotFound(err) {
		t.Fatalf("expected missing container, got %v", err)
	}
}

func TestSampleKindRowsAreSharedAndSlotsExclusive(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, box := freezerWithBox(t, svc)
	first := mustSample(t, svc, "SWAB", box.ID, "A1", 1)
	second := mustSample(t, svc, "SWAB", box.ID, "A2", 1)
	if first.SampleKindID == 0 || first.SampleKindID != second.SampleKindID {
		t.Fatalf("samples of one kind should share the kind row: %d %d", first.SampleKindID, second.SampleKindID)
	}
	tube := mustContainer(t, svc, Container{Barcode: "TUBE-1", Kind: "tube", LocationID: id(box.ID), Coordinates: "B1"})
	if _, _, err := svc.PlaceSample(ctx, first.ID, box.ID, "b01"); !errors.Is(err, domain.ErrSlotOccupied) {
		t.Fatalf("tube occupies B01, got %v", err)
	}
	inTube, _, err := svc.PlaceSample(ctx, first.ID, tube.ID, "")
	if err != nil {
		t.Fatalf("place in tube: %v", err)
	}
	if inTube.ContainerID != tube.ID || inTube.Coordinates != "" {
		t.Fatalf("unexpected placement %+v", inTube)
	}
	if _, _, err := svc.PlaceSample(ctx, second.ID, tube.ID, ""); !errors.Is(err, domain.ErrSlotOccupied) {
		t.Fatalf("a tube holds one sample, got %v", err)
	}
	if _, _, err := svc.PlaceSample(ctx, second.ID, box.ID, "A2"); err != nil {
		t.Fatalf("re-placing into its own slot: %v", err)
	}
}

func TestUpdateSamplePatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, box := freezerWithBox(t, svc)
	smp := mustSample(t, svc, "DNA", box.ID, "A1", 40)
	conc := decimal.RequireFromString("3.25")
	alias := "patient-7"
	updated, _, err := svc.UpdateSample(ctx, smp.ID, SamplePatch{Alias: &alias, Concentration: &conc})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Alias != alias || updated.Concentration == nil || !updated.Concentration.Equal(conc) {
		t.Fatalf("patch not applied: %+v", updated)
	}
	negative := decimal.NewFromInt(-1)
	if _, _, err := svc.UpdateSample(ctx, smp.ID, SamplePatch{Concentration: &negative}); !errors.Is(err, domain.ErrInvalidVolume) {
		t.Fatalf("expected invalid concentration, got %v", err)
	}
	comment := "spilled"
	_, _, err = svc.UpdateSample(ctx, smp.ID, SamplePatch{
		Comment:      &comment,
		VolumeEvents: []VolumeEvent{domain.RemoveVolume(testNow, decimal.NewFromInt(50))},
	})
	if !errors.Is(err, domain.ErrNegativeVolume) {
		t.Fatalf("expected negative volume, got %v", err)
	}
	after, _, err := svc.UpdateSample(ctx, smp.ID, SamplePatch{VolumeEvents: []VolumeEvent{domain.Deplete(testNow)}})
	if err != nil || !after.Depleted || after.Comment != "" {
		t.Fatalf("failed patch leaked or deplete not applied: %+v %v", after, err)
	}
	if _, _, err := svc.UpdateSample(ctx, 404, SamplePatch{Alias: &alias}); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSampleAtNormalizesCoordinate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	_, box := freezerWithBox(t, svc)
	smp := mustSample(t, svc, "GARGLE", box.ID, "C7", 1)
	found, err := svc.SampleAt(ctx, box.Barcode, "c07")
	if err != nil || found.ID != smp.ID {
		t.Fatalf("lookup: %+v %v", found, err)
	}
	if _, err := svc.SampleAt(ctx, box.Barcode, "C8"); !domain.IsNotFound(err) {
		t.Fatalf("expected empty slot, got %v", err)
	}
	if _, err := svc.SampleAt(ctx, "NOPE", "C7"); !domain.IsNotFound(err) {
		t.Fatalf("expected missing container, got %v", err)
	}
}
