package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"freezercore/pkg/domain"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithClock(ClockFunc(func() time.Time { return testNow }))}, opts...)
	return NewInMemoryService(nil, opts...)
}

func id(v int64) *int64 { return &v }

func mustContainer(t *testing.T, svc *Service, c Container) Container {
	t.Helper()
	created, _, err := svc.CreateContainer(context.Background(), c)
	if err != nil {
		t.Fatalf("create container %s: %v", c.Barcode, err)
	}
	return created
}

func mustSample(t *testing.T, svc *Service, kind string, containerID int64, coord string, volume int64) Sample {
	t.Helper()
	smp, _, err := svc.CreateSample(context.Background(), kind, Sample{
		Name:          kind + "-" + coord,
		ContainerID:   containerID,
		Coordinates:   coord,
		VolumeHistory: []VolumeEvent{domain.SetVolume(testNow, decimal.NewFromInt(volume))},
	})
	if err != nil {
		t.Fatalf("create %s sample at %q: %v", kind, coord, err)
	}
	return smp
}

// freezerWithBox builds a freezer holding one 9x9 tube box.
func freezerWithBox(t *testing.T, svc *Service) (Container, Container) {
	t.Helper()
	freezer := mustContainer(t, svc, Container{Barcode: "FRZ-1", Name: "freezer", Kind: "freezer"})
	box := mustContainer(t, svc, Container{Barcode: "BOX-1", Name: "box", Kind: "tube box 9x9", LocationID: id(freezer.ID)})
	return freezer, box
}

type recordingLogger struct {
	warnings []string
}

func (l *recordingLogger) Debug(string, ...any)      {}
func (l *recordingLogger) Info(string, ...any)       {}
func (l *recordingLogger) Warn(msg string, _ ...any) { l.warnings = append(l.warnings, msg) }
func (l *recordingLogger) Error(string, ...any)      {}

type recordingAudit struct {
	entries []AuditEntry
}

func (a *recordingAudit) Record(_ context.Context, e AuditEntry) { a.entries = append(a.entries, e) }

func TestServiceWithoutStoreFails(t *testing.T) {
	svc := NewService(nil, nil)
	if _, _, err := svc.CreateContainer(context.Background(), Container{Barcode: "X", Kind: "freezer"}); err == nil {
		t.Fatalf("expected error without a store")
	}
	if _, err := svc.ContainerByBarcode(context.Background(), "X"); err == nil {
		t.Fatalf("expected view error without a store")
	}
}

func TestServiceReportsFailuresToSinks(t *testing.T) {
	logger := &recordingLogger{}
	audit := &recordingAudit{}
	svc := newTestService(t, WithLogger(logger), WithAuditRecorder(audit))
	_, box := freezerWithBox(t, svc)
	mustSample(t, svc, "BLOOD", box.ID, "A1", 10)

	_, _, err := svc.CreateSample(context.Background(), "BLOOD", Sample{
		Name:          "clash",
		ContainerID:   box.ID,
		Coordinates:   "a01",
		VolumeHistory: []VolumeEvent{domain.SetVolume(testNow, decimal.NewFromInt(1))},
	})
	if !errors.Is(err, domain.ErrSlotOccupied) {
		t.Fatalf("expected slot occupied, got %v", err)
	}
	if len(logger.warnings) != 1 {
		t.Fatalf("expected one warning, got %v", logger.warnings)
	}
	last := audit.entries[len(audit.entries)-1]
	if last.Status != AuditStatusError || last.Code != "slot_occupied" || last.Operation != "sample.create" || !last.Timestamp.Equal(testNow) {
		t.Fatalf("unexpected audit entry %+v", last)
	}
	if len(audit.entries) != 4 {
		t.Fatalf("expected one audit entry per call, got %d", len(audit.entries))
	}
}
