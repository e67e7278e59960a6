package core

import (
	"context"
	"fmt"

	"freezercore/pkg/catalog"
	"freezercore/pkg/domain"

	"github.com/shopspring/decimal"
)

// CreateSample places a new sample of the catalog sample kind kindName. The
// sample must arrive with at least one volume event; events without a date are
// stamped with the service clock.
func (s *Service) CreateSample(ctx context.Context, kindName string, smp Sample) (Sample, Result, error) {
	var created Sample
	op := operation{name: "sample.create", entity: EntitySample, action: domain.ActionCreate}
	res, err := s.run(ctx, op, func(tx Transaction) (int64, error) {
		var err error
		created, err = s.createSample(tx, kindName, smp)
		return created.ID, err
	})
	return created, res, err
}

func (s *Service) createSample(tx Transaction, kindName string, smp Sample) (Sample, error) {
	kind, err := s.catalog.SampleKind(kindName)
	if err != nil {
		return Sample{}, err
	}
	coord, err := s.checkSamplePlacement(tx, 0, kind.Name, smp.ContainerID, smp.Coordinates)
	if err != nil {
		return Sample{}, err
	}
	if len(smp.VolumeHistory) == 0 {
		return Sample{}, fmt.Errorf("sample %q has no initial volume: %w", smp.Name, domain.ErrInvalidVolume)
	}
	history := make([]VolumeEvent, len(smp.VolumeHistory))
	for i, ev := range smp.VolumeHistory {
		if ev.Date.IsZero() {
			ev.Date = s.now()
		}
		if err := ev.Validate(); err != nil {
			return Sample{}, err
		}
		history[i] = ev
	}
	if _, err := domain.FoldVolume(history); err != nil {
		return Sample{}, err
	}
	row, err := ensureSampleKind(tx, kind)
	if err != nil {
		return Sample{}, err
	}
	smp.ID = 0
	smp.SampleKindID = row.ID
	smp.Coordinates = coord
	smp.VolumeHistory = history
	if smp.ReceptionDate.IsZero() {
		smp.ReceptionDate = s.now()
	}
	return tx.CreateSample(smp)
}

// PlaceSample moves a sample to another container slot.
func (s *Service) PlaceSample(ctx context.Context, id, containerID int64, coordinate string) (Sample, Result, error) {
	var placed Sample
	op := operation{name: "sample.place", entity: EntitySample, action: domain.ActionUpdate}
	res, err := s.run(ctx, op, func(tx Transaction) (int64, error) {
		current, ok := tx.FindSample(id)
		if !ok {
			return id, domain.NotFound(EntitySample, id)
		}
		kind, ok := tx.FindSampleKind(current.SampleKindID)
		if !ok {
			return id, domain.NotFound(EntitySampleKind, current.SampleKindID)
		}
		coord, err := s.checkSamplePlacement(tx, id, kind.Name, containerID, coordinate)
		if err != nil {
			return id, err
		}
		placed, err = tx.UpdateSample(id, func(smp *Sample) error {
			smp.ContainerID = containerID
			smp.Coordinates = coord
			return nil
		})
		return id, err
	})
	return placed, res, err
}

// UpdateSampleVolume appends ev to the sample's volume history. The append is
// refused with ErrNegativeVolume when the fold would drop below zero.
func (s *Service) UpdateSampleVolume(ctx context.Context, id int64, ev VolumeEvent) (Sample, Result, error) {
	var updated Sample
	op := operation{name: "sample.volume", entity: EntitySample, action: domain.ActionUpdate}
	res, err := s.run(ctx, op, func(tx Transaction) (int64, error) {
		if ev.Date.IsZero() {
			ev.Date = s.now()
		}
		var err error
		updated, err = tx.UpdateSample(id, func(smp *Sample) error {
			return smp.AppendVolume(ev)
		})
		return id, err
	})
	return updated, res, err
}

// DeleteSample removes a sample that has no derived samples.
func (s *Service) DeleteSample(ctx context.Context, id int64) (Result, error) {
	op := operation{name: "sample.delete", entity: EntitySample, action: domain.ActionDelete}
	return s.run(ctx, op, func(tx Transaction) (int64, error) {
		return id, tx.DeleteSample(id)
	})
}

// SamplePatch carries the descriptive sample fields that may change in place.
type SamplePatch struct {
	Alias         *string
	Concentration *decimal.Decimal
	Phenotype     *string
	Comment       *string
	// VolumeEvents are appended in the same transaction, exactly as
	// UpdateSampleVolume would append them.
	VolumeEvents []VolumeEvent
}

// UpdateSample applies a descriptive patch. Placement has its own operation.
func (s *Service) UpdateSample(ctx context.Context, id int64, patch SamplePatch) (Sample, Result, error) {
	var updated Sample
	op := operation{name: "sample.update", entity: EntitySample, action: domain.ActionUpdate}
	res, err := s.run(ctx, op, func(tx Transaction) (int64, error) {
		if patch.Concentration != nil && patch.Concentration.IsNegative() {
			return id, fmt.Errorf("concentration %s is negative: %w", patch.Concentration, domain.ErrInvalidVolume)
		}
		events := make([]VolumeEvent, len(patch.VolumeEvents))
		for i, ev := range patch.VolumeEvents {
			if ev.Date.IsZero() {
				ev.Date = s.now()
			}
			events[i] = ev
		}
		var err error
		updated, err = tx.UpdateSample(id, func(smp *Sample) error {
			for _, ev := range events {
				if err := smp.AppendVolume(ev); err != nil {
					return err
				}
			}
			if patch.Alias != nil {
				smp.Alias = *patch.Alias
			}
			if patch.Concentration != nil {
				c := *patch.Concentration
				smp.Concentration = &c
			}
			if patch.Phenotype != nil {
				smp.Phenotype = *patch.Phenotype
			}
			if patch.Comment != nil {
				smp.Comment = *patch.Comment
			}
			return nil
		})
		return id, err
	})
	return updated, res, err
}

// checkSamplePlacement validates a sample of sampleKind going into
// containerID at raw and returns the canonical coordinate.
func (s *Service) checkSamplePlacement(view TransactionView, self int64, sampleKind string, containerID int64, raw string) (string, error) {
	container, ok := view.FindContainer(containerID)
	if !ok {
		return "", domain.NotFound(EntityContainer, containerID)
	}
	if !s.catalog.CanHoldSampleKind(container.Kind, sampleKind) {
		return "", fmt.Errorf("%q cannot hold %s samples: %w", container.Kind, sampleKind, domain.ErrIncompatibleSampleKind)
	}
	coord, err := s.catalog.Normalize(container.Kind, raw)
	if err != nil {
		return "", err
	}
	if err := s.checkSlotFree(view, container, coord, EntitySample, self); err != nil {
		return "", err
	}
	return coord, nil
}

// ensureSampleKind returns the stored row for a catalog sample kind, creating
// it on first use.
func ensureSampleKind(tx Transaction, kind catalog.SampleKind) (SampleKind, error) {
	if row, ok := tx.FindSampleKindByName(kind.Name); ok {
		return row, nil
	}
	return tx.CreateSampleKind(SampleKind{Name: kind.Name, MoleculeOntologyCURIE: kind.MoleculeOntologyCURIE})
}
