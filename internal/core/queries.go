package core

import (
	"context"
	"slices"

	"freezercore/pkg/catalog"
	"freezercore/pkg/domain"

	"github.com/shopspring/decimal"
)

// ContainerAncestors returns the chain from the container's parent up to its
// root, nearest first.
func (s *Service) ContainerAncestors(ctx context.Context, id int64) ([]Container, error) {
	var chain []Container
	err := s.view(ctx, func(v TransactionView) error {
		c, ok := v.FindContainer(id)
		if !ok {
			return domain.NotFound(EntityContainer, id)
		}
		seen := map[int64]struct{}{id: {}}
		for c.LocationID != nil {
			if _, loop := seen[*c.LocationID]; loop {
				return domain.ErrCyclicContainment
			}
			seen[*c.LocationID] = struct{}{}
			parent, ok := v.FindContainer(*c.LocationID)
			if !ok {
				return domain.NotFound(EntityContainer, *c.LocationID)
			}
			chain = append(chain, parent)
			c = parent
		}
		return nil
	})
	return chain, err
}

// Occupant is one entry of a slot map.
type Occupant struct {
	Coordinate string
	Entity     EntityType
	ID         int64
	Name       string
}

// SlotMap describes what a container currently holds.
type SlotMap struct {
	Container Container
	// Capacity is catalog.Unbounded for kinds without slot limits.
	Capacity  int
	Occupants []Occupant
}

// Free reports the number of empty slots, or catalog.Unbounded.
func (m SlotMap) Free() int {
	if m.Capacity == catalog.Unbounded {
		return catalog.Unbounded
	}
	return m.Capacity - len(m.Occupants)
}

// SlotMap lists the occupants of a container ordered by slot position.
func (s *Service) SlotMap(ctx context.Context, id int64) (SlotMap, error) {
	var out SlotMap
	err := s.view(ctx, func(v TransactionView) error {
		c, ok := v.FindContainer(id)
		if !ok {
			return domain.NotFound(EntityContainer, id)
		}
		capacity, err := s.catalog.Capacity(c.Kind)
		if err != nil {
			return err
		}
		out = SlotMap{Container: c, Capacity: capacity}
		for _, child := range v.ContainerChildren(id) {
			out.Occupants = append(out.Occupants, Occupant{Coordinate: child.Coordinates, Entity: EntityContainer, ID: child.ID, Name: child.Name})
		}
		for _, smp := range v.ContainerSamples(id) {
			out.Occupants = append(out.Occupants, Occupant{Coordinate: smp.Coordinates, Entity: EntitySample, ID: smp.ID, Name: smp.Name})
		}
		slices.SortStableFunc(out.Occupants, func(a, b Occupant) int {
			return s.compareSlots(c.Kind, a.Coordinate, b.Coordinate)
		})
		return nil
	})
	return out, err
}

// compareSlots orders coordinates by axis index rather than spelling, so
// "B01" sorts before "AA01".
func (s *Service) compareSlots(kind, a, b string) int {
	ca, errA := s.catalog.Validate(kind, a)
	cb, errB := s.catalog.Validate(kind, b)
	if errA != nil || errB != nil {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
	return slices.Compare(ca.Indices(), cb.Indices())
}

// ContainerByBarcode resolves a container from its barcode.
func (s *Service) ContainerByBarcode(ctx context.Context, barcode string) (Container, error) {
	var out Container
	err := s.view(ctx, func(v TransactionView) error {
		c, ok := v.FindContainerByBarcode(barcode)
		if !ok {
			return domain.NotFound(EntityContainer, barcode)
		}
		out = c
		return nil
	})
	return out, err
}

// VolumeReport is the current volume of a sample and the events it folds.
type VolumeReport struct {
	Current  decimal.Decimal
	Depleted bool
	// History is in fold order.
	History []VolumeEvent
}

// SampleVolume folds the sample's history.
func (s *Service) SampleVolume(ctx context.Context, id int64) (VolumeReport, error) {
	var out VolumeReport
	err := s.view(ctx, func(v TransactionView) error {
		smp, ok := v.FindSample(id)
		if !ok {
			return domain.NotFound(EntitySample, id)
		}
		current, err := smp.CurrentVolume()
		if err != nil {
			return err
		}
		out = VolumeReport{Current: current, Depleted: current.IsZero(), History: domain.Chronological(smp.VolumeHistory)}
		return nil
	})
	return out, err
}

// VersionHistory returns the audit snapshots recorded for one entity, oldest first.
func (s *Service) VersionHistory(ctx context.Context, entity EntityType, id int64) ([]Version, error) {
	var out []Version
	err := s.view(ctx, func(v TransactionView) error {
		out = v.Versions(entity, id)
		return nil
	})
	return out, err
}

// SampleAt resolves the sample held at coordinate of the container with the
// given barcode. The coordinate is normalized against the container's kind.
func (s *Service) SampleAt(ctx context.Context, barcode, coordinate string) (Sample, error) {
	var out Sample
	err := s.view(ctx, func(v TransactionView) error {
		c, ok := v.FindContainerByBarcode(barcode)
		if !ok {
			return domain.NotFound(EntityContainer, barcode)
		}
		coord, err := s.catalog.Normalize(c.Kind, coordinate)
		if err != nil {
			return err
		}
		for _, smp := range v.ContainerSamples(c.ID) {
			if smp.Coordinates == coord {
				out = smp
				return nil
			}
		}
		return domain.NotFound(EntitySample, barcode+"@"+coord)
	})
	return out, err
}

// IndividualByName resolves an individual from its unique name.
func (s *Service) IndividualByName(ctx context.Context, name string) (Individual, error) {
	var out Individual
	err := s.view(ctx, func(v TransactionView) error {
		ind, ok := v.FindIndividualByName(name)
		if !ok {
			return domain.NotFound(EntityIndividual, name)
		}
		out = ind
		return nil
	})
	return out, err
}
