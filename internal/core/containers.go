package core

import (
	"context"
	"fmt"
	"strings"

	"freezercore/pkg/domain"
)

// CreateContainer places a new container. A container without LocationID is a
// root: its kind must be parent-eligible and its coordinate empty. Otherwise the
// parent must accept the kind and the normalized coordinate must be free.
func (s *Service) CreateContainer(ctx context.Context, c Container) (Container, Result, error) {
	var created Container
	op := operation{name: "container.create", entity: EntityContainer, action: domain.ActionCreate}
	res, err := s.run(ctx, op, func(tx Transaction) (int64, error) {
		coord, err := s.checkContainerPlacement(tx, 0, c.Kind, c.LocationID, c.Coordinates)
		if err != nil {
			return 0, err
		}
		c.Coordinates = coord
		created, err = tx.CreateContainer(c)
		return created.ID, err
	})
	return created, res, err
}

// MoveContainer re-parents a container and sets its coordinate in one step.
// A nil newParent makes the container a root.
func (s *Service) MoveContainer(ctx context.Context, id int64, newParent *int64, coordinate string) (Container, Result, error) {
	var moved Container
	op := operation{name: "container.move", entity: EntityContainer, action: domain.ActionUpdate}
	res, err := s.run(ctx, op, func(tx Transaction) (int64, error) {
		current, ok := tx.FindContainer(id)
		if !ok {
			return id, domain.NotFound(EntityContainer, id)
		}
		if newParent != nil {
			if err := checkAncestry(tx, id, *newParent); err != nil {
				return id, err
			}
		}
		coord, err := s.checkContainerPlacement(tx, id, current.Kind, newParent, coordinate)
		if err != nil {
			return id, err
		}
		moved, err = tx.UpdateContainer(id, func(c *Container) error {
			c.LocationID = cloneID(newParent)
			c.Coordinates = coord
			return nil
		})
		return id, err
	})
	return moved, res, err
}

// RemoveContainer deletes an empty container.
func (s *Service) RemoveContainer(ctx context.Context, id int64) (Result, error) {
	op := operation{name: "container.remove", entity: EntityContainer, action: domain.ActionDelete}
	return s.run(ctx, op, func(tx Transaction) (int64, error) {
		return id, tx.DeleteContainer(id)
	})
}

// ContainerPatch carries the descriptive fields UpdateContainer may change.
// Placement changes go through MoveContainer.
type ContainerPatch struct {
	Name    *string
	Barcode *string
	Comment *string
}

// UpdateContainer applies a descriptive patch.
func (s *Service) UpdateContainer(ctx context.Context, id int64, patch ContainerPatch) (Container, Result, error) {
	var updated Container
	op := operation{name: "container.update", entity: EntityContainer, action: domain.ActionUpdate}
	res, err := s.run(ctx, op, func(tx Transaction) (int64, error) {
		var err error
		updated, err = tx.UpdateContainer(id, func(c *Container) error {
			if patch.Name != nil {
				c.Name = *patch.Name
			}
			if patch.Barcode != nil {
				c.Barcode = strings.TrimSpace(*patch.Barcode)
			}
			if patch.Comment != nil {
				c.Comment = *patch.Comment
			}
			return nil
		})
		return id, err
	})
	return updated, res, err
}

// checkContainerPlacement validates a container of kind going into parent at
// raw and returns the canonical coordinate. self is excluded from the slot
// check so a container can be moved within its own parent.
func (s *Service) checkContainerPlacement(view TransactionView, self int64, kind string, parentID *int64, raw string) (string, error) {
	k, err := s.catalog.Lookup(kind)
	if err != nil {
		return "", err
	}
	if parentID == nil {
		if !k.ParentEligible() {
			return "", fmt.Errorf("kind %q cannot stand at the root: %w", kind, domain.ErrIncompatibleKind)
		}
		if strings.TrimSpace(raw) != "" {
			return "", fmt.Errorf("root container takes no coordinate, got %q: %w", raw, domain.ErrInvalidCoordinate)
		}
		return "", nil
	}
	parent, ok := view.FindContainer(*parentID)
	if !ok {
		return "", domain.NotFound(EntityContainer, *parentID)
	}
	if !s.catalog.CanHoldKind(parent.Kind, kind) {
		return "", fmt.Errorf("%q cannot hold %q: %w", parent.Kind, kind, domain.ErrIncompatibleKind)
	}
	coord, err := s.catalog.Normalize(parent.Kind, raw)
	if err != nil {
		return "", err
	}
	if err := s.checkSlotFree(view, parent, coord, EntityContainer, self); err != nil {
		return "", err
	}
	return coord, nil
}

// checkSlotFree fails with ErrSlotOccupied when another container or sample
// already occupies (parent, coord). Unbounded parents never fill up.
func (s *Service) checkSlotFree(view TransactionView, parent Container, coord string, selfEntity EntityType, self int64) error {
	k, err := s.catalog.Lookup(parent.Kind)
	if err != nil {
		return err
	}
	if !k.Coordinates.Exclusive() {
		return nil
	}
	for _, c := range view.ContainerChildren(parent.ID) {
		if selfEntity == EntityContainer && c.ID == self {
			continue
		}
		if c.Coordinates == coord {
			return fmt.Errorf("%s slot %q holds container %s: %w", parent.Barcode, coord, c.Barcode, domain.ErrSlotOccupied)
		}
	}
	for _, smp := range view.ContainerSamples(parent.ID) {
		if selfEntity == EntitySample && smp.ID == self {
			continue
		}
		if smp.Coordinates == coord {
			return fmt.Errorf("%s slot %q holds sample %s: %w", parent.Barcode, coord, smp.Name, domain.ErrSlotOccupied)
		}
	}
	return nil
}

// checkAncestry walks up from parentID and fails if id appears in the chain.
func checkAncestry(view TransactionView, id, parentID int64) error {
	seen := make(map[int64]struct{})
	for cursor := &parentID; cursor != nil; {
		if *cursor == id {
			return fmt.Errorf("container %d cannot move under its own descendant %d: %w", id, parentID, domain.ErrCyclicContainment)
		}
		if _, loop := seen[*cursor]; loop {
			return fmt.Errorf("container %d ancestry loops: %w", *cursor, domain.ErrCyclicContainment)
		}
		seen[*cursor] = struct{}{}
		c, ok := view.FindContainer(*cursor)
		if !ok {
			return domain.NotFound(EntityContainer, *cursor)
		}
		cursor = c.LocationID
	}
	return nil
}

func cloneID(id *int64) *int64 {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
