package core

import (
	"context"
	"fmt"

	"freezercore/pkg/catalog"
	"freezercore/pkg/domain"
)

// NewSlotOccupancyRule returns the rule enforcing that an exclusive slot holds
// at most one occupant, container or sample.
func NewSlotOccupancyRule(cat *catalog.Catalog) domain.Rule {
	return slotOccupancyRule{catalog: cat}
}

type slotOccupancyRule struct {
	catalog *catalog.Catalog
}

func (slotOccupancyRule) Name() string { return domain.RuleSlotOccupancy }

func (r slotOccupancyRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	parents := make(map[int64]struct{})
	for _, ch := range changes {
		switch ch.Entity {
		case domain.EntityContainer:
			if c, ok := ch.After.(Container); ok && c.LocationID != nil {
				parents[*c.LocationID] = struct{}{}
			}
		case domain.EntitySample:
			if s, ok := ch.After.(Sample); ok {
				parents[s.ContainerID] = struct{}{}
			}
		}
	}
	if len(parents) == 0 {
		return domain.Result{}, nil
	}

	occupants := make(map[int64]map[string][]string)
	note := func(parent int64, slot, who string) {
		if _, ok := parents[parent]; !ok {
			return
		}
		if occupants[parent] == nil {
			occupants[parent] = make(map[string][]string)
		}
		occupants[parent][slot] = append(occupants[parent][slot], who)
	}
	for _, c := range view.ListContainers() {
		if c.LocationID != nil {
			note(*c.LocationID, c.Coordinates, fmt.Sprintf("container %s", c.Barcode))
		}
	}
	for _, s := range view.ListSamples() {
		note(s.ContainerID, s.Coordinates, fmt.Sprintf("sample %s", s.Name))
	}

	res := domain.Result{}
	for parentID, slots := range occupants {
		parent, ok := view.FindContainer(parentID)
		if !ok {
			continue
		}
		kind, err := r.catalog.Lookup(parent.Kind)
		if err != nil || !kind.Coordinates.Exclusive() {
			continue
		}
		for slot, who := range slots {
			if len(who) < 2 {
				continue
			}
			res.Violations = append(res.Violations, blocking(domain.RuleSlotOccupancy, domain.EntityContainer, parentID,
				fmt.Sprintf("container %s slot %q holds %d occupants: %v", parent.Barcode, slot, len(who), who)))
		}
	}
	return res, nil
}
