package core

import (
	"freezercore/pkg/catalog"
	"freezercore/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
// The rules re-check the structural invariants on the post-transaction state,
// so a write that slipped past the service-level checks still cannot commit.
func NewDefaultRulesEngine(cat *catalog.Catalog) *domain.RulesEngine {
	if cat == nil {
		cat = catalog.Default()
	}
	engine := domain.NewRulesEngine()
	engine.Register(NewSlotOccupancyRule(cat))
	engine.Register(NewContainmentAcyclicRule())
	engine.Register(NewLineageAcyclicRule())
	engine.Register(PedigreeIntegrityRule())
	engine.Register(NewProcessVolumeRule())
	return engine
}

func blocking(rule string, entity EntityType, id int64, msg string) domain.Violation {
	return domain.Violation{
		Rule:     rule,
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   entity,
		EntityID: id,
	}
}

// touched collects the ids of entity found in the before and after images of changes.
func touched(changes []Change, entity EntityType) []int64 {
	var ids []int64
	seen := make(map[int64]struct{})
	add := func(id int64) {
		if id == 0 {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, ch := range changes {
		if ch.Entity != entity {
			continue
		}
		for _, v := range []any{ch.Before, ch.After} {
			switch e := v.(type) {
			case Container:
				add(e.ID)
			case Sample:
				add(e.ID)
			case SampleLineage:
				add(e.ID)
			case Individual:
				add(e.ID)
			case ProcessBySample:
				add(e.ID)
			}
		}
	}
	return ids
}
