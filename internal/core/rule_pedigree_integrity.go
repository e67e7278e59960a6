package core

import (
	"context"
	"fmt"

	"freezercore/pkg/domain"
)

// PedigreeIntegrityRule enforces mother/father constraints on individuals.
func PedigreeIntegrityRule() domain.Rule {
	return pedigreeIntegrityRule{}
}

type pedigreeIntegrityRule struct{}

func (pedigreeIntegrityRule) Name() string { return domain.RulePedigreeIntegrity }

func (pedigreeIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, id := range touched(changes, domain.EntityIndividual) {
		ind, ok := view.FindIndividual(id)
		if !ok {
			continue
		}
		for _, msg := range pedigreeProblems(view, ind) {
			res.Violations = append(res.Violations, blocking(domain.RulePedigreeIntegrity, domain.EntityIndividual, id, msg))
		}
	}
	return res, nil
}

// pedigreeProblems lists everything wrong with ind's recorded parents.
func pedigreeProblems(view domain.RuleView, ind Individual) []string {
	var problems []string
	if ind.MotherID != nil && ind.FatherID != nil && *ind.MotherID == *ind.FatherID {
		problems = append(problems, fmt.Sprintf("individual %s has the same mother and father", ind.Name))
	}
	for _, p := range []struct {
		role string
		id   *int64
	}{{"mother", ind.MotherID}, {"father", ind.FatherID}} {
		if p.id == nil {
			continue
		}
		if *p.id == ind.ID {
			problems = append(problems, fmt.Sprintf("individual %s references itself as %s", ind.Name, p.role))
			continue
		}
		parent, ok := view.FindIndividual(*p.id)
		if !ok {
			problems = append(problems, fmt.Sprintf("individual %s references missing %s %d", ind.Name, p.role, *p.id))
			continue
		}
		if parent.Taxon != ind.Taxon {
			problems = append(problems, fmt.Sprintf("individual %s %s %s has taxon %q, expected %q", ind.Name, p.role, parent.Name, parent.Taxon, ind.Taxon))
		}
	}
	if ancestorOf(view, ind.ID, ind) {
		problems = append(problems, fmt.Sprintf("individual %s is its own ancestor", ind.Name))
	}
	return problems
}

// ancestorOf reports whether id appears among the recorded ancestors of ind.
func ancestorOf(view domain.RuleView, id int64, ind Individual) bool {
	seen := make(map[int64]struct{})
	queue := []*int64{ind.MotherID, ind.FatherID}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		if next == nil {
			continue
		}
		if *next == id {
			return true
		}
		if _, ok := seen[*next]; ok {
			continue
		}
		seen[*next] = struct{}{}
		if parent, ok := view.FindIndividual(*next); ok {
			queue = append(queue, parent.MotherID, parent.FatherID)
		}
	}
	return false
}
