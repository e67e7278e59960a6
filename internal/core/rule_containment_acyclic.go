package core

import (
	"context"
	"fmt"

	"freezercore/pkg/domain"
)

// NewContainmentAcyclicRule rejects a container that ends up among its own ancestors.
func NewContainmentAcyclicRule() domain.Rule {
	return containmentAcyclicRule{}
}

type containmentAcyclicRule struct{}

func (containmentAcyclicRule) Name() string { return domain.RuleContainmentAcyclic }

func (containmentAcyclicRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, id := range touched(changes, domain.EntityContainer) {
		c, ok := view.FindContainer(id)
		if !ok {
			continue
		}
		visited := map[int64]struct{}{id: {}}
		for c.LocationID != nil {
			if _, loop := visited[*c.LocationID]; loop {
				res.Violations = append(res.Violations, blocking(domain.RuleContainmentAcyclic, domain.EntityContainer, id,
					fmt.Sprintf("container %d is its own ancestor through %d", id, *c.LocationID)))
				break
			}
			visited[*c.LocationID] = struct{}{}
			if c, ok = view.FindContainer(*c.LocationID); !ok {
				break
			}
		}
	}
	return res, nil
}
