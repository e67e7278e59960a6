package core

import (
	"context"
	"fmt"

	"freezercore/pkg/domain"
)

// NewLineageAcyclicRule rejects derivation edges that close a cycle.
func NewLineageAcyclicRule() domain.Rule {
	return lineageAcyclicRule{}
}

type lineageAcyclicRule struct{}

func (lineageAcyclicRule) Name() string { return domain.RuleLineageAcyclic }

func (lineageAcyclicRule) Evaluate(ctx context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, ch := range changes {
		if ch.Entity != domain.EntitySampleLineage || ch.Action != domain.ActionCreate {
			continue
		}
		edge, ok := ch.After.(SampleLineage)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return domain.Result{}, err
		}
		if reachable(view, edge.ChildID, edge.ParentID) {
			res.Violations = append(res.Violations, blocking(domain.RuleLineageAcyclic, domain.EntitySampleLineage, edge.ID,
				fmt.Sprintf("edge %d -> %d closes a derivation cycle", edge.ParentID, edge.ChildID)))
		}
	}
	return res, nil
}

// reachable reports whether target is a descendant of (or equal to) from.
func reachable(view domain.RuleView, from, target int64) bool {
	seen := map[int64]struct{}{from: {}}
	queue := []int64{from}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == target {
			return true
		}
		for _, e := range view.ChildrenOf(id) {
			if _, ok := seen[e.ChildID]; ok {
				continue
			}
			seen[e.ChildID] = struct{}{}
			queue = append(queue, e.ChildID)
		}
	}
	return false
}
