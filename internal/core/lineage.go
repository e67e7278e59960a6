package core

import (
	"context"
	"fmt"
	"iter"

	"freezercore/pkg/domain"
)

// AddLineage records that child derives from parent. It fails with
// ErrCyclicLineage when child is already an ancestor of parent.
func (s *Service) AddLineage(ctx context.Context, parentID, childID int64) (SampleLineage, Result, error) {
	var edge SampleLineage
	op := operation{name: "lineage.add", entity: EntitySampleLineage, action: domain.ActionCreate}
	res, err := s.run(ctx, op, func(tx Transaction) (int64, error) {
		var err error
		edge, err = addEdge(tx, SampleLineage{ParentID: parentID, ChildID: childID})
		return edge.ID, err
	})
	return edge, res, err
}

func addEdge(tx Transaction, edge SampleLineage) (SampleLineage, error) {
	if edge.ParentID == edge.ChildID {
		return SampleLineage{}, fmt.Errorf("sample %d cannot derive from itself: %w", edge.ChildID, domain.ErrCyclicLineage)
	}
	for id := range walkLineage(tx, edge.ParentID, up) {
		if id == edge.ChildID {
			return SampleLineage{}, fmt.Errorf("sample %d is already an ancestor of %d: %w", edge.ChildID, edge.ParentID, domain.ErrCyclicLineage)
		}
	}
	return tx.CreateLineage(edge)
}

type direction bool

const (
	up   direction = true
	down direction = false
)

// walkLineage yields the ids reachable from start, breadth first, each once.
// start itself is not yielded.
func walkLineage(view TransactionView, start int64, dir direction) iter.Seq[int64] {
	return func(yield func(int64) bool) {
		seen := map[int64]struct{}{start: {}}
		queue := []int64{start}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			var next []int64
			if dir == up {
				for _, e := range view.ParentsOf(id) {
					next = append(next, e.ParentID)
				}
			} else {
				for _, e := range view.ChildrenOf(id) {
					next = append(next, e.ChildID)
				}
			}
			for _, n := range next {
				if _, ok := seen[n]; ok {
					continue
				}
				seen[n] = struct{}{}
				if !yield(n) {
					return
				}
				queue = append(queue, n)
			}
		}
	}
}

// SampleAncestors returns every sample id derives from, nearest first. The
// sequence reads a snapshot taken when this call returns; it does not observe
// later writes and must be re-requested after a mutation.
func (s *Service) SampleAncestors(ctx context.Context, id int64) (iter.Seq[Sample], error) {
	return s.lineageSeq(ctx, id, up)
}

// SampleDescendants returns every sample derived from id, nearest first.
func (s *Service) SampleDescendants(ctx context.Context, id int64) (iter.Seq[Sample], error) {
	return s.lineageSeq(ctx, id, down)
}

func (s *Service) lineageSeq(ctx context.Context, id int64, dir direction) (iter.Seq[Sample], error) {
	var snapshot TransactionView
	err := s.view(ctx, func(v TransactionView) error {
		if _, ok := v.FindSample(id); !ok {
			return domain.NotFound(EntitySample, id)
		}
		snapshot = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return func(yield func(Sample) bool) {
		for next := range walkLineage(snapshot, id, dir) {
			smp, ok := snapshot.FindSample(next)
			if !ok {
				continue
			}
			if !yield(smp) {
				return
			}
		}
	}, nil
}
