package migrate

import (
	"context"
	"fmt"
	"time"

	"freezercore/pkg/domain"
)

const legacyParentField = "extracted_from"

// SampleLineageEdges turns the single extracted_from reference of samples into
// rows of the many-to-many sample_lineage table and creates the empty process
// tables. Historical snapshots only lose the field: the edge is not
// retro-fitted into old history.
func SampleLineageEdges() Step {
	return Step{Version: 3, Name: "sample_lineage_edges", Apply: applySampleLineageEdges}
}

func applySampleLineageEdges(ctx context.Context, st *State, env Env) error {
	for _, name := range []domain.EntityType{
		domain.EntitySampleLineage,
		domain.EntityProtocol,
		domain.EntityProcess,
		domain.EntityProcessBySample,
	} {
		if st.Tables[string(name)] == nil {
			st.Tables[string(name)] = Table{}
		}
	}
	samples := st.Tables[string(domain.EntitySample)]
	edges := st.Tables[string(domain.EntitySampleLineage)]

	type pair struct{ parent, child int64 }
	existing := make(map[pair]struct{}, len(edges))
	var next int64
	for key, row := range edges {
		id, ok := asInt64(key)
		if !ok {
			return fmt.Errorf("sample_lineage key %q is not an integer", key)
		}
		next = max(next, id)
		p, _ := asInt64(row["parent"])
		c, _ := asInt64(row["child"])
		existing[pair{p, c}] = struct{}{}
	}
	next = max(next, st.Sequences[string(domain.EntitySampleLineage)])

	stamp := env.Now.UTC()
	created := 0
	for _, key := range sortedIDs(samples) {
		row := samples[key]
		legacy, ok := row[legacyParentField]
		delete(row, legacyParentField)
		if !ok || isNull(legacy) {
			continue
		}
		child, ok := asInt64(key)
		if !ok {
			return fmt.Errorf("sample key %q is not an integer", key)
		}
		parent, ok := asInt64(legacy)
		if !ok {
			return fmt.Errorf("sample %s: %s %v is not a sample id", key, legacyParentField, legacy)
		}
		if _, ok := samples[domain.ObjectKey(parent)]; !ok {
			return fmt.Errorf("sample %s: %s: %w", key, legacyParentField, domain.NotFound(domain.EntitySample, parent))
		}
		if parent == child {
			return fmt.Errorf("sample %s: %w", key, domain.ErrCyclicLineage)
		}
		if _, dup := existing[pair{parent, child}]; dup {
			continue
		}
		existing[pair{parent, child}] = struct{}{}
		next++
		edge := domain.SampleLineage{
			Base:     domain.Base{ID: next, CreatedAt: stamp, UpdatedAt: stamp},
			ParentID: parent,
			ChildID:  child,
		}
		edges[domain.ObjectKey(next)] = Row{
			"id":                next,
			"parent":            parent,
			"child":             child,
			"process_by_sample": nil,
			"created_at":        stamp.Format(time.RFC3339Nano),
			"updated_at":        stamp.Format(time.RFC3339Nano),
		}
		data, err := domain.EncodeSnapshot(domain.EntitySampleLineage, next, edge)
		if err != nil {
			return err
		}
		vid := st.nextVersionID()
		st.Versions = append(st.Versions, domain.Version{
			ID:             vid,
			Entity:         domain.EntitySampleLineage,
			ObjectID:       domain.ObjectKey(next),
			Action:         domain.ActionCreate,
			RecordedAt:     stamp,
			SerializedData: data,
		})
		st.Sequences[versionSequence] = vid
		created++
	}
	st.Sequences[string(domain.EntitySampleLineage)] = next
	if err := ctx.Err(); err != nil {
		return err
	}

	for i := range st.Versions {
		v := &st.Versions[i]
		if v.Entity != domain.EntitySample {
			continue
		}
		if err := editSnapshot(v, func(rec *domain.SnapshotRecord) error {
			delete(rec.Fields, legacyParentField)
			return nil
		}); err != nil {
			return err
		}
	}
	env.logger().Info("lineage edges synthesized", "edges", created)
	return nil
}
