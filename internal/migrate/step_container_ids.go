package migrate

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"freezercore/pkg/domain"

	"github.com/google/uuid"
)

// ContainerIntegerIDs replaces container UUIDs by sequential integers.
//
// Live containers are numbered by creation time, then UUID. Containers that
// were deleted before the migration and survive only in the version log are
// numbered after them, in order of first appearance, so their history stays
// resolvable. The whole mapping is built before any row or snapshot is
// rewritten.
func ContainerIntegerIDs() Step {
	return Step{Version: 1, Name: "container_integer_ids", Apply: applyContainerIntegerIDs}
}

func applyContainerIntegerIDs(ctx context.Context, st *State, env Env) error {
	containers := st.Tables[string(domain.EntityContainer)]

	type live struct {
		id      uuid.UUID
		created time.Time
	}
	rows := make([]live, 0, len(containers))
	for key := range containers {
		id, err := uuid.Parse(key)
		if err != nil {
			return fmt.Errorf("container key %q is not a UUID: %w", key, err)
		}
		rows = append(rows, live{id: id, created: asTime(containers[key]["created_at"])})
	}
	slices.SortFunc(rows, func(a, b live) int {
		if c := a.created.Compare(b.created); c != 0 {
			return c
		}
		return cmp.Compare(a.id.String(), b.id.String())
	})

	mapping := make(map[uuid.UUID]int64, len(rows))
	var next int64
	for _, r := range rows {
		next++
		mapping[r.id] = next
	}
	deleted := 0
	for _, v := range st.Versions {
		if v.Entity != domain.EntityContainer {
			continue
		}
		id, err := uuid.Parse(v.ObjectID)
		if err != nil {
			return fmt.Errorf("container version %d object id %q is not a UUID: %w", v.ID, v.ObjectID, err)
		}
		if _, ok := mapping[id]; !ok {
			next++
			mapping[id] = next
			deleted++
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// resolve maps a stored UUID reference. Live rows must resolve; history
	// keeps a null where a reference cannot be recovered.
	resolve := func(v any, strict bool) (any, error) {
		if isNull(v) {
			return nil, nil
		}
		s, ok := asString(v)
		if !ok {
			return nil, fmt.Errorf("container reference %v is not a UUID string", v)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("container reference %q: %w", s, err)
		}
		n, ok := mapping[id]
		if !ok {
			if strict {
				return nil, fmt.Errorf("container reference %s: %w", s, domain.NotFound(domain.EntityContainer, s))
			}
			return nil, nil
		}
		return n, nil
	}

	rewritten := make(Table, len(containers))
	for key, row := range containers {
		id, _ := uuid.Parse(key)
		n := mapping[id]
		loc, err := resolve(row["location"], true)
		if err != nil {
			return fmt.Errorf("container %s: %w", key, err)
		}
		row["id"] = n
		row["location"] = loc
		rewritten[domain.ObjectKey(n)] = row
	}
	st.Tables[string(domain.EntityContainer)] = rewritten

	for key, row := range st.Tables[string(domain.EntitySample)] {
		c, err := resolve(row["container"], true)
		if err != nil {
			return fmt.Errorf("sample %s: %w", key, err)
		}
		if c == nil {
			return fmt.Errorf("sample %s has no container", key)
		}
		row["container"] = c
	}

	for i := range st.Versions {
		v := &st.Versions[i]
		switch v.Entity {
		case domain.EntityContainer:
			id, _ := uuid.Parse(v.ObjectID)
			n := mapping[id]
			v.ObjectID = domain.ObjectKey(n)
			if err := editSnapshot(v, func(rec *domain.SnapshotRecord) error {
				rec.PK = n
				if _, ok := rec.Fields["location"]; ok {
					loc, err := resolve(rec.Fields["location"], false)
					if err != nil {
						return err
					}
					rec.Fields["location"] = loc
				}
				return nil
			}); err != nil {
				return err
			}
		case domain.EntitySample:
			if err := editSnapshot(v, func(rec *domain.SnapshotRecord) error {
				if _, ok := rec.Fields["container"]; !ok {
					return nil
				}
				c, err := resolve(rec.Fields["container"], false)
				if err != nil {
					return err
				}
				rec.Fields["container"] = c
				return nil
			}); err != nil {
				return err
			}
		}
	}

	if st.Sequences == nil {
		st.Sequences = map[string]int64{}
	}
	st.Sequences[string(domain.EntityContainer)] = next
	env.logger().Info("containers renumbered", "live", len(rows), "deleted", deleted)
	return nil
}
