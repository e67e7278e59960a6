package migrate

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"freezercore/pkg/domain"
)

// Row is one persisted record, decoded without a Go type so that steps can
// rename and retype fields freely.
type Row map[string]any

// Table maps the string form of a primary key to its row.
type Table map[string]Row

// State is the complete persisted state a migration step works on.
type State struct {
	Version   int              `json:"version"`
	Tables    map[string]Table `json:"tables"`
	Sequences map[string]int64 `json:"sequences"`
	Versions  []domain.Version `json:"versions"`
}

// Bucket names reserved for bookkeeping rather than entity tables.
const (
	SequencesBucket     = "sequences"
	SchemaVersionBucket = "schema_version"
)

// Clone deep-copies the state so a failed step can be discarded.
func (s State) Clone() State {
	out := State{
		Version:   s.Version,
		Tables:    make(map[string]Table, len(s.Tables)),
		Sequences: maps.Clone(s.Sequences),
		Versions:  make([]domain.Version, len(s.Versions)),
	}
	if out.Sequences == nil {
		out.Sequences = map[string]int64{}
	}
	for name, t := range s.Tables {
		ct := make(Table, len(t))
		for k, r := range t {
			ct[k] = cloneValue(map[string]any(r)).(map[string]any)
		}
		out.Tables[name] = ct
	}
	for i, v := range s.Versions {
		v.SerializedData = slices.Clone(v.SerializedData)
		out.Versions[i] = v
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case Row:
		return Row(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// StateFromBuckets assembles a State from the bucket payloads a durable store
// keeps. Every bucket except the bookkeeping ones is an entity table.
func StateFromBuckets(buckets map[string]json.RawMessage, versions []domain.Version) (State, error) {
	st := State{Tables: map[string]Table{}, Sequences: map[string]int64{}, Versions: versions}
	for name, raw := range buckets {
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var err error
		switch name {
		case SequencesBucket:
			err = dec.Decode(&st.Sequences)
		case SchemaVersionBucket:
			err = dec.Decode(&st.Version)
		default:
			var t Table
			if err = dec.Decode(&t); err == nil {
				st.Tables[name] = t
			}
		}
		if err != nil {
			return State{}, fmt.Errorf("decode bucket %s: %w", name, err)
		}
	}
	return st, nil
}

// Buckets is the inverse of StateFromBuckets.
func (s State) Buckets() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(s.Tables)+2)
	for name, t := range s.Tables {
		if t == nil {
			t = Table{}
		}
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("encode bucket %s: %w", name, err)
		}
		out[name] = raw
	}
	seq, err := json.Marshal(s.Sequences)
	if err != nil {
		return nil, fmt.Errorf("encode sequences: %w", err)
	}
	out[SequencesBucket] = seq
	out[SchemaVersionBucket] = json.RawMessage(strconv.Itoa(s.Version))
	return out, nil
}

// asInt64 reads an integer identifier from a decoded JSON value.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func isNull(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func asTime(v any) time.Time {
	s, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// sortedIDs returns a table's keys in numeric order, falling back to string
// order for keys that are not integers.
func sortedIDs(t Table) []string {
	keys := slices.Collect(maps.Keys(t))
	slices.SortFunc(keys, func(a, b string) int {
		ai, aok := asInt64(a)
		bi, bok := asInt64(b)
		switch {
		case aok && bok:
			return cmp.Compare(ai, bi)
		case aok:
			return -1
		case bok:
			return 1
		}
		return cmp.Compare(a, b)
	})
	return keys
}

// editSnapshot decodes a version payload, lets fn change it, and re-encodes it.
func editSnapshot(v *domain.Version, fn func(rec *domain.SnapshotRecord) error) error {
	rec, err := domain.DecodeSnapshot(v.SerializedData)
	if err != nil {
		return fmt.Errorf("version %d: %w", v.ID, err)
	}
	if err := fn(&rec); err != nil {
		return fmt.Errorf("version %d: %w", v.ID, err)
	}
	raw, err := json.Marshal([]domain.SnapshotRecord{rec})
	if err != nil {
		return fmt.Errorf("version %d: %w", v.ID, err)
	}
	v.SerializedData = raw
	return nil
}

// nextVersionID returns one past the largest audit row id.
func (s *State) nextVersionID() int64 {
	next := s.Sequences[versionSequence]
	for _, v := range s.Versions {
		if v.ID > next {
			next = v.ID
		}
	}
	return next + 1
}

const versionSequence = "version"
