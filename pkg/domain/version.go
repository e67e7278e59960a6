package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// CurrentSchemaVersion is the persisted layout produced by this build. Stores
// holding an older layout must be migrated before they can be opened.
const CurrentSchemaVersion = 3

// Version is one row of the append-only audit log. SerializedData holds a JSON
// array with a single {"model","pk","fields"} object describing the entity as
// it was after the change (or just before it, for deletes).
type Version struct {
	ID             int64           `json:"id"`
	Entity         EntityType      `json:"entity"`
	ObjectID       string          `json:"object_id"`
	Action         Action          `json:"action"`
	RecordedAt     time.Time       `json:"recorded_at"`
	SerializedData json.RawMessage `json:"serialized_data"`
}

// SnapshotRecord is the decoded form of Version.SerializedData.
type SnapshotRecord struct {
	Model  string         `json:"model"`
	PK     any            `json:"pk"`
	Fields map[string]any `json:"fields"`
}

// ObjectKey renders an integer identifier the way version rows store it.
func ObjectKey(id int64) string { return strconv.FormatInt(id, 10) }

// EncodeSnapshot serialises v as a version payload. The entity's id moves to
// "pk"; every other JSON field lands in "fields".
func EncodeSnapshot(entity EntityType, id int64, v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s snapshot: %w", entity, err)
	}
	fields := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("encode %s snapshot: %w", entity, err)
	}
	delete(fields, "id")
	out, err := json.Marshal([]SnapshotRecord{{Model: string(entity), PK: id, Fields: fields}})
	if err != nil {
		return nil, fmt.Errorf("encode %s snapshot: %w", entity, err)
	}
	return out, nil
}

// DecodeSnapshot parses a version payload. Numbers are kept as json.Number so
// identifiers survive untouched.
func DecodeSnapshot(raw json.RawMessage) (SnapshotRecord, error) {
	var records []SnapshotRecord
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&records); err != nil {
		return SnapshotRecord{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if len(records) != 1 {
		return SnapshotRecord{}, fmt.Errorf("decode snapshot: expected one record, got %d", len(records))
	}
	if records[0].Fields == nil {
		records[0].Fields = map[string]any{}
	}
	return records[0], nil
}

// RestoreSnapshot decodes raw into out, the inverse of EncodeSnapshot.
func RestoreSnapshot(raw json.RawMessage, out any) error {
	rec, err := DecodeSnapshot(raw)
	if err != nil {
		return err
	}
	fields := make(map[string]any, len(rec.Fields)+1)
	for k, v := range rec.Fields {
		fields[k] = v
	}
	fields["id"] = rec.PK
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("restore snapshot: %w", err)
	}
	return nil
}
