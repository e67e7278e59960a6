package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubStoresUpsertsAndQueriesRows(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	upsert := "INSERT INTO state(bucket, payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload"
	for _, payload := range []string{`{}`, `{"1":{}}`} {
		if _, err := conn.ExecContext(ctx, upsert, []driver.NamedValue{{Value: "container"}, {Value: []byte(payload)}}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if len(conn.Tables["state"]) != 1 {
		t.Fatalf("expected upsert to replace row, got %v", conn.Tables["state"])
	}
	rows, err := conn.QueryContext(ctx, "SELECT bucket, payload FROM state", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	dest := make([]driver.Value, 2)
	if err := rows.Next(dest); err != nil {
		t.Fatalf("next: %v", err)
	}
	if dest[0] != "container" || string(dest[1].([]byte)) != `{"1":{}}` {
		t.Fatalf("unexpected row %v", dest)
	}
}

func TestStubRejectsDuplicatePlainInsert(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	insert := "INSERT INTO versions(id, entity) VALUES($1,$2)"
	if _, err := conn.ExecContext(ctx, insert, []driver.NamedValue{{Value: int64(1)}, {Value: "container"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := conn.ExecContext(ctx, insert, []driver.NamedValue{{Value: int64(1)}, {Value: "sample"}}); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}

func TestStubRollbackRestoresTables(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.Tables["state"] = []map[string]any{{"bucket": "sample"}}
	tx, err := conn.BeginTx(ctx, driver.TxOptions{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := conn.ExecContext(ctx, "TRUNCATE TABLE state, versions", nil); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if len(conn.Tables["state"]) != 0 {
		t.Fatalf("expected truncate to clear state")
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if len(conn.Tables["state"]) != 1 {
		t.Fatalf("expected rollback to restore rows")
	}
}
