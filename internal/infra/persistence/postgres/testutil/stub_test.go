package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubRecordsAndAnswersScriptedQueries(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM things WHERE id = $1", "a"); err != nil {
		t.Fatalf("exec: %v", err)
	}
	stmt, ok := conn.LastExec("DELETE FROM things")
	if !ok || len(stmt.Args) != 1 || stmt.Args[0] != "a" {
		t.Fatalf("unexpected recorded exec %+v", stmt)
	}

	conn.Script("FROM things", []string{"id"}, []driver.Value{"x"}, []driver.Value{"y"})
	rows, err := db.QueryContext(ctx, "SELECT id FROM things")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var got []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			t.Fatalf("scan: %v", err)
		}
		got = append(got, id)
	}
	_ = rows.Close()
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Fatalf("unexpected rows %v", got)
	}

	row := db.QueryRowContext(ctx, "SELECT payload FROM unscripted WHERE id = $1", "z")
	var payload []byte
	if err := row.Scan(&payload); err == nil {
		t.Fatalf("expected no rows for unscripted query")
	}
}
