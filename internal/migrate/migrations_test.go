package migrate_test

import (
	"context"
	"testing"

	"fieldwork/internal/db"
	"fieldwork/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()

	if v, err := migrate.Current(ctx, conn); err != nil || v != 0 {
		t.Fatalf("fresh database should be at version 0, got %d (%v)", v, err)
	}
	for i := 0; i < 2; i++ {
		if err := migrate.Migrate(conn); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}
	latest, err := migrate.Latest()
	if err != nil {
		t.Fatal(err)
	}
	v, err := migrate.Current(ctx, conn)
	if err != nil {
		t.Fatal(err)
	}
	if v != latest || latest < 1 {
		t.Fatalf("expected version %d, got %d", latest, v)
	}
	if _, err := conn.ExecContext(ctx, `SELECT id, doc_json FROM task_instances LIMIT 1`); err != nil {
		t.Fatalf("task_instances missing: %v", err)
	}
}
