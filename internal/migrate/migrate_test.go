package migrate_test

import (
	"context"
	"testing"

	"sourceline/internal/db"
	"sourceline/internal/migrate"
)

func TestUpIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	ctx := context.Background()
	if v, err := migrate.Version(ctx, conn); err == nil && v != 0 {
		t.Fatalf("expected fresh db, got version %d", v)
	}
	for i := 0; i < 2; i++ {
		if err := migrate.Up(ctx, conn); err != nil {
			t.Fatalf("migrate run %d: %v", i, err)
		}
	}
	all, err := migrate.Load()
	if err != nil || len(all) == 0 {
		t.Fatalf("load migrations: %v", err)
	}
	v, err := migrate.Version(ctx, conn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != all[len(all)-1].Version {
		t.Fatalf("expected version %d, got %d", all[len(all)-1].Version, v)
	}
	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM projects`).Scan(&n); err != nil {
		t.Fatalf("projects table missing: %v", err)
	}
}
