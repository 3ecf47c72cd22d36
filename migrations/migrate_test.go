package migrations

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// TestRun_Idempotent applies the schema twice against a real database and
// asserts every embedded migration is recorded exactly once.
func TestRun_Idempotent(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	if err := Run(ctx, db); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := Run(ctx, db); err != nil {
		t.Fatalf("second run: %v", err)
	}

	names, err := migrationFiles()
	if err != nil {
		t.Fatalf("list migrations: %v", err)
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		t.Fatalf("list applied: %v", err)
	}
	if len(applied) < len(names) {
		t.Fatalf("recorded %d versions, want at least %d", len(applied), len(names))
	}
}
