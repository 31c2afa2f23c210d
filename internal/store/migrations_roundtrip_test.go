package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"libprep/api/internal/sample"
)

func TestMigrationsRoundTripPostgres(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("LIBPREP_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("LIBPREP_TEST_DATABASE_URL is not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		t.Fatalf("ping postgres: %v", err)
	}

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	migrationsDir := filepath.Join("..", "..", "db", "migrations")

	if err := ApplyMigrations(ctx, db, migrationsDir, nil); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}

	if err := RollbackMigrations(ctx, db, migrationsDir, 0, nil); err != nil {
		t.Fatalf("roll back migrations: %v", err)
	}

	if err := ApplyMigrations(ctx, db, migrationsDir, nil); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}

	pg := NewPostgresStore(db)
	rows := []sample.Row{
		{sample.SampleID: "S-1", sample.Internal: "202600001", sample.QubitDNA: "20"},
		{sample.SampleID: "S-2", sample.PoolNo: "PL202600001"},
	}
	if _, err := pg.SaveRows(ctx, "H1", "WES", rows); err != nil {
		t.Fatalf("save rows: %v", err)
	}
	rows[0][sample.QubitDNA] = "25"
	if _, err := pg.SaveRows(ctx, "H1", "WES", rows[:1]); err != nil {
		t.Fatalf("resave rows: %v", err)
	}

	got, err := pg.ListRows(ctx, "H1", "", []string{"S-1"})
	if err != nil {
		t.Fatalf("list rows: %v", err)
	}
	if len(got) != 1 || got[0].Row()[sample.QubitDNA] != "25" || got[0].InternalID != "202600001" {
		t.Fatalf("unexpected rows after upsert: %+v", got)
	}

	first, err := pg.NextPoolNumber(ctx)
	if err != nil {
		t.Fatalf("next pool number: %v", err)
	}
	second, err := pg.NextPoolNumber(ctx)
	if err != nil {
		t.Fatalf("next pool number: %v", err)
	}
	if first == second || !strings.HasPrefix(first, "PL") {
		t.Fatalf("unexpected pool numbers %q, %q", first, second)
	}
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}
