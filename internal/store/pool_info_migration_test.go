package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPoolInfoMigrationDeclaresUpsertKeyAndSequence(t *testing.T) {
	migrationPath := filepath.Join("..", "..", "db", "migrations", "0001_pool_info.up.sql")
	sqlBytes, err := os.ReadFile(migrationPath)
	if err != nil {
		t.Fatalf("read migration: %v", err)
	}
	sqlText := string(sqlBytes)

	expectedSnippets := []string{
		"CREATE TABLE IF NOT EXISTS pool_info",
		"row_data JSONB",
		"UNIQUE (hospital_name, test_name, sample_id)",
		"CREATE SEQUENCE IF NOT EXISTS pool_no_seq",
	}
	for _, snippet := range expectedSnippets {
		if !strings.Contains(sqlText, snippet) {
			t.Fatalf("expected migration to contain %q", snippet)
		}
	}
}
