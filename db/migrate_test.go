package db

import (
	"path/filepath"
	"testing"
)

func tableExists(t *testing.T, path, table string) bool {
	t.Helper()
	conn, err := NewSQLiteConnectionWithDefaults(path)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	var n int
	err = conn.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
	if err != nil {
		t.Fatal(err)
	}
	return n == 1
}

func TestMigrations_UpDown(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.db")

	version, dirty, err := MigrationVersionFromPath(path)
	if err != nil {
		t.Fatalf("MigrationVersionFromPath() error = %v", err)
	}
	if version != 0 || dirty {
		t.Errorf("fresh database version = %d dirty = %v", version, dirty)
	}

	if err := MigrateUpFromPath(path); err != nil {
		t.Fatalf("MigrateUpFromPath() error = %v", err)
	}
	// running again is a no-op
	if err := MigrateUpFromPath(path); err != nil {
		t.Fatalf("second MigrateUpFromPath() error = %v", err)
	}

	version, dirty, err = MigrationVersionFromPath(path)
	if err != nil {
		t.Fatal(err)
	}
	if version != 1 || dirty {
		t.Errorf("version = %d dirty = %v, want 1 clean", version, dirty)
	}
	for _, table := range []string{"runs", "run_outputs"} {
		if !tableExists(t, path, table) {
			t.Errorf("table %s missing after migrate up", table)
		}
	}

	if err := MigrateDownFromPath(path, -1); err != nil {
		t.Fatalf("MigrateDownFromPath() error = %v", err)
	}
	if tableExists(t, path, "runs") {
		t.Error("runs table still present after migrate down")
	}
}

func TestMigrateUp_NilConnection(t *testing.T) {
	if err := MigrateUp(nil); err == nil {
		t.Error("expected error for nil connection")
	}
}
