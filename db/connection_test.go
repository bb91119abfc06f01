package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConnectionConfig(t *testing.T) {
	config := DefaultConnectionConfig("/test/path.db")

	if config.Path != "/test/path.db" {
		t.Errorf("Path = %q", config.Path)
	}
	if config.BusyTimeout != 5000 {
		t.Errorf("BusyTimeout = %d, want 5000", config.BusyTimeout)
	}
	if config.MaxOpenConns != 1 || config.MaxIdleConns != 1 {
		t.Errorf("pool = %d/%d, want 1/1", config.MaxOpenConns, config.MaxIdleConns)
	}
}

func TestNewSQLiteConnection_EmptyPath(t *testing.T) {
	conn, err := NewSQLiteConnection(ConnectionConfig{})
	if err == nil {
		conn.Close()
		t.Fatal("expected error for empty path")
	}
}

func TestNewSQLiteConnection_Pragmas(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "pragmas.db")
	config := DefaultConnectionConfig(dbPath)
	config.BusyTimeout = 7000

	conn, err := NewSQLiteConnection(config)
	if err != nil {
		t.Fatalf("NewSQLiteConnection() error = %v", err)
	}
	defer conn.Close()

	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("database file not created: %v", err)
	}

	tests := []struct {
		pragma string
		want   string
	}{
		{"journal_mode", "wal"},
		{"foreign_keys", "1"},
		{"busy_timeout", "7000"},
	}
	for _, tt := range tests {
		var got string
		if err := conn.QueryRow("PRAGMA " + tt.pragma).Scan(&got); err != nil {
			t.Fatalf("PRAGMA %s: %v", tt.pragma, err)
		}
		if got != tt.want {
			t.Errorf("%s = %q, want %q", tt.pragma, got, tt.want)
		}
	}
}

func TestNewSQLiteConnection_InvalidPath(t *testing.T) {
	conn, err := NewSQLiteConnectionWithDefaults("/nonexistent/directory/test.db")
	if err == nil {
		conn.Close()
		t.Fatal("expected error for missing directory")
	}
}
