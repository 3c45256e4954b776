package testutil

import (
	"path/filepath"
	"testing"

	"github.com/Dicklesworthstone/wats/internal/db"
)

// NewTestDB opens a migrated ledger in a temp directory, closed on cleanup.
func NewTestDB(t testing.TB) *db.DB {
	t.Helper()
	return NewTestDBAtPath(t, filepath.Join(t.TempDir(), "state.db"))
}

// NewTestDBAtPath opens a migrated ledger at path, closed on cleanup.
func NewTestDBAtPath(t testing.TB, path string) *db.DB {
	t.Helper()

	database, err := db.Open(path)
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}
