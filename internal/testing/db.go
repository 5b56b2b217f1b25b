// Package testing provides fixtures, mocks and database helpers for tests.
package testing

import (
	"path/filepath"
	"testing"

	"github.com/aristath/dcabacktest/internal/database"
)

// NewTestDB creates a temp-file SQLite database with the schema for name
// applied ("history" or "results"). Unknown names get an empty database.
// The database is closed when the test finishes.
func NewTestDB(t *testing.T, name string) *database.DB {
	t.Helper()

	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), name+".db"),
		Driver:  database.DriverModernc,
		Profile: database.ProfileStandard,
		Name:    name,
	})
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", name, err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database %s: %v", name, err)
		}
	})

	if err := db.Migrate(); err != nil {
		t.Fatalf("Failed to migrate test database %s: %v", name, err)
	}
	return db
}
