// Package testing provides shared test helpers for the tradebook project.
package testing

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Migrator is implemented by repositories that own their schema.
type Migrator interface {
	Migrate() error
}

// NewTestDB opens an isolated in-memory SQLite database. Cleanup is
// registered with t.Cleanup, so callers only need the returned connection.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	// A second connection would see a different empty in-memory database.
	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Warning: Failed to close test database: %v", err)
		}
	})
	return db
}

// MustMigrate applies the schemas of the given repositories, failing the test
// on the first error.
func MustMigrate(t *testing.T, repos ...Migrator) {
	t.Helper()
	for _, repo := range repos {
		if err := repo.Migrate(); err != nil {
			t.Fatalf("Failed to migrate test schema: %v", err)
		}
	}
}
