package sqlite

import (
	"database/sql"
	"testing"
)

// OpenTestDB opens an in-memory run archive with the schema applied,
// closed when the test finishes.
func OpenTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test archive: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
