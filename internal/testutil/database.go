package testutil

import (
	"testing"

	"depot-go/internal/database"
)

// NewTestMetaStore creates a new in-memory SQLite metadata store with schema
// applied. The store is automatically closed when the test completes.
func NewTestMetaStore(t *testing.T) *database.SQLite {
	t.Helper()

	store, err := database.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open metadata store: %v", err)
	}

	t.Cleanup(func() {
		store.Close()
	})

	return store
}
