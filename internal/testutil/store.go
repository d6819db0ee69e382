package testutil

import (
	"context"
	"testing"

	"github.com/HerbHall/phonebook/internal/services"
	"github.com/HerbHall/phonebook/internal/store"
)

// NewStore creates an in-memory SQLiteStore for testing.
// The store is automatically closed when the test completes.
func NewStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("testutil.NewStore: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewContactRepo returns a migrated contact repository on a fresh in-memory store.
func NewContactRepo(t *testing.T) *services.SQLiteContactRepository {
	t.Helper()
	repo, err := services.NewSQLiteContactRepository(context.Background(), NewStore(t))
	if err != nil {
		t.Fatalf("testutil.NewContactRepo: %v", err)
	}
	return repo
}
