package chat

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustMessageID(t *testing.T, value string) MessageID {
	t.Helper()
	id, err := NewMessageID(value)
	if err != nil {
		t.Fatalf("unexpected message id error: %v", err)
	}
	return id
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:skinvault_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	return db
}

func newTestStore(t *testing.T, db *gorm.DB) *Store {
	t.Helper()

	store, err := NewStore(StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

// fixedClock pins time for deterministic shard selection.
func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}
