package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/wesm/noticevault/internal/notice"
	"github.com/wesm/noticevault/internal/store"
)

// NewTestStore creates a temporary database for testing.
// The database is automatically cleaned up when the test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	// Register close on cleanup
	t.Cleanup(func() {
		st.Close()
	})

	// Initialize schema
	if err := st.InitSchema(); err != nil {
		t.Fatalf("init schema: %v", err)
	}

	return st
}

// SeedNotices inserts the notices in order and returns their ids. Each
// notice must be new under the uniqueness tuple.
func SeedNotices(t *testing.T, st *store.Store, notices ...notice.Notice) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(notices))
	for i := range notices {
		n := notices[i]
		inserted, err := st.InsertNotice(context.Background(), &n)
		MustNoErr(t, err, "seed notice")
		if !inserted {
			t.Fatalf("seed notice %d (%s) was a duplicate", i, n.DetailLink)
		}
		ids = append(ids, n.ID)
	}
	return ids
}
