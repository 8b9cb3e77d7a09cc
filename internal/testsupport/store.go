package testsupport

import (
	"testing"

	"clearskin/internal/config"
	"clearskin/internal/records"
)

// MustOpenStore opens a records.SQLiteStore for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *records.SQLiteStore {
	t.Helper()

	store, err := records.Open(cfg)
	if err != nil {
		t.Fatalf("records.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
