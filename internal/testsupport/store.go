package testsupport

import (
	"testing"

	"storyloom/internal/config"
	"storyloom/internal/run"
)

// MustOpenStore opens the sqlite run store for a test config and registers
// cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *run.Store {
	t.Helper()
	store, err := run.OpenSQLite(cfg.DatabasePath())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}
