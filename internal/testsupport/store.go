package testsupport

import (
	"testing"

	"meetscribe/internal/config"
	"meetscribe/internal/meetings"
)

// MustOpenStore opens a meetings.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *meetings.Store {
	t.Helper()
	store, err := meetings.Open(cfg)
	if err != nil {
		t.Fatalf("open meeting store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}
