package logging

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPruneLogsRemovesOnlyStaleMatches(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, "meetscribe-old.log")
	fresh := filepath.Join(dir, "meetscribe-new.log")
	active := filepath.Join(dir, "meetscribe.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, fresh, active, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	past := time.Now().Add(-10 * 24 * time.Hour)
	for _, path := range []string{old, active, other} {
		if err := os.Chtimes(path, past, past); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}

	removed := PruneLogs(NewNop(), dir, "*.log", 7*24*time.Hour, active)
	if removed != 1 {
		t.Fatalf("expected 1 file removed, got %d", removed)
	}
	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Fatalf("expected stale log removed, stat err=%v", err)
	}
	for _, path := range []string{fresh, active, other} {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected %s to remain: %v", path, err)
		}
	}
}

func TestPruneLogsDisabled(t *testing.T) {
	if got := PruneLogs(nil, t.TempDir(), "*.log", 0, ""); got != 0 {
		t.Fatalf("expected no pruning, got %d", got)
	}
}
