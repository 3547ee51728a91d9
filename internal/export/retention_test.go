package export

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSweepArchivesRemovesOldZips(t *testing.T) {
	dir := t.TempDir()

	old := filepath.Join(dir, "old.zip")
	fresh := filepath.Join(dir, "fresh.zip")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, fresh, other} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}

	past := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	if err := os.Chtimes(other, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	SweepArchives(dir, time.Hour)

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("old archive should be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("fresh archive should survive: %v", err)
	}
	if _, err := os.Stat(other); err != nil {
		t.Errorf("non-zip files are never touched: %v", err)
	}
}

func TestSweepArchivesMissingDir(t *testing.T) {
	// Must not panic or log-spam when the directory does not exist yet.
	SweepArchives(filepath.Join(t.TempDir(), "nope"), time.Hour)
}

func TestStartRetentionStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		StartRetention(ctx, t.TempDir(), time.Hour, time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("retention loop did not stop on context cancel")
	}
}
