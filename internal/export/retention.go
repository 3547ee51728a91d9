package export

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultArchiveRetention is how long produced archives are kept.
	// Archive retention is time-based and independent of session lifetime.
	DefaultArchiveRetention = 48 * time.Hour

	// DefaultRetentionInterval is how often the retention sweep runs.
	DefaultRetentionInterval = 1 * time.Hour
)

// StartRetention runs the archive retention loop until ctx is cancelled.
func StartRetention(ctx context.Context, archivesDir string, maxAge, interval time.Duration) {
	if maxAge <= 0 {
		maxAge = DefaultArchiveRetention
	}
	if interval <= 0 {
		interval = DefaultRetentionInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[retention] archive sweep stopped")
			return
		case <-ticker.C:
			SweepArchives(archivesDir, maxAge)
		}
	}
}

// SweepArchives performs a single retention pass, deleting archives older
// than maxAge. Per-file failures are logged and skipped.
func SweepArchives(archivesDir string, maxAge time.Duration) {
	entries, err := os.ReadDir(archivesDir)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[retention] read archives dir: %v", err)
		}
		return
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".zip") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(archivesDir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Printf("[retention] remove %s: %v", path, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Printf("[retention] removed %d expired archives", removed)
	}
}
