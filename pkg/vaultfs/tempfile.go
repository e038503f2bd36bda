package vaultfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultTempTTL is how long a decrypted temp file may sit on disk
// before the startup purge treats it as orphaned.
const DefaultTempTTL = 30 * time.Minute

const tempPrefix = "view-"

// TempFile is a scoped handle over a decrypted copy of a vault item.
// Close deletes the file; callers must Close when viewing ends.
type TempFile struct {
	path string

	once sync.Once
	err  error
}

// Path returns the location of the decrypted copy.
func (t *TempFile) Path() string {
	return t.path
}

// Close removes the decrypted copy from disk. Safe to call more than
// once.
func (t *TempFile) Close() error {
	t.once.Do(func() {
		if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
			t.err = fmt.Errorf("vaultfs: failed to remove temp file: %w", err)
		}
	})
	return t.err
}

// PurgeStaleTemp removes decrypted temp files older than ttl. Files
// left behind by a killed process are cleaned up here on the next
// start. Returns the number of files removed.
func (m *Manager) PurgeStaleTemp(ctx context.Context, ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(m.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("vaultfs: failed to scan temp dir: %w", err)
	}

	cutoff := time.Now().Add(-ttl)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.tempDir, entry.Name())
		if err := os.Remove(path); err != nil {
			m.log.Warn(ctx, "failed to purge stale temp file", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
