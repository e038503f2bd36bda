//go:build !windows

package vaultfs

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// freeDiskSpace returns the bytes available to the process on the
// filesystem holding path.
func freeDiskSpace(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		// Directory may not exist yet, check its parent.
		if err := unix.Statfs(filepath.Dir(path), &stat); err != nil {
			return 0, fmt.Errorf("vaultfs: failed to get disk stats: %w", err)
		}
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
