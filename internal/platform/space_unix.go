//go:build !windows

package platform

import (
	"fmt"
	"syscall"
)

// SpaceGuard reports free and total bytes for a filesystem path, satisfying
// core.FreeSpacer.
type SpaceGuard struct{}

// FreeBytes returns available and total disk space at path (Unix, via
// statfs).
func (SpaceGuard) FreeBytes(path string) (free, total uint64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, fmt.Errorf("statfs %q: %w", path, err)
	}

	return stat.Bavail * uint64(stat.Bsize), stat.Blocks * uint64(stat.Bsize), nil
}
