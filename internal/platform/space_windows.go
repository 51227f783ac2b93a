//go:build windows

package platform

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// SpaceGuard reports free and total bytes for a filesystem path, satisfying
// core.FreeSpacer.
type SpaceGuard struct{}

// FreeBytes returns available and total disk space at path (Windows, via
// GetDiskFreeSpaceEx).
func (SpaceGuard) FreeBytes(path string) (free, total uint64, err error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, fmt.Errorf("utf16ptr %q: %w", path, err)
	}

	var freeAvail, totalBytes, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeAvail, &totalBytes, &totalFree); err != nil {
		return 0, 0, fmt.Errorf("GetDiskFreeSpaceEx %q: %w", path, err)
	}

	return freeAvail, totalBytes, nil
}
