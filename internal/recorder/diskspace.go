package recorder

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// CheckDiskSpace returns the free space of the filesystem holding dir in MB
// and an error when it is below minMB.
func CheckDiskSpace(dir string, minMB uint64) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, fmt.Errorf("failed to stat %s: %w", dir, err)
	}

	availableMB := (stat.Bavail * uint64(stat.Bsize)) / (1024 * 1024)
	if availableMB < minMB {
		return availableMB, fmt.Errorf("insufficient disk space: %d MB available, %d MB required",
			availableMB, minMB)
	}
	return availableMB, nil
}
