// Package diskstatus reports available disk space for a path, for the
// status endpoints of services that write to disk.
package diskstatus

import (
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// AvailableBytes returns the free space available to an unprivileged
// process at path.
func AvailableBytes(path string) (uint64, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return 0, xerrors.Errorf("statfs %s: %w", path, err)
	}
	return fs.Bavail * uint64(fs.Bsize), nil
}
