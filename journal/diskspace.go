package journal

import "golang.org/x/sys/unix"

// freeDiskSpace reports the number of bytes free on the filesystem
// backing dir, using the same statfs syscall gommap's own transitive
// dependency on golang.org/x/sys already pulls into this module's
// graph.
func freeDiskSpace(dir string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
