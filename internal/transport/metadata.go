package transport

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// nsecToTime converts the unix-nanos representation MetadataOpts stores
// back into a time.Time for APIs (like SFTP's Chtimes) that want one.
func nsecToTime(nsec int64) time.Time {
	if nsec == 0 {
		return time.Time{}
	}
	return time.Unix(0, nsec)
}

// preallocateLocal best-effort reserves size bytes for dst before the
// streaming write begins, mirroring the teacher's worker.go pre-allocation
// step before copyRegularFile writes.
func preallocateLocal(dst *os.File, size int64) {
	_ = unix.Fallocate(int(dst.Fd()), 0, 0, size)
}

// applyLocalMetadata is the Local transport's post-copy metadata step —
// the supplemented PreserveMode/Times/Owner/Xattr feature recovered from
// worker.go's setFileMetadata/copyXattrs, generalized off FileTask onto
// MetadataOpts.
func applyLocalMetadata(path string, opts MetadataOpts) error {
	if opts.Mode {
		if err := os.Chmod(path, os.FileMode(opts.FileMode).Perm()); err != nil {
			return fmt.Errorf("chmod %s: %w", path, err)
		}
	}

	if opts.Times {
		times := []unix.Timespec{
			unix.NsecToTimespec(opts.AccTime),
			unix.NsecToTimespec(opts.ModTime),
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, path, times, 0); err != nil {
			return fmt.Errorf("utimensat %s: %w", path, err)
		}
	}

	if opts.Xattr {
		copyXattrs(path, path)
	}

	// Ownership last — may fail without CAP_CHOWN; not fatal.
	if opts.Owner {
		_ = os.Chown(path, int(opts.UID), int(opts.GID))
	}

	return nil
}

// copyXattrs copies every extended attribute from srcPath onto dstPath.
// Errors are swallowed per-attribute since xattr support varies widely by
// filesystem.
func copyXattrs(srcPath, dstPath string) {
	sz, err := unix.Listxattr(srcPath, nil)
	if err != nil || sz == 0 {
		return
	}
	buf := make([]byte, sz)
	sz, err = unix.Listxattr(srcPath, buf)
	if err != nil {
		return
	}
	for _, name := range parseXattrNames(buf[:sz]) {
		val, err := getXattr(srcPath, name)
		if err != nil {
			continue
		}
		_ = unix.Setxattr(dstPath, name, val, 0)
	}
}

func getXattr(path, name string) ([]byte, error) {
	sz, err := unix.Getxattr(path, name, nil)
	if err != nil || sz == 0 {
		return nil, err
	}
	buf := make([]byte, sz)
	_, err = unix.Getxattr(path, name, buf)
	return buf, err
}

func parseXattrNames(buf []byte) []string {
	var names []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				names = append(names, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return names
}
