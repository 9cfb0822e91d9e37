//go:build linux

package fs

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// entryTimes reads the birth and access time of an entry. The birth time
// comes from statx when the filesystem records it; otherwise the inode
// change time stands in for it.
func entryTimes(info os.FileInfo, realPath string) entryTimestamps {
	var stx unix.Statx_t
	mask := unix.STATX_BTIME | unix.STATX_ATIME | unix.STATX_CTIME
	if err := unix.Statx(unix.AT_FDCWD, realPath, 0, mask, &stx); err != nil {
		mtime := info.ModTime().UTC()
		return entryTimestamps{creation: mtime, access: mtime}
	}

	ts := entryTimestamps{
		access:   statxTime(stx.Atime),
		creation: statxTime(stx.Ctime),
	}
	if stx.Mask&unix.STATX_BTIME != 0 {
		ts.creation = statxTime(stx.Btime)
	}
	return ts
}

func statxTime(ts unix.StatxTimestamp) time.Time {
	return time.Unix(ts.Sec, int64(ts.Nsec)).UTC()
}

// setEntryTimes applies access and write times, leaving any zero time as
// it is on disk.
func setEntryTimes(realPath string, access, write time.Time) error {
	ts := []unix.Timespec{
		{Nsec: unix.UTIME_OMIT},
		{Nsec: unix.UTIME_OMIT},
	}
	if !access.IsZero() {
		ts[0] = unix.NsecToTimespec(access.UnixNano())
	}
	if !write.IsZero() {
		ts[1] = unix.NsecToTimespec(write.UnixNano())
	}
	if err := unix.UtimesNanoAt(unix.AT_FDCWD, realPath, ts, 0); err != nil {
		return &os.PathError{Op: "utimensat", Path: realPath, Err: err}
	}
	return nil
}
